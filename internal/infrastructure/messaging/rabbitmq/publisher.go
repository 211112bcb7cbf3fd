package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

const (
	DefaultExchange = "ressys.events"

	RoutingKeyDatasetBuilt = "dataset.built"

	// Wait window for Return / Confirm
	publishWait = 150 * time.Millisecond
)

// DatasetBuiltEvent announces a finished build to downstream trainers.
type DatasetBuiltEvent struct {
	RunID      string           `json:"run_id"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
	DTs        []string         `json:"dts"`
	Counts     domain.RunCounts `json:"counts"`
	FinishedAt time.Time        `json:"finished_at"`
}

func NewDatasetBuiltEvent(run *domain.Run) DatasetBuiltEvent {
	ev := DatasetBuiltEvent{
		RunID:  run.ID,
		From:   run.From,
		To:     run.To,
		DTs:    run.DTs,
		Counts: run.Counts,
	}
	if ev.DTs == nil {
		ev.DTs = []string{}
	}
	if run.FinishedAt != nil {
		ev.FinishedAt = *run.FinishedAt
	}
	return ev
}

type Publisher struct {
	url      string
	exchange string

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	p := &Publisher{
		url:      url,
		exchange: exchange,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	// enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch

	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))

	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	return nil
}

// PublishDatasetBuilt publishes dataset.built with the run id as message id,
// so consumers can drop duplicates.
func (p *Publisher) PublishDatasetBuilt(ctx context.Context, run *domain.Run) error {
	body, err := json.Marshal(NewDatasetBuiltEvent(run))
	if err != nil {
		return err
	}
	return p.PublishEvent(ctx, RoutingKeyDatasetBuilt, run.ID, body)
}

// PublishEvent publishes a JSON body to the topic exchange with mandatory + confirms.
// messageID must be stable across retries.
func (p *Publisher) PublishEvent(ctx context.Context, routingKey, messageID string, body []byte) error {
	if routingKey == "" {
		return errors.New("missing routingKey")
	}
	if strings.TrimSpace(messageID) == "" {
		return errors.New("missing messageID")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return errors.New("publisher channel not ready")
	}

	err := p.ch.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    messageID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return err
	}

	// Wait for either Return (NO_ROUTE) or Confirm
	select {
	case ret := <-p.returnCh:
		return errors.New("NO_ROUTE: " + ret.RoutingKey)
	case conf := <-p.confirmCh:
		if !conf.Ack {
			return errors.New("publish nack")
		}
		return nil
	case <-time.After(publishWait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/application/pipeline"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/metrics"
)

const (
	RoutingKeyBuildRequested = "dataset.build.requested"

	queueName      = "dataset-service.build-requests"
	retryQueueName = "dataset-service.build-requests.retry"
	dlxName        = "dataset.dlx"
	dlqName        = "dataset-service.build-requests.dlq"

	maxRetries = 3
)

// BuildRequestMessage asks for a dataset build over [from, to).
type BuildRequestMessage struct {
	RunID   string    `json:"run_id"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	TraceID string    `json:"trace_id"`
}

// Submitter queues builds; implemented by *pipeline.Service.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.RunRequest) (*domain.Run, error)
}

// Consumer turns dataset.build.requested messages into queued runs.
type Consumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	queue    string
	exchange string
	svc      Submitter

	// retry republishes a failed message to the retry queue
	retry func(ctx context.Context, msg amqp.Publishing) error
}

func NewConsumer(rabbitURL, exchange string, svc Submitter) (*Consumer, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch, exchange); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	c := &Consumer{
		conn:     conn,
		channel:  ch,
		queue:    queueName,
		exchange: exchange,
		svc:      svc,
	}
	c.retry = func(ctx context.Context, msg amqp.Publishing) error {
		return ch.PublishWithContext(ctx, "", retryQueueName, false, false, msg)
	}
	return c, nil
}

// declareTopology sets up main queue -> retry queue (TTL) -> main queue, and
// rejected messages -> DLX -> DLQ.
func declareTopology(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(dlxName, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlq: %w", err)
	}
	if err := ch.QueueBind(dlqName, "", dlxName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dlq: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": dlxName,
	}); err != nil {
		return fmt.Errorf("failed to declare main queue: %w", err)
	}
	if _, err := ch.QueueDeclare(retryQueueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queueName,
		"x-message-ttl":             int32(30000),
	}); err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	if err := ch.QueueBind(queueName, RoutingKeyBuildRequested, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to %s: %w", RoutingKeyBuildRequested, err)
	}
	return nil
}

// Start begins consuming messages until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	// one build request at a time
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("consumer shutting down")
				return
			case msg, ok := <-msgs:
				if !ok {
					log.Warn().Msg("consumer channel closed")
					return
				}
				c.handleMessage(ctx, msg)
			}
		}
	}()

	log.Info().
		Str("queue", c.queue).
		Str("exchange", c.exchange).
		Msg("build request consumer started")
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	l := log.With().Str("message_id", msg.MessageId).Logger()

	var req BuildRequestMessage
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		l.Error().Err(err).Msg("failed to unmarshal build request")
		c.settle(msg, "poison", msg.Nack(false, false))
		return
	}
	if req.RunID == "" {
		req.RunID = msg.MessageId
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	run, err := c.svc.Submit(sctx, pipeline.RunRequest{
		ID:      req.RunID,
		From:    req.From,
		To:      req.To,
		Trigger: pipeline.TriggerRabbit,
	})
	if err == nil {
		l.Info().Str("run_id", run.ID).Str("trace_id", req.TraceID).Msg("build request queued")
		c.settle(msg, "queued", msg.Ack(false))
		return
	}

	var ae *domain.AppError
	if errors.As(err, &ae) {
		switch ae.Code {
		case domain.CodeConflict:
			// redelivery of a request we already accepted
			l.Warn().Str("run_id", req.RunID).Msg("duplicate build request, dropping")
			c.settle(msg, "duplicate", msg.Ack(false))
			return
		case domain.CodeValidation:
			l.Error().Err(err).Msg("invalid build request")
			c.settle(msg, "invalid", msg.Nack(false, false))
			return
		}
	}

	retryCount := 0
	if v, ok := msg.Headers["x-retry-count"].(int32); ok {
		retryCount = int(v)
	}
	if retryCount >= maxRetries {
		l.Error().Err(err).Int("retry_count", retryCount).Msg("max retries reached, sending to DLQ")
		c.settle(msg, "dead_lettered", msg.Nack(false, false))
		return
	}

	headers := make(amqp.Table, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retry-count"] = int32(retryCount + 1)

	if pubErr := c.retry(sctx, amqp.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		MessageId:    msg.MessageId,
		DeliveryMode: amqp.Persistent,
	}); pubErr != nil {
		l.Error().Err(pubErr).Msg("failed to publish to retry queue")
		c.settle(msg, "dead_lettered", msg.Nack(false, false))
		return
	}
	l.Warn().Err(err).Int("retry_count", retryCount).Msg("submit failed, scheduling retry")
	c.settle(msg, "retried", msg.Ack(false))
}

func (c *Consumer) settle(msg amqp.Delivery, outcome string, err error) {
	metrics.RecordTriggerConsumed(outcome)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.MessageId).Msg("failed to settle message")
	}
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// historyBatch bounds the number of commands per pipeline round trip.
const historyBatch = 500

// HistoryStore exports customer histories for online feature lookup.
type HistoryStore struct {
	c   *Client
	ttl time.Duration
}

func NewHistoryStore(c *Client, ttl time.Duration) *HistoryStore {
	return &HistoryStore{c: c, ttl: ttl}
}

func HistoryKey(customerID int64) string {
	return fmt.Sprintf("history:customer:%d", customerID)
}

func (s *HistoryStore) PutHistories(ctx context.Context, histories []domain.CustomerHistory) error {
	for start := 0; start < len(histories); start += historyBatch {
		end := min(start+historyBatch, len(histories))
		_, err := s.c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, h := range histories[start:end] {
				b, err := json.Marshal(h.Actions)
				if err != nil {
					return fmt.Errorf("encode history %d: %w", h.CustomerID, err)
				}
				p.Set(ctx, HistoryKey(h.CustomerID), b, s.ttl)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("put histories: %w", err)
		}
	}
	return nil
}

// GetHistory returns the stored actions of a customer, newest first.
func (s *HistoryStore) GetHistory(ctx context.Context, customerID int64) ([]domain.Action, error) {
	var actions []domain.Action
	ok, err := s.c.getJSON(ctx, HistoryKey(customerID), &actions)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound("history not found")
	}
	return actions, nil
}

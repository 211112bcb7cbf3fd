package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

const runRetention = 30 * 24 * time.Hour

// RunStore keeps run records so status can be polled from any instance.
type RunStore struct {
	c *Client
}

func NewRunStore(c *Client) *RunStore { return &RunStore{c: c} }

func RunKey(id string) string { return "dataset:run:" + id }

func (s *RunStore) Save(ctx context.Context, run *domain.Run) error {
	if err := s.c.setJSON(ctx, RunKey(run.ID), run, runRetention); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*domain.Run, error) {
	var run domain.Run
	ok, err := s.c.getJSON(ctx, RunKey(id), &run)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if !ok {
		return nil, domain.ErrNotFound("run not found")
	}
	return &run, nil
}

package pipeline

import (
	"context"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

type NoopPublisher struct{}

func (NoopPublisher) PublishDatasetBuilt(ctx context.Context, run *domain.Run) error { return nil }

type noopLocker struct{}

func (noopLocker) TryLock(ctx context.Context, owner string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

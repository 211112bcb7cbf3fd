package pipeline

import (
	"context"
	"time"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

type Clock interface {
	Now() time.Time
}

// Source loads the raw tables for the half-open window [from, to).
type Source interface {
	Load(ctx context.Context, from, to time.Time) (Inputs, error)
}

// DatasetSink persists the partitioned training table.
type DatasetSink interface {
	Name() string
	WritePartitions(ctx context.Context, runID string, parts []domain.Partition) error
}

// HistoryStore publishes customer histories for online serving.
type HistoryStore interface {
	PutHistories(ctx context.Context, histories []domain.CustomerHistory) error
}

type RunStore interface {
	Save(ctx context.Context, run *domain.Run) error
	Get(ctx context.Context, id string) (*domain.Run, error)
}

// RunLocker serialises builds across instances. TryLock returns a
// domain.CodeConflict error when another build holds the lock.
type RunLocker interface {
	TryLock(ctx context.Context, owner string) (unlock func(context.Context) error, err error)
}

type EventPublisher interface {
	PublishDatasetBuilt(ctx context.Context, run *domain.Run) error
}

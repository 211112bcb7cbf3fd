package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/application/pipeline"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// Submitter queues a build; the service runs it once the build lock is free.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.RunRequest) (*domain.Run, error)
}

type Clock interface {
	Now() time.Time
}

// Scheduler builds the previous UTC day on a cron schedule.
type Scheduler struct {
	cron  *cron.Cron
	svc   Submitter
	clock Clock
}

func New(expr string, svc Submitter, clock Clock) (*Scheduler, error) {
	s := &Scheduler{
		cron:  cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		svc:   svc,
		clock: clock,
	}
	if _, err := s.cron.AddFunc(expr, s.runDaily); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Msg("dataset scheduler started")
}

// Stop stops scheduling and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) runDaily() {
	req := DailyRequest(s.clock.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run, err := s.svc.Submit(ctx, req)
	if err != nil {
		if domain.IsCode(err, domain.CodeConflict) {
			log.Info().Str("run_id", req.ID).Msg("daily build already done or in progress")
			return
		}
		log.Error().Err(err).Str("run_id", req.ID).Msg("scheduled dataset build not queued")
		return
	}
	log.Info().Str("run_id", run.ID).Time("from", run.From).Msg("scheduled dataset build queued")
}

// DailyRequest covers the UTC day before now. The run id is derived from the
// day so a second trigger for the same day is rejected as a conflict.
func DailyRequest(now time.Time) pipeline.RunRequest {
	now = now.UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -1)
	return pipeline.RunRequest{
		ID:      "daily-" + domain.PartitionDate(from),
		From:    from,
		To:      to,
		Trigger: pipeline.TriggerSchedule,
	}
}

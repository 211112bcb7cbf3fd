package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/metrics"
)

const (
	TriggerHTTP     = "http"
	TriggerRabbit   = "rabbitmq"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// RunRequest asks for a build over [From, To). ID is optional; an empty ID
// gets a fresh uuid.
type RunRequest struct {
	ID      string
	From    time.Time
	To      time.Time
	Trigger string
}

func (r RunRequest) validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return domain.ErrValidation("from and to are required")
	}
	if !r.To.After(r.From) {
		return domain.ErrValidationMeta("to must be after from", map[string]string{
			"from": r.From.UTC().Format(time.RFC3339),
			"to":   r.To.UTC().Format(time.RFC3339),
		})
	}
	return nil
}

// Deps are the collaborators of a Service. Histories, Lock and Publisher are
// optional.
type Deps struct {
	Source    Source
	Sinks     []DatasetSink
	Histories HistoryStore
	Runs      RunStore
	Lock      RunLocker
	Publisher EventPublisher
	Clock     Clock

	// A submitted run that finds the build lock busy stays queued and retries
	// every LockRetry, for at most QueueTimeout. Zero picks the defaults.
	LockRetry    time.Duration
	QueueTimeout time.Duration
}

var ErrShuttingDown = errors.New("dataset service is shutting down")

type Service struct {
	source    Source
	sinks     []DatasetSink
	histories HistoryStore
	runs      RunStore
	lock      RunLocker
	pub       EventPublisher
	clock     Clock

	builder      *Builder
	runTimeout   time.Duration
	lockRetry    time.Duration
	queueTimeout time.Duration

	// background builds started by Submit
	baseCtx  context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	inflight map[string]struct{}
	closing  bool
}

func New(d Deps, maxHistory int, runTimeout time.Duration) *Service {
	if d.Lock == nil {
		d.Lock = noopLocker{}
	}
	if d.Publisher == nil {
		d.Publisher = NoopPublisher{}
	}
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}
	if d.LockRetry <= 0 {
		d.LockRetry = 15 * time.Second
	}
	if d.QueueTimeout <= 0 {
		d.QueueTimeout = 2 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		source:       d.Source,
		sinks:        d.Sinks,
		histories:    d.Histories,
		runs:         d.Runs,
		lock:         d.Lock,
		pub:          d.Publisher,
		clock:        d.Clock,
		builder:      NewBuilder(maxHistory),
		runTimeout:   runTimeout,
		lockRetry:    d.LockRetry,
		queueTimeout: d.QueueTimeout,
		baseCtx:      ctx,
		cancel:       cancel,
		inflight:     make(map[string]struct{}),
	}
}

// Submit records a queued run and builds it in the background. A busy build
// lock keeps the run queued until the lock frees up or QueueTimeout passes.
//
// An explicit id that is already known is a conflict, unless the run was
// abandoned by a process that died mid-build.
func (s *Service) Submit(ctx context.Context, req RunRequest) (*domain.Run, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	if req.Trigger == "" {
		req.Trigger = TriggerCLI
	}

	if err := s.track(req.ID); err != nil {
		return nil, err
	}
	run, err := s.enqueue(ctx, req)
	if err != nil {
		s.untrack(req.ID)
		return nil, err
	}

	go func() {
		defer s.untrack(req.ID)
		if _, err := s.run(s.baseCtx, req, true); err != nil {
			zlog.Warn().Err(err).Str("run_id", req.ID).Msg("background dataset build failed")
		}
	}()

	snapshot := *run
	return &snapshot, nil
}

func (s *Service) enqueue(ctx context.Context, req RunRequest) (*domain.Run, error) {
	existing, err := s.runs.Get(ctx, req.ID)
	switch {
	case err == nil:
		if !s.abandoned(existing) {
			return nil, domain.ErrConflictMeta("run already exists", map[string]string{
				"status": string(existing.Status),
			})
		}
		zlog.Warn().
			Str("run_id", existing.ID).
			Str("status", string(existing.Status)).
			Msg("re-queueing abandoned run")
	case !domain.IsCode(err, domain.CodeNotFound):
		return nil, fmt.Errorf("load run: %w", err)
	}

	run := s.newRun(req)
	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("save queued run: %w", err)
	}
	return run, nil
}

// abandoned reports whether a non-terminal run has outlived every build that
// could still own it. Builds in this process are tracked and never abandoned.
func (s *Service) abandoned(run *domain.Run) bool {
	if run.Status.Terminal() {
		return false
	}
	now := s.clock.Now()
	if run.Status == domain.RunRunning && run.StartedAt != nil {
		return now.Sub(*run.StartedAt) > s.runTimeout
	}
	return now.Sub(run.CreatedAt) > s.queueTimeout+s.runTimeout
}

func (s *Service) track(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrShuttingDown
	}
	if _, ok := s.inflight[id]; ok {
		return domain.ErrConflict("run already exists")
	}
	s.inflight[id] = struct{}{}
	s.wg.Add(1)
	return nil
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown stops accepting submissions and waits for background builds until
// ctx is done. Builds still going by then are cancelled and recorded as failed.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
	}

	s.cancel()
	// cancelled builds still save their failed status
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		zlog.Warn().Msg("background builds did not stop after cancel")
	}
	return ctx.Err()
}

// Get returns a run by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Run, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrValidation("missing run id")
	}
	return s.runs.Get(ctx, id)
}

// Run builds the dataset for req synchronously and returns the final run record.
// A failure in any step fails the whole run; partial output is not reported
// as success. A busy build lock returns a conflict and records nothing.
func (s *Service) Run(ctx context.Context, req RunRequest) (*domain.Run, error) {
	return s.run(ctx, req, false)
}

func (s *Service) run(ctx context.Context, req RunRequest, wait bool) (*domain.Run, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	if req.Trigger == "" {
		req.Trigger = TriggerCLI
	}

	log := zlog.With().Str("run_id", req.ID).Str("trigger", req.Trigger).Logger()

	run, err := s.runs.Get(ctx, req.ID)
	if err != nil {
		if !domain.IsCode(err, domain.CodeNotFound) {
			return nil, fmt.Errorf("load run: %w", err)
		}
		run = s.newRun(req)
	}
	if run.Status.Terminal() {
		return nil, domain.ErrConflict("run already finished")
	}

	unlock, err := s.acquire(ctx, run.ID, wait, log)
	if err != nil {
		if wait || !domain.IsCode(err, domain.CodeConflict) {
			s.finish(run, req.Trigger, err, log)
		}
		return run, err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			log.Warn().Err(err).Msg("release run lock failed")
		}
	}()

	started := s.clock.Now().UTC()
	run.Status = domain.RunRunning
	run.StartedAt = &started
	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("save running run: %w", err)
	}

	metrics.RunStarted()
	defer metrics.RunFinished()

	log.Info().
		Time("from", run.From).
		Time("to", run.To).
		Msg("dataset build started")

	rctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	err = s.execute(rctx, run, log)
	s.finish(run, req.Trigger, err, log)
	if err != nil {
		return run, err
	}

	if err := s.pub.PublishDatasetBuilt(ctx, run); err != nil {
		// the dataset is already durable; consumers can poll the run status
		log.Warn().Err(err).Msg("publish dataset.built failed")
	}
	return run, nil
}

// acquire takes the build lock. With wait set, a busy lock is polled every
// lockRetry until it frees up, ctx ends or queueTimeout passes.
func (s *Service) acquire(ctx context.Context, owner string, wait bool, log zerolog.Logger) (func(context.Context) error, error) {
	unlock, err := s.lock.TryLock(ctx, owner)
	if err == nil || !wait || !domain.IsCode(err, domain.CodeConflict) {
		return unlock, err
	}
	log.Info().Dur("retry_every", s.lockRetry).Msg("build lock busy, run stays queued")

	deadline := time.NewTimer(s.queueTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.lockRetry)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for build lock: %w", ctx.Err())
		case <-deadline.C:
			return nil, domain.ErrConflict("timed out waiting for build lock")
		case <-tick.C:
			unlock, err = s.lock.TryLock(ctx, owner)
			if err == nil || !domain.IsCode(err, domain.CodeConflict) {
				return unlock, err
			}
		}
	}
}

func (s *Service) execute(ctx context.Context, run *domain.Run, log zerolog.Logger) error {
	in, err := s.source.Load(ctx, run.From, run.To)
	if err != nil {
		return fmt.Errorf("load inputs: %w", err)
	}

	ds, err := s.builder.Build(ctx, in)
	if err != nil {
		return err
	}

	run.Counts = ds.Counts(in)
	run.DTs = ds.DTs()
	recordStages(ds)

	log.Info().
		Int("actions", run.Counts.Actions).
		Int("exploded_impressions", run.Counts.ExplodedImpressions).
		Int("customers", run.Counts.Customers).
		Int("training_rows", run.Counts.TrainingRows).
		Strs("dts", run.DTs).
		Msg("dataset built")

	for _, sink := range s.sinks {
		start := time.Now()
		err := sink.WritePartitions(ctx, run.ID, ds.Partitions)
		metrics.RecordSinkWrite(sink.Name(), time.Since(start), err)
		if err != nil {
			return fmt.Errorf("write partitions to %s: %w", sink.Name(), err)
		}
		log.Debug().Str("sink", sink.Name()).Dur("took", time.Since(start)).Msg("partitions written")
	}

	if s.histories != nil {
		if err := s.histories.PutHistories(ctx, ds.Histories); err != nil {
			return fmt.Errorf("store histories: %w", err)
		}
	}
	return nil
}

func (s *Service) finish(run *domain.Run, trigger string, err error, log zerolog.Logger) {
	now := s.clock.Now().UTC()
	run.FinishedAt = &now
	if err != nil {
		run.Status = domain.RunFailed
		run.Error = err.Error()
	} else {
		run.Status = domain.RunSucceeded
		run.Error = ""
	}

	// the caller's context may be the one that just expired
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if saveErr := s.runs.Save(ctx, run); saveErr != nil {
		log.Error().Err(saveErr).Msg("save finished run failed")
	}

	var took time.Duration
	if run.StartedAt != nil {
		took = now.Sub(*run.StartedAt)
	}
	metrics.RecordRun(trigger, string(run.Status), took)

	if err != nil {
		ev := log.Error().Err(err)
		var ae *domain.AppError
		if errors.As(err, &ae) {
			ev = ev.Str("code", string(ae.Code)).Interface("meta", ae.Meta)
		}
		ev.Msg("dataset build failed")
		return
	}
	log.Info().Dur("took", took).Int("partitions", run.Counts.Partitions).Msg("dataset build succeeded")
}

func (s *Service) newRun(req RunRequest) *domain.Run {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerCLI
	}
	return &domain.Run{
		ID:        req.ID,
		Status:    domain.RunQueued,
		Trigger:   trigger,
		From:      req.From.UTC(),
		To:        req.To.UTC(),
		CreatedAt: s.clock.Now().UTC(),
	}
}

func recordStages(ds *Dataset) {
	metrics.RecordStageRows("actions", len(ds.Actions))
	metrics.RecordStageRows("exploded_impressions", len(ds.Exploded))
	metrics.RecordStageRows("customer_histories", len(ds.Histories))
	metrics.RecordStageRows("training_rows", len(ds.Rows))
	metrics.RecordHistoryTruncated(ds.TruncatedHistories)
}

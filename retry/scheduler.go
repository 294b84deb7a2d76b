// Package retry implements the auto-retry scheduler: a periodic tick
// that finds eligible NeedsRetry jobs, enforces per-job and
// per-pipeline budgets, and re-dispatches at most one retry per tick
// through the normal retry paths.
package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/backoff"
	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
)

// JobQueue is what the scheduler needs from the job queue. Implemented
// by queue.Queue.
type JobQueue interface {
	List(ctx context.Context) ([]job.Job, error)
	Retry(ctx context.Context, jobID id.JobID, force bool) error
	RecordAutoRetry(ctx context.Context, jobID id.JobID) error
	SetRetryAt(ctx context.Context, jobID id.JobID, retryAt time.Time) error
}

// PipelineService is what the scheduler needs from the orchestrator.
// Implemented by pipeline.Orchestrator.
type PipelineService interface {
	List(ctx context.Context) ([]pipeline.Pipeline, error)
	RetryStep(ctx context.Context, pipelineID id.PipelineID, stepID id.StepID, force bool) error
	RecordAutoRetry(ctx context.Context, pipelineID id.PipelineID) error
}

// Emitter receives retry-scheduled notifications. Best-effort.
type Emitter interface {
	RetryScheduled(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time)
}

// NopEmitter discards all notifications.
type NopEmitter struct{}

func (NopEmitter) RetryScheduled(context.Context, *job.Job, int, time.Time) {}

// Tick abort/act reasons reported in Result.
const (
	ReasonDisabled     = "disabled"
	ReasonWorkerBusy   = "worker_busy"
	ReasonBackfilled   = "backfilled"
	ReasonNoCandidates = "no_candidates"
	ReasonDispatched   = "dispatched"
)

// Result describes what one tick did.
type Result struct {
	Acted      bool
	JobID      id.JobID
	PipelineID id.PipelineID
	Reason     string
}

// cronParser supports standard 5-field cron and descriptors like "@every 5s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses the scheduler's tick schedule expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler periodically re-dispatches eligible NeedsRetry jobs. At
// most one retry is dispatched per tick, preserving single-concurrency.
type Scheduler struct {
	jobs      JobQueue
	pipelines PipelineService
	settings  conductor.SettingsStore
	audit     AuditLog
	emitter   Emitter
	logger    *slog.Logger
	schedule  cronlib.Schedule
	now       func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithEmitter sets the retry-scheduled emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

// WithAuditLog sets the audit log appender.
func WithAuditLog(a AuditLog) Option {
	return func(s *Scheduler) { s.audit = a }
}

// WithSchedule sets the tick schedule. Parse expressions or
// descriptors (e.g. "@every 5s") with ParseSchedule.
func WithSchedule(schedule cronlib.Schedule) Option {
	return func(s *Scheduler) {
		if schedule != nil {
			s.schedule = schedule
		}
	}
}

// WithNow overrides the clock. Used in tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates an auto-retry scheduler. The default schedule
// ticks every five seconds.
func NewScheduler(jobs JobQueue, pipelines PipelineService, settings conductor.SettingsStore, opts ...Option) *Scheduler {
	schedule, _ := ParseSchedule(conductor.DefaultConfig().RetrySchedule)
	s := &Scheduler{
		jobs:      jobs,
		pipelines: pipelines,
		settings:  settings,
		audit:     NopAuditLog{},
		emitter:   NopEmitter{},
		logger:    slog.Default(),
		schedule:  schedule,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. Idempotent.
func (s *Scheduler) Start(_ context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.tickLoop()
	return nil
}

// Stop signals the tick loop to exit and waits for it. Idempotent.
func (s *Scheduler) Stop(_ context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.wg.Wait()
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(s.now())
		select {
		case <-s.stopCh:
			return
		case <-time.After(time.Until(next)):
		}

		if _, err := s.Tick(context.Background()); err != nil {
			// A failed tick is abandoned; the next tick retries.
			s.logger.Error("retry tick failed", slog.String("error", err.Error()))
		}
	}
}

// Tick runs one scheduler pass:
//
//  1. abort when auto-retry is disabled or the worker is busy;
//  2. backfill retry windows missing from NeedsRetry jobs, without
//     acting further that tick;
//  3. filter to jobs whose window elapsed and whose budgets (per-job,
//     and per-pipeline when bound) are not exhausted;
//  4. dispatch the candidate with the earliest retry_at (job id
//     tiebreak) through the normal retry paths, bump the attempt
//     counters, and append one audit line.
func (s *Scheduler) Tick(ctx context.Context) (Result, error) {
	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		return Result{}, err
	}
	if !settings.AutoRetryEnabled {
		return Result{Reason: ReasonDisabled}, nil
	}

	jobs, err := s.jobs.List(ctx)
	if err != nil {
		return Result{}, err
	}

	var needsRetry []job.Job
	for _, j := range jobs {
		if j.Status == job.StatusRunning {
			return Result{Reason: ReasonWorkerBusy}, nil
		}
		if j.Status == job.StatusNeedsRetry {
			needsRetry = append(needsRetry, j)
		}
	}

	now := s.now()

	// Backfill missing retry windows first; act on the next tick.
	backfilled := false
	for _, j := range needsRetry {
		if j.RetryAt != nil {
			continue
		}
		retryAt := backoff.RetryAt(now, j.RetryAfterSeconds, j.AutoRetryAttemptCount+1, settings)
		if err := s.jobs.SetRetryAt(ctx, j.ID, retryAt); err != nil {
			return Result{}, err
		}
		backfilled = true
	}
	if backfilled {
		return Result{Reason: ReasonBackfilled}, nil
	}

	pipelines, err := s.pipelines.List(ctx)
	if err != nil {
		return Result{}, err
	}
	byPipeline := make(map[id.PipelineID]pipeline.Pipeline, len(pipelines))
	for _, p := range pipelines {
		byPipeline[p.ID] = p
	}

	var pick *job.Job
	for i := range needsRetry {
		j := &needsRetry[i]
		if j.RetryAt == nil || j.RetryAt.After(now) {
			continue
		}
		if j.AutoRetryAttemptCount >= settings.AutoRetryMaxPerJob {
			continue
		}
		if !j.PipelineID.IsNil() {
			p, ok := byPipeline[j.PipelineID]
			if !ok || p.AutoRetryAttemptCount >= settings.AutoRetryMaxPerPipeline {
				continue
			}
		}
		if pick == nil ||
			j.RetryAt.Before(*pick.RetryAt) ||
			(j.RetryAt.Equal(*pick.RetryAt) && j.ID.String() < pick.ID.String()) {
			pick = j
		}
	}
	if pick == nil {
		return Result{Reason: ReasonNoCandidates}, nil
	}

	if err := s.dispatch(ctx, pick, byPipeline); err != nil {
		return Result{}, err
	}

	attempt := pick.AutoRetryAttemptCount + 1
	entry := AuditEntry{
		Timestamp:   now,
		JobID:       pick.ID,
		PipelineID:  pick.PipelineID,
		Attempt:     attempt,
		NextRetryAt: *pick.RetryAt,
	}
	if err := s.audit.AppendRetryAudit(ctx, entry); err != nil {
		s.logger.Warn("audit append failed", slog.String("error", err.Error()))
	}

	s.logger.Info("auto-retry dispatched",
		slog.String("job_id", pick.ID.String()),
		slog.Int("attempt", attempt),
	)
	s.emitter.RetryScheduled(ctx, pick, attempt, *pick.RetryAt)

	return Result{
		Acted:      true,
		JobID:      pick.ID,
		PipelineID: pick.PipelineID,
		Reason:     ReasonDispatched,
	}, nil
}

// dispatch re-queues the picked job. Pipeline-bound jobs go through the
// pipeline's step-retry operation so current_step_index and status stay
// consistent; standalone jobs use the plain retry path. Attempt
// counters are bumped afterwards.
func (s *Scheduler) dispatch(ctx context.Context, j *job.Job, byPipeline map[id.PipelineID]pipeline.Pipeline) error {
	if !j.PipelineID.IsNil() {
		p := byPipeline[j.PipelineID]
		stepID := id.Nil
		for _, step := range p.Steps {
			if step.JobID == j.ID {
				stepID = step.ID
				break
			}
		}
		if !stepID.IsNil() {
			if err := s.pipelines.RetryStep(ctx, p.ID, stepID, false); err != nil {
				return err
			}
			if err := s.jobs.RecordAutoRetry(ctx, j.ID); err != nil {
				return err
			}
			return s.pipelines.RecordAutoRetry(ctx, p.ID)
		}
		// Binding was discarded by a later step retry; fall through to
		// the standalone path.
	}

	if err := s.jobs.Retry(ctx, j.ID, false); err != nil {
		return err
	}
	return s.jobs.RecordAutoRetry(ctx, j.ID)
}

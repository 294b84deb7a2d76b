// Package queue owns the job lifecycle: enqueueing, listing, canceling,
// retrying, and the single background worker that executes queued jobs
// one at a time through the process execution adapter.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/identifier"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/template"
)

// ReconcileFunc is invoked after a job reaches a terminal status so the
// pipeline orchestrator can react. The job id is an optimization hint.
type ReconcileFunc func(ctx context.Context, triggeringJobID id.JobID)

// Emitter receives job lifecycle notifications. Emissions are
// best-effort and must never fail a transition.
type Emitter interface {
	// JobSucceeded fires after a job transitions to Succeeded.
	JobSucceeded(ctx context.Context, j *job.Job)

	// JobFailed fires after a job transitions to Failed or Canceled.
	JobFailed(ctx context.Context, j *job.Job)

	// JobRetryPending fires after a job transitions to NeedsRetry, with
	// its retry window already computed.
	JobRetryPending(ctx context.Context, j *job.Job)
}

// NopEmitter discards all notifications.
type NopEmitter struct{}

func (NopEmitter) JobSucceeded(context.Context, *job.Job)    {}
func (NopEmitter) JobFailed(context.Context, *job.Job)       {}
func (NopEmitter) JobRetryPending(context.Context, *job.Job) {}

// Queue is the single-worker job queue and executor. All mutations
// serialize through one lock; the jobs document on disk is the source
// of truth, reloaded at the start of every state-reading operation.
type Queue struct {
	store     job.Store
	settings  conductor.SettingsStore
	runner    job.Runner
	templates *template.Registry
	emitter   Emitter
	logger    *slog.Logger
	reconcile ReconcileFunc

	pollInterval time.Duration
	limiter      *rate.Limiter

	mu sync.Mutex

	// cancelRequested records cancellation intents for jobs that were
	// Running when Cancel was called, consulted when their outcome is
	// applied. Not persisted: a crash mid-execution resets the job to
	// Queued anyway.
	cancelRequested map[id.JobID]bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the queue's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) Option {
	return func(q *Queue) { q.emitter = e }
}

// WithReconcile sets the callback invoked after terminal transitions.
func WithReconcile(fn ReconcileFunc) Option {
	return func(q *Queue) { q.reconcile = fn }
}

// WithPollInterval sets how often the worker polls for queued jobs.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithTaskMinInterval enforces a minimum interval between consecutive
// task launches, throttling pressure on upstream services.
func WithTaskMinInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// New creates a job queue. The worker does not run until Start.
func New(store job.Store, settings conductor.SettingsStore, runner job.Runner, templates *template.Registry, opts ...Option) *Queue {
	q := &Queue{
		store:           store,
		settings:        settings,
		runner:          runner,
		templates:       templates,
		emitter:         NopEmitter{},
		logger:          slog.Default(),
		pollInterval:    500 * time.Millisecond,
		cancelRequested: make(map[id.JobID]bool),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates the template and business key, appends a Queued
// job, and persists it. The worker picks it up on its next poll.
func (q *Queue) Enqueue(ctx context.Context, templateID, businessKey string, params map[string]any) (job.Job, error) {
	norm := identifier.Normalize(businessKey)
	if !norm.Valid() {
		return job.Job{}, fmt.Errorf("%w: %v", conductor.ErrInvalidKey, norm.Err())
	}
	normalized, err := q.templates.NormalizeParams(templateID, params)
	if err != nil {
		return job.Job{}, err
	}
	return q.append(ctx, templateID, norm.Canonical, normalized, id.Nil)
}

// EnqueueBound appends a Queued job bound to a pipeline. The caller has
// already normalized the business key and params at pipeline creation.
func (q *Queue) EnqueueBound(ctx context.Context, templateID, businessKey string, params map[string]int, pipelineID id.PipelineID) (job.Job, error) {
	return q.append(ctx, templateID, businessKey, params, pipelineID)
}

func (q *Queue) append(ctx context.Context, templateID, businessKey string, params map[string]int, pipelineID id.PipelineID) (job.Job, error) {
	j := job.Job{
		Entity:      conductor.NewEntity(),
		ID:          id.NewJobID(),
		TemplateID:  templateID,
		BusinessKey: businessKey,
		Params:      params,
		Status:      job.StatusQueued,
		PipelineID:  pipelineID,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		return job.Job{}, err
	}
	jobs = append(jobs, j)
	if err := q.store.SaveJobs(ctx, jobs); err != nil {
		return job.Job{}, err
	}

	q.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("template_id", templateID),
		slog.String("business_key", businessKey),
	)
	return j, nil
}

// List returns all jobs, reloaded from the store, sorted by updated_at
// descending with job id as tiebreaker so ordering is deterministic for
// identical timestamps.
func (q *Queue) List(ctx context.Context) ([]job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return jobs, nil
}

// Get returns one job by id.
func (q *Queue) Get(ctx context.Context, jobID id.JobID) (job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		return job.Job{}, err
	}
	if j := findJob(jobs, jobID); j != nil {
		return *j, nil
	}
	return job.Job{}, fmt.Errorf("%w: %s", conductor.ErrJobNotFound, jobID)
}

// Cancel cancels a job. Queued jobs transition directly to Canceled;
// Running jobs record a cancellation intent, get a best-effort kill,
// and are marked Canceled regardless — the state model is authoritative
// over the OS process. Canceling a terminal job is a no-op.
func (q *Queue) Cancel(ctx context.Context, jobID id.JobID) error {
	q.mu.Lock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	j := findJob(jobs, jobID)
	if j == nil {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", conductor.ErrJobNotFound, jobID)
	}

	switch j.Status {
	case job.StatusQueued:
		j.Status = job.StatusCanceled
		j.Touch()
	case job.StatusRunning:
		q.cancelRequested[jobID] = true
		if err := q.runner.Kill(jobID); err != nil {
			q.logger.Warn("kill failed, state remains authoritative",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
		j.Status = job.StatusCanceled
		j.Touch()
	default:
		q.mu.Unlock()
		return nil
	}

	if err := q.store.SaveJobs(ctx, jobs); err != nil {
		q.mu.Unlock()
		return err
	}
	canceled := *j
	q.mu.Unlock()

	q.logger.Info("job canceled", slog.String("job_id", jobID.String()))
	q.emitter.JobFailed(ctx, &canceled)
	if q.reconcile != nil {
		q.reconcile(ctx, jobID)
	}
	return nil
}

// Retry resets a job to Queued. Without force it is allowed only from
// Failed or NeedsRetry, and only once the retry window has elapsed.
// Error and backoff fields are cleared; AutoRetryAttemptCount is
// preserved — manual retries do not refill the automatic budget.
func (q *Queue) Retry(ctx context.Context, jobID id.JobID, force bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		return err
	}
	j := findJob(jobs, jobID)
	if j == nil {
		return fmt.Errorf("%w: %s", conductor.ErrJobNotFound, jobID)
	}

	if !force {
		if !j.Status.Retryable() {
			return fmt.Errorf("%w: job %s is %s", conductor.ErrNotRetryable, jobID, j.Status)
		}
		if j.RetryAt != nil && j.RetryAt.After(time.Now()) {
			return fmt.Errorf("%w: job %s retries at %s",
				conductor.ErrRetryWindowNotElapsed, jobID, j.RetryAt.Format(time.RFC3339))
		}
	}

	j.Status = job.StatusQueued
	j.LastError = ""
	j.RetryAt = nil
	j.RetryAfterSeconds = nil
	j.RunID = ""
	j.Touch()

	if err := q.store.SaveJobs(ctx, jobs); err != nil {
		return err
	}
	q.logger.Info("job re-queued",
		slog.String("job_id", jobID.String()),
		slog.Bool("force", force),
	)
	return nil
}

// ClearFinished removes all Succeeded, Failed, and Canceled jobs and
// returns how many were removed. NeedsRetry jobs are kept: the
// scheduler still owns them.
func (q *Queue) ClearFinished(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		return 0, err
	}
	kept := jobs[:0]
	removed := 0
	for _, j := range jobs {
		if j.Status.Finished() {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := q.store.SaveJobs(ctx, kept); err != nil {
		return 0, err
	}
	q.logger.Info("finished jobs cleared", slog.Int("removed", removed))
	return removed, nil
}

// RecordAutoRetry increments a job's scheduler-initiated retry counter.
func (q *Queue) RecordAutoRetry(ctx context.Context, jobID id.JobID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		return err
	}
	j := findJob(jobs, jobID)
	if j == nil {
		return fmt.Errorf("%w: %s", conductor.ErrJobNotFound, jobID)
	}
	j.AutoRetryAttemptCount++
	j.Touch()
	return q.store.SaveJobs(ctx, jobs)
}

// SetRetryAt backfills a missing retry window on a NeedsRetry job.
// Used by the scheduler; retry_at is otherwise computed once at the
// transition into NeedsRetry and never recomputed.
func (q *Queue) SetRetryAt(ctx context.Context, jobID id.JobID, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.store.LoadJobs(ctx)
	if err != nil {
		return err
	}
	j := findJob(jobs, jobID)
	if j == nil {
		return fmt.Errorf("%w: %s", conductor.ErrJobNotFound, jobID)
	}
	if j.Status != job.StatusNeedsRetry || j.RetryAt != nil {
		return nil
	}
	j.RetryAt = &retryAt
	j.Touch()
	return q.store.SaveJobs(ctx, jobs)
}

func findJob(jobs []job.Job, jobID id.JobID) *job.Job {
	for i := range jobs {
		if jobs[i].ID == jobID {
			return &jobs[i]
		}
	}
	return nil
}

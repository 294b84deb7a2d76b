package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/identifier"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/template"
)

// JobService is what the orchestrator needs from the job queue. It is
// implemented by queue.Queue.
type JobService interface {
	// EnqueueBound appends a Queued job carrying pre-normalized params
	// and a pipeline binding.
	EnqueueBound(ctx context.Context, templateID, businessKey string, params map[string]int, pipelineID id.PipelineID) (job.Job, error)

	// List returns all jobs, reloaded from the store.
	List(ctx context.Context) ([]job.Job, error)

	// Cancel requests cancellation of a job (best-effort kill).
	Cancel(ctx context.Context, jobID id.JobID) error

	// Retry resets a Failed/NeedsRetry job to Queued.
	Retry(ctx context.Context, jobID id.JobID, force bool) error
}

// Emitter receives pipeline lifecycle notifications. Emissions are
// best-effort; implementations must not block.
type Emitter interface {
	// PipelineCompleted fires when every step has succeeded.
	PipelineCompleted(ctx context.Context, p *Pipeline)

	// PipelineHalted fires when a pipeline stops in a non-Succeeded
	// terminal status (Failed, NeedsRetry, Canceled).
	PipelineHalted(ctx context.Context, p *Pipeline)
}

// NopEmitter discards all notifications.
type NopEmitter struct{}

func (NopEmitter) PipelineCompleted(context.Context, *Pipeline) {}
func (NopEmitter) PipelineHalted(context.Context, *Pipeline)    {}

// Orchestrator drives pipelines to completion. All mutations serialize
// through one lock; the store remains the source of truth across
// restarts, so every state-reading operation reloads from it first.
type Orchestrator struct {
	mu        sync.Mutex
	store     Store
	jobs      JobService
	templates *template.Registry
	emitter   Emitter
	logger    *slog.Logger
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(store Store, jobs JobService, templates *template.Registry, emitter Emitter, logger *slog.Logger) *Orchestrator {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     store,
		jobs:      jobs,
		templates: templates,
		emitter:   emitter,
		logger:    logger,
	}
}

// Create validates and persists a new pipeline. Every step's template
// and params are validated up front; the business key is normalized to
// its canonical form. The pipeline starts in Running with all steps
// Pending; no job is enqueued until Start or the next Reconcile.
func (o *Orchestrator) Create(ctx context.Context, name, businessKey string, specs []StepSpec) (Pipeline, error) {
	if len(specs) == 0 {
		return Pipeline{}, conductor.ErrEmptyPipeline
	}

	norm := identifier.Normalize(businessKey)
	if !norm.Valid() {
		return Pipeline{}, fmt.Errorf("%w: %v", conductor.ErrInvalidKey, norm.Err())
	}

	steps := make([]Step, 0, len(specs))
	for i, spec := range specs {
		params, err := o.templates.NormalizeParams(spec.TemplateID, spec.Params)
		if err != nil {
			return Pipeline{}, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, Step{
			ID:         id.NewStepID(),
			TemplateID: spec.TemplateID,
			Params:     params,
			Status:     StepPending,
		})
	}

	p := Pipeline{
		Entity:      conductor.NewEntity(),
		ID:          id.NewPipelineID(),
		Name:        name,
		BusinessKey: norm.Canonical,
		Steps:       steps,
		Status:      StatusRunning,
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	pipelines, err := o.store.LoadPipelines(ctx)
	if err != nil {
		return Pipeline{}, err
	}
	pipelines = append(pipelines, p)
	if err := o.store.SavePipelines(ctx, pipelines); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// Start kicks off a pipeline by reconciling it, which enqueues the
// first Pending step. Starting an already-progressing pipeline is a
// no-op by idempotence of reconciliation.
func (o *Orchestrator) Start(ctx context.Context, pipelineID id.PipelineID) error {
	return o.reconcile(ctx, func(p *Pipeline) bool { return p.ID == pipelineID })
}

// Reconcile re-derives pipeline state from job state for every Running
// pipeline: advancing past succeeded steps, halting on failed ones, and
// starting at most one Pending step per pipeline per pass. It is
// idempotent and resumable; calling it twice with no job transitions in
// between changes nothing.
//
// triggeringJobID is an optional optimization hint: when a pipeline's
// current step references that job, reconciliation is scoped to it. If
// no pipeline matches the hint, all pipelines are scanned, so behavior
// is identical either way.
func (o *Orchestrator) Reconcile(ctx context.Context, triggeringJobID id.JobID) error {
	if triggeringJobID.IsNil() {
		return o.reconcile(ctx, nil)
	}
	return o.reconcile(ctx, func(p *Pipeline) bool {
		if p.CurrentStepIndex >= len(p.Steps) {
			return false
		}
		return p.Steps[p.CurrentStepIndex].JobID == triggeringJobID
	})
}

// reconcile runs one reconciliation pass over pipelines matching the
// filter (nil matches all). Falls back to a full scan when the filter
// selects nothing.
func (o *Orchestrator) reconcile(ctx context.Context, filter func(*Pipeline) bool) error {
	o.mu.Lock()

	pipelines, err := o.store.LoadPipelines(ctx)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	jobs, err := o.jobs.List(ctx)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	byID := make(map[id.JobID]job.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	scoped := false
	if filter != nil {
		for i := range pipelines {
			if pipelines[i].Status == StatusRunning && filter(&pipelines[i]) {
				scoped = true
				break
			}
		}
	}

	var finished []Pipeline
	changed := false
	for i := range pipelines {
		p := &pipelines[i]
		if p.Status != StatusRunning {
			continue
		}
		if scoped && !filter(p) {
			continue
		}
		if o.advance(ctx, p, byID) {
			changed = true
			p.Touch()
			if p.Status.Terminal() {
				finished = append(finished, *p)
			}
		}
	}

	if changed {
		if err := o.store.SavePipelines(ctx, pipelines); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.mu.Unlock()

	for i := range finished {
		p := &finished[i]
		if p.Status == StatusSucceeded {
			o.emitter.PipelineCompleted(ctx, p)
		} else {
			o.emitter.PipelineHalted(ctx, p)
		}
	}
	return nil
}

// advance drives one pipeline as far as current job state allows,
// starting at most one new step. Reports whether the pipeline changed.
func (o *Orchestrator) advance(ctx context.Context, p *Pipeline, jobs map[id.JobID]job.Job) bool {
	changed := false
	for {
		if p.CurrentStepIndex >= len(p.Steps) {
			p.Status = StatusSucceeded
			return true
		}
		step := &p.Steps[p.CurrentStepIndex]

		// Mirror the bound job's status onto a running step.
		if step.Status == StepRunning && !step.JobID.IsNil() {
			j, ok := jobs[step.JobID]
			if !ok {
				o.logger.Warn("bound job missing, failing step",
					slog.String("pipeline_id", p.ID.String()),
					slog.String("step_id", step.ID.String()),
					slog.String("job_id", step.JobID.String()),
				)
				step.Status = StepFailed
				now := time.Now().UTC()
				step.FinishedAt = &now
				changed = true
			} else {
				switch j.Status {
				case job.StatusQueued, job.StatusRunning:
					return changed // nothing to do yet
				default:
					step.Status = stepStatusFromJob(j.Status)
					step.RunID = j.RunID
					now := time.Now().UTC()
					step.FinishedAt = &now
					changed = true
				}
			}
		}

		if step.Status.Terminal() {
			if step.Status == StepSucceeded {
				p.CurrentStepIndex++
				changed = true
				continue
			}
			// Never advance past a failed or retry-pending step.
			p.Status = pipelineStatusFromStep(step.Status)
			return true
		}

		if step.Status == StepPending {
			j, err := o.jobs.EnqueueBound(ctx, step.TemplateID, p.BusinessKey, step.Params, p.ID)
			if err != nil {
				o.logger.Error("enqueue for pipeline step failed",
					slog.String("pipeline_id", p.ID.String()),
					slog.String("step_id", step.ID.String()),
					slog.String("error", err.Error()),
				)
				return changed
			}
			step.JobID = j.ID
			step.Status = StepRunning
			now := time.Now().UTC()
			step.StartedAt = &now
			return true // one step started per pass
		}

		return changed
	}
}

// Cancel stops a pipeline: the pipeline and its current step are marked
// Canceled first, then the step's bound job is canceled best-effort;
// steps never started stay Pending. Canceling a terminal pipeline is a
// no-op.
func (o *Orchestrator) Cancel(ctx context.Context, pipelineID id.PipelineID) error {
	o.mu.Lock()

	pipelines, err := o.store.LoadPipelines(ctx)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	p := findPipeline(pipelines, pipelineID)
	if p == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", conductor.ErrPipelineNotFound, pipelineID)
	}
	if p.Status.Terminal() {
		o.mu.Unlock()
		return nil
	}

	boundJob := id.Nil
	if p.CurrentStepIndex < len(p.Steps) {
		step := &p.Steps[p.CurrentStepIndex]
		boundJob = step.JobID
		if step.Status != StepPending {
			step.Status = StepCanceled
			now := time.Now().UTC()
			step.FinishedAt = &now
		}
	}
	p.Status = StatusCanceled
	p.Touch()

	if err := o.store.SavePipelines(ctx, pipelines); err != nil {
		o.mu.Unlock()
		return err
	}
	halted := *p
	o.mu.Unlock()

	// The bound job is canceled only after o.mu is released:
	// queue.Cancel invokes the reconcile callback, which re-enters
	// Reconcile and takes o.mu on this same goroutine. The pipeline is
	// already persisted as Canceled, so that pass skips it.
	if !boundJob.IsNil() {
		if err := o.jobs.Cancel(ctx, boundJob); err != nil {
			o.logger.Warn("cancel of bound job failed",
				slog.String("job_id", boundJob.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	o.emitter.PipelineHalted(ctx, &halted)
	return nil
}

// RetryStep replays a pipeline from the given step forward: the step's
// bound job is re-queued (honoring the retry window unless forced), all
// later steps are reset to Pending with their job bindings discarded,
// and the pipeline resumes Running at that step.
func (o *Orchestrator) RetryStep(ctx context.Context, pipelineID id.PipelineID, stepID id.StepID, force bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pipelines, err := o.store.LoadPipelines(ctx)
	if err != nil {
		return err
	}
	p := findPipeline(pipelines, pipelineID)
	if p == nil {
		return fmt.Errorf("%w: %s", conductor.ErrPipelineNotFound, pipelineID)
	}
	step, idx, err := p.StepByID(stepID)
	if err != nil {
		return fmt.Errorf("%w: %s in pipeline %s", err, stepID, pipelineID)
	}

	if !step.JobID.IsNil() {
		switch err := o.jobs.Retry(ctx, step.JobID, force); {
		case err == nil:
			step.Status = StepRunning
			step.RunID = ""
			step.FinishedAt = nil
		case errors.Is(err, conductor.ErrJobNotFound):
			// The bound job was swept by a clear-finished pass. Discard
			// the binding; the reconcile pass below starts a fresh job.
			step.JobID = id.Nil
			step.Status = StepPending
			step.RunID = ""
			step.StartedAt = nil
			step.FinishedAt = nil
		default:
			return err
		}
	} else {
		step.Status = StepPending
		step.StartedAt = nil
		step.FinishedAt = nil
	}

	for i := idx + 1; i < len(p.Steps); i++ {
		later := &p.Steps[i]
		later.JobID = id.Nil
		later.Status = StepPending
		later.RunID = ""
		later.StartedAt = nil
		later.FinishedAt = nil
	}

	p.CurrentStepIndex = idx
	p.Status = StatusRunning
	p.Touch()

	if err := o.store.SavePipelines(ctx, pipelines); err != nil {
		return err
	}

	// A step without a bound job needs a reconcile pass to start.
	if step.Status == StepPending {
		jobs, err := o.jobs.List(ctx)
		if err != nil {
			return err
		}
		byID := make(map[id.JobID]job.Job, len(jobs))
		for _, j := range jobs {
			byID[j.ID] = j
		}
		if o.advance(ctx, p, byID) {
			p.Touch()
			if err := o.store.SavePipelines(ctx, pipelines); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordAutoRetry increments the pipeline's scheduler-initiated retry
// counter. Called by the auto-retry scheduler after dispatching a
// retry for one of the pipeline's steps.
func (o *Orchestrator) RecordAutoRetry(ctx context.Context, pipelineID id.PipelineID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pipelines, err := o.store.LoadPipelines(ctx)
	if err != nil {
		return err
	}
	p := findPipeline(pipelines, pipelineID)
	if p == nil {
		return fmt.Errorf("%w: %s", conductor.ErrPipelineNotFound, pipelineID)
	}
	p.AutoRetryAttemptCount++
	p.Touch()
	return o.store.SavePipelines(ctx, pipelines)
}

// List returns all pipelines, reloaded from the store, newest update
// first with id as tiebreaker.
func (o *Orchestrator) List(ctx context.Context) ([]Pipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pipelines, err := o.store.LoadPipelines(ctx)
	if err != nil {
		return nil, err
	}
	sortPipelines(pipelines)
	return pipelines, nil
}

// Get returns one pipeline by id.
func (o *Orchestrator) Get(ctx context.Context, pipelineID id.PipelineID) (Pipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	pipelines, err := o.store.LoadPipelines(ctx)
	if err != nil {
		return Pipeline{}, err
	}
	if p := findPipeline(pipelines, pipelineID); p != nil {
		return *p, nil
	}
	return Pipeline{}, fmt.Errorf("%w: %s", conductor.ErrPipelineNotFound, pipelineID)
}

func findPipeline(pipelines []Pipeline, pipelineID id.PipelineID) *Pipeline {
	for i := range pipelines {
		if pipelines[i].ID == pipelineID {
			return &pipelines[i]
		}
	}
	return nil
}

func sortPipelines(pipelines []Pipeline) {
	sort.SliceStable(pipelines, func(i, j int) bool {
		a, b := pipelines[i], pipelines[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

func stepStatusFromJob(s job.Status) StepStatus {
	switch s {
	case job.StatusSucceeded:
		return StepSucceeded
	case job.StatusNeedsRetry:
		return StepNeedsRetry
	case job.StatusCanceled:
		return StepCanceled
	default:
		return StepFailed
	}
}

func pipelineStatusFromStep(s StepStatus) Status {
	switch s {
	case StepNeedsRetry:
		return StatusNeedsRetry
	case StepCanceled:
		return StatusCanceled
	default:
		return StatusFailed
	}
}

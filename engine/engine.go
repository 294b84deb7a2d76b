// Package engine wires all Conductor subsystems together: the job
// queue, the pipeline orchestrator, the auto-retry scheduler, and the
// hook registry, all over one store backend.
//
// This package exists to break import cycles: queue and pipeline define
// the small interfaces they need (ReconcileFunc, Emitter), hook.Registry
// provides the implementations, and the engine layer plugs them
// together. It sits above all subsystem packages and below the
// application layer.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/hook"
	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
	"github.com/kaneko-ai/conductor/queue"
	"github.com/kaneko-ai/conductor/retry"
	"github.com/kaneko-ai/conductor/store"
	"github.com/kaneko-ai/conductor/template"
)

// hookJobEmitter adapts *hook.Registry to satisfy queue.Emitter.
type hookJobEmitter struct {
	r *hook.Registry
}

func (a *hookJobEmitter) JobSucceeded(ctx context.Context, j *job.Job) {
	a.r.EmitJobCompleted(ctx, j)
}

func (a *hookJobEmitter) JobFailed(ctx context.Context, j *job.Job) {
	a.r.EmitJobFailed(ctx, j)
}

func (a *hookJobEmitter) JobRetryPending(ctx context.Context, j *job.Job) {
	a.r.EmitJobRetryPending(ctx, j)
}

// hookPipelineEmitter adapts *hook.Registry to satisfy pipeline.Emitter.
type hookPipelineEmitter struct {
	r *hook.Registry
}

func (a *hookPipelineEmitter) PipelineCompleted(ctx context.Context, p *pipeline.Pipeline) {
	a.r.EmitPipelineCompleted(ctx, p)
}

func (a *hookPipelineEmitter) PipelineHalted(ctx context.Context, p *pipeline.Pipeline) {
	a.r.EmitPipelineHalted(ctx, p)
}

// hookRetryEmitter adapts *hook.Registry to satisfy retry.Emitter.
type hookRetryEmitter struct {
	r *hook.Registry
}

func (a *hookRetryEmitter) RetryScheduled(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time) {
	a.r.EmitRetryScheduled(ctx, j, attempt, nextRetryAt)
}

// Engine owns the wired subsystems. Create one with New, then Start it.
type Engine struct {
	cfg       conductor.Config
	store     store.Store
	hooks     *hook.Registry
	templates *template.Registry
	logger    *slog.Logger

	queue        *queue.Queue
	orchestrator *pipeline.Orchestrator
	scheduler    *retry.Scheduler

	// pendingHooks collects hooks passed via options; they are
	// registered once the final logger is known.
	pendingHooks []hook.Hook
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger, shared by all subsystems.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTemplates replaces the builtin template catalog.
func WithTemplates(reg *template.Registry) Option {
	return func(e *Engine) { e.templates = reg }
}

// WithHook registers a lifecycle hook. Hooks are notified in
// registration order.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) { e.pendingHooks = append(e.pendingHooks, h) }
}

// New wires an engine over the given store and process execution
// adapter. The worker and scheduler do not run until Start.
func New(cfg conductor.Config, st store.Store, runner job.Runner, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		store:     st,
		templates: template.Builtin(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.hooks = hook.NewRegistry(e.logger)
	for _, h := range e.pendingHooks {
		e.hooks.Register(h)
	}

	e.queue = queue.New(st, st, runner, e.templates,
		queue.WithLogger(e.logger),
		queue.WithEmitter(&hookJobEmitter{e.hooks}),
		queue.WithPollInterval(cfg.PollInterval),
		queue.WithTaskMinInterval(cfg.TaskMinInterval),
		queue.WithReconcile(e.reconcile),
	)

	e.orchestrator = pipeline.NewOrchestrator(st, e.queue, e.templates,
		&hookPipelineEmitter{e.hooks}, e.logger)

	schedule, err := retry.ParseSchedule(cfg.RetrySchedule)
	if err != nil {
		return nil, err
	}
	e.scheduler = retry.NewScheduler(e.queue, e.orchestrator, st,
		retry.WithLogger(e.logger),
		retry.WithAuditLog(st),
		retry.WithEmitter(&hookRetryEmitter{e.hooks}),
		retry.WithSchedule(schedule),
	)
	return e, nil
}

// reconcile is the queue's terminal-transition callback. Reconciliation
// errors are logged, never propagated back into the worker.
func (e *Engine) reconcile(ctx context.Context, triggeringJobID id.JobID) {
	if err := e.orchestrator.Reconcile(ctx, triggeringJobID); err != nil {
		e.logger.Error("pipeline reconcile failed",
			slog.String("job_id", triggeringJobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// Start launches the worker and the retry scheduler, then runs one
// resume reconciliation pass so pipelines interrupted by a previous
// process pick up where they left off.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.queue.Start(ctx); err != nil {
		return err
	}
	if err := e.orchestrator.Reconcile(ctx, id.Nil); err != nil {
		e.logger.Error("resume reconcile failed", slog.String("error", err.Error()))
	}
	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("engine started", slog.String("data_dir", e.cfg.DataDir))
	return nil
}

// Stop shuts the scheduler and worker down, bounded by the configured
// shutdown timeout, and emits the Shutdown hook event.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := e.scheduler.Stop(ctx); err != nil {
		return err
	}
	if err := e.queue.Stop(ctx); err != nil {
		return err
	}
	e.hooks.EmitShutdown(ctx)
	e.logger.Info("engine stopped")
	return nil
}

// Jobs returns the job queue.
func (e *Engine) Jobs() *queue.Queue { return e.queue }

// Pipelines returns the pipeline orchestrator.
func (e *Engine) Pipelines() *pipeline.Orchestrator { return e.orchestrator }

// Scheduler returns the auto-retry scheduler.
func (e *Engine) Scheduler() *retry.Scheduler { return e.scheduler }

// Templates returns the template catalog.
func (e *Engine) Templates() *template.Registry { return e.templates }

// Hooks returns the hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Store returns the underlying store backend.
func (e *Engine) Store() store.Store { return e.store }

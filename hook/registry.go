package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
)

// Named entry types pair a hook implementation with the name captured
// at registration time. This avoids type-asserting back to Hook inside
// the emit methods.
type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetryPendingEntry struct {
	name string
	hook JobRetryPending
}

type pipelineCompletedEntry struct {
	name string
	hook PipelineCompleted
}

type pipelineHaltedEntry struct {
	name string
	hook PipelineHalted
}

type retryScheduledEntry struct {
	name string
	hook RetryScheduled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	jobCompleted      []jobCompletedEntry
	jobFailed         []jobFailedEntry
	jobRetryPending   []jobRetryPendingEntry
	pipelineCompleted []pipelineCompletedEntry
	pipelineHalted    []pipelineHaltedEntry
	retryScheduled    []retryScheduledEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if hk, ok := h.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, hk})
	}
	if hk, ok := h.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, hk})
	}
	if hk, ok := h.(JobRetryPending); ok {
		r.jobRetryPending = append(r.jobRetryPending, jobRetryPendingEntry{name, hk})
	}
	if hk, ok := h.(PipelineCompleted); ok {
		r.pipelineCompleted = append(r.pipelineCompleted, pipelineCompletedEntry{name, hk})
	}
	if hk, ok := h.(PipelineHalted); ok {
		r.pipelineHalted = append(r.pipelineHalted, pipelineHaltedEntry{name, hk})
	}
	if hk, ok := h.(RetryScheduled); ok {
		r.retryScheduled = append(r.retryScheduled, retryScheduledEntry{name, hk})
	}
	if hk, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, hk})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitJobCompleted notifies all hooks that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all hooks that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetryPending notifies all hooks that implement JobRetryPending.
func (r *Registry) EmitJobRetryPending(ctx context.Context, j *job.Job) {
	for _, e := range r.jobRetryPending {
		if err := e.hook.OnJobRetryPending(ctx, j); err != nil {
			r.logHookError("OnJobRetryPending", e.name, err)
		}
	}
}

// EmitPipelineCompleted notifies all hooks that implement PipelineCompleted.
func (r *Registry) EmitPipelineCompleted(ctx context.Context, p *pipeline.Pipeline) {
	for _, e := range r.pipelineCompleted {
		if err := e.hook.OnPipelineCompleted(ctx, p); err != nil {
			r.logHookError("OnPipelineCompleted", e.name, err)
		}
	}
}

// EmitPipelineHalted notifies all hooks that implement PipelineHalted.
func (r *Registry) EmitPipelineHalted(ctx context.Context, p *pipeline.Pipeline) {
	for _, e := range r.pipelineHalted {
		if err := e.hook.OnPipelineHalted(ctx, p); err != nil {
			r.logHookError("OnPipelineHalted", e.name, err)
		}
	}
}

// EmitRetryScheduled notifies all hooks that implement RetryScheduled.
func (r *Registry) EmitRetryScheduled(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time) {
	for _, e := range r.retryScheduled {
		if err := e.hook.OnRetryScheduled(ctx, j, attempt, nextRetryAt); err != nil {
			r.logHookError("OnRetryScheduled", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block or roll
// back the emitting transition.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("lifecycle hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}

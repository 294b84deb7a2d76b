// Package hook defines the lifecycle hook system for Conductor. Hooks
// are notified of lifecycle events (job completed, pipeline halted,
// retry scheduled, etc.) and can react to them — indexing, metrics,
// notifications.
//
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about. Hook errors are logged and never
// propagated: a failing hook must not block or roll back a transition.
package hook

import (
	"context"
	"time"

	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCompleted is called after a job transitions to Succeeded. The
// secondary index consumes exactly this event.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job) error
}

// JobFailed is called after a job transitions to Failed or Canceled.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job) error
}

// JobRetryPending is called after a job transitions to NeedsRetry, with
// its retry window already computed.
type JobRetryPending interface {
	OnJobRetryPending(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Pipeline lifecycle hooks
// ──────────────────────────────────────────────────

// PipelineCompleted is called when every step of a pipeline succeeded.
type PipelineCompleted interface {
	OnPipelineCompleted(ctx context.Context, p *pipeline.Pipeline) error
}

// PipelineHalted is called when a pipeline stops in a non-Succeeded
// terminal status (Failed, NeedsRetry, Canceled).
type PipelineHalted interface {
	OnPipelineHalted(ctx context.Context, p *pipeline.Pipeline) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// RetryScheduled is called when the auto-retry scheduler dispatches a
// retry for a job.
type RetryScheduled interface {
	OnRetryScheduled(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

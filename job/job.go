// Package job defines the job record, its status taxonomy, the task
// outcome consumed from the process execution adapter, and the
// persistence contract for the jobs document.
package job

import (
	"context"
	"time"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued means the job is waiting for the worker to pick it up.
	StatusQueued Status = "queued"
	// StatusRunning means the worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusSucceeded means the job finished successfully.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the job failed and will not be retried automatically.
	StatusFailed Status = "failed"
	// StatusNeedsRetry means the job failed with a transient signal and is
	// eligible for an automatic retry once its retry window elapses.
	StatusNeedsRetry Status = "needs_retry"
	// StatusCanceled means the job was explicitly canceled.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether no further automatic transition occurs
// without caller or scheduler action.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusNeedsRetry, StatusCanceled:
		return true
	default:
		return false
	}
}

// Retryable reports whether Retry is permitted from this status without
// the force flag.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusNeedsRetry
}

// Finished reports whether the job is in a state the clear-finished
// sweep may remove. NeedsRetry jobs are excluded: the scheduler still
// owns them.
func (s Status) Finished() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Job is one execution of a template against a business key.
type Job struct {
	conductor.Entity

	ID          id.JobID       `json:"id"`
	TemplateID  string         `json:"template_id"`
	BusinessKey string         `json:"business_key"`
	Params      map[string]int `json:"params,omitempty"`
	Status      Status         `json:"status"`

	// Attempt counts transitions into Running, including the first.
	Attempt int `json:"attempt"`

	// PipelineID is set when the job is bound to a pipeline step; the
	// scheduler uses it to enforce the per-pipeline retry budget.
	PipelineID id.PipelineID `json:"pipeline_id,omitempty"`

	RunID     string `json:"run_id,omitempty"`
	LastError string `json:"last_error,omitempty"`

	// RetryAfterSeconds preserves an adapter-supplied retry-after hint
	// from the most recent failure.
	RetryAfterSeconds *float64 `json:"retry_after_seconds,omitempty"`

	// RetryAt is meaningful only while Status is NeedsRetry. It is
	// computed once per transition into NeedsRetry, never recomputed
	// opportunistically.
	RetryAt *time.Time `json:"retry_at,omitempty"`

	// AutoRetryAttemptCount counts scheduler-initiated retries. Manual
	// retries never reset it.
	AutoRetryAttemptCount int `json:"auto_retry_attempt_count"`

	// LastOutcome preserves the adapter's status string from the most
	// recent completed execution, for display.
	LastOutcome string `json:"last_outcome,omitempty"`
}

// OutcomeStatus is the adapter's normalized classification of a
// finished execution.
type OutcomeStatus string

const (
	// OutcomeOK means the execution completed successfully.
	OutcomeOK OutcomeStatus = "ok"
	// OutcomeNeedsRetry means the execution failed transiently (rate
	// limit, upstream timeout) and should be retried.
	OutcomeNeedsRetry OutcomeStatus = "needs_retry"
	// OutcomeError means the execution failed permanently.
	OutcomeError OutcomeStatus = "error"
	// OutcomeMissingDependency means the execution could not start
	// because a host-side dependency is absent. Treated like OutcomeError
	// for retry eligibility; the distinct status is preserved for display.
	OutcomeMissingDependency OutcomeStatus = "missing_dependency"
)

// Outcome is the adapter's report for one finished execution. The core
// consumes only this normalized value, never raw process output.
type Outcome struct {
	OK                bool          `json:"ok"`
	Status            OutcomeStatus `json:"status"`
	Message           string        `json:"message,omitempty"`
	RetryAfterSeconds *float64      `json:"retry_after_seconds,omitempty"`
	RunID             string        `json:"run_id,omitempty"`
}

// NeedsRetry reports whether the outcome carries a structured transient
// failure signal: the explicit needs_retry status or a retry-after hint.
func (o Outcome) NeedsRetry() bool {
	return o.Status == OutcomeNeedsRetry || o.RetryAfterSeconds != nil
}

// Runner launches external computations and reports their outcomes.
// Implementations classify raw process results (exit codes, output
// text) into an Outcome before returning; the queue never sees raw
// output. Execute blocks for the task's full duration.
type Runner interface {
	// Execute runs one task. A non-nil error means the adapter itself
	// failed to launch or observe the task; the queue treats it as a
	// permanent failure.
	Execute(ctx context.Context, j Job) (Outcome, error)

	// Kill requests best-effort termination of the job's underlying
	// execution. Failure to terminate never blocks or fails a cancel.
	Kill(jobID id.JobID) error
}

// Store is the persistence contract for the jobs document. Loads return
// the full document; mutations are read-modify-write-persist under the
// queue's lock.
type Store interface {
	LoadJobs(ctx context.Context) ([]Job, error)
	SaveJobs(ctx context.Context, jobs []Job) error
}

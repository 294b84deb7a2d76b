// Package pipeline defines ordered multi-step pipelines over jobs and
// the orchestrator that drives them: each step is backed by one job,
// steps run strictly in order, and the pipeline advances only when the
// current step's job succeeds.
package pipeline

import (
	"context"
	"time"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/id"
)

// Status represents the lifecycle state of a pipeline.
type Status string

const (
	// StatusRunning means the pipeline has unfinished steps.
	StatusRunning Status = "running"
	// StatusSucceeded means every step succeeded.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the current step failed permanently.
	StatusFailed Status = "failed"
	// StatusNeedsRetry means the current step is waiting for a retry.
	StatusNeedsRetry Status = "needs_retry"
	// StatusCanceled means the pipeline was explicitly canceled.
	StatusCanceled Status = "canceled"
)

// Terminal reports whether the pipeline requires caller or scheduler
// action to make further progress.
func (s Status) Terminal() bool { return s != StatusRunning }

// StepStatus represents the lifecycle state of one pipeline step. While
// a step has a bound job it mirrors that job's status; Pending steps
// have no job yet.
type StepStatus string

const (
	// StepPending means the step has not been started and has no job.
	StepPending StepStatus = "pending"
	// StepRunning means a job is bound and not yet terminal.
	StepRunning StepStatus = "running"
	// StepSucceeded means the bound job succeeded.
	StepSucceeded StepStatus = "succeeded"
	// StepFailed means the bound job failed permanently.
	StepFailed StepStatus = "failed"
	// StepNeedsRetry means the bound job is waiting for a retry.
	StepNeedsRetry StepStatus = "needs_retry"
	// StepCanceled means the bound job was canceled.
	StepCanceled StepStatus = "canceled"
)

// Terminal reports whether the step finished in some way.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepNeedsRetry, StepCanceled:
		return true
	default:
		return false
	}
}

// Step is one unit of a pipeline. Steps are owned by their pipeline;
// the bound job is only referenced by id and is owned by the queue.
type Step struct {
	ID         id.StepID      `json:"id"`
	TemplateID string         `json:"template_id"`
	Params     map[string]int `json:"params,omitempty"`
	JobID      id.JobID       `json:"job_id,omitempty"`
	Status     StepStatus     `json:"status"`
	RunID      string         `json:"run_id,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Pipeline is an ordered sequence of steps advanced automatically on
// success. Exactly one step (CurrentStepIndex) may be non-terminal at a
// time; all steps before it are Succeeded, all steps after it Pending.
type Pipeline struct {
	conductor.Entity

	ID               id.PipelineID `json:"id"`
	Name             string        `json:"name"`
	BusinessKey      string        `json:"business_key"`
	Steps            []Step        `json:"steps"`
	CurrentStepIndex int           `json:"current_step_index"`
	Status           Status        `json:"status"`

	// AutoRetryAttemptCount counts scheduler-initiated retries across
	// all steps of this pipeline.
	AutoRetryAttemptCount int `json:"auto_retry_attempt_count"`
}

// StepByID returns a pointer into Steps for the given step id.
func (p *Pipeline) StepByID(stepID id.StepID) (*Step, int, error) {
	for i := range p.Steps {
		if p.Steps[i].ID == stepID {
			return &p.Steps[i], i, nil
		}
	}
	return nil, 0, conductor.ErrStepNotFound
}

// StepSpec describes one step when creating a pipeline. Params are raw
// caller input, normalized against the step's template at create time.
type StepSpec struct {
	TemplateID string         `json:"template_id"`
	Params     map[string]any `json:"params,omitempty"`
}

// Store is the persistence contract for the pipelines document.
type Store interface {
	LoadPipelines(ctx context.Context) ([]Pipeline, error)
	SavePipelines(ctx context.Context, pipelines []Pipeline) error
}

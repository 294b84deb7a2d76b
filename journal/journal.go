// Package journal bridges lifecycle events to an audit trail backend.
// Every event the hook receives is turned into a structured journal
// entry and handed to a Recorder; the bundled FileRecorder appends
// entries as JSON lines next to the state documents.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kaneko-ai/conductor/hook"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
)

// Compile-time interface checks.
var (
	_ hook.Hook              = (*Hook)(nil)
	_ hook.JobCompleted      = (*Hook)(nil)
	_ hook.JobFailed         = (*Hook)(nil)
	_ hook.JobRetryPending   = (*Hook)(nil)
	_ hook.PipelineCompleted = (*Hook)(nil)
	_ hook.PipelineHalted    = (*Hook)(nil)
	_ hook.RetryScheduled    = (*Hook)(nil)
	_ hook.Shutdown          = (*Hook)(nil)
)

// Actions recorded in journal entries.
const (
	ActionJobCompleted      = "job.completed"
	ActionJobFailed         = "job.failed"
	ActionJobRetryPending   = "job.retry_pending"
	ActionPipelineCompleted = "pipeline.completed"
	ActionPipelineHalted    = "pipeline.halted"
	ActionRetryScheduled    = "retry.scheduled"
	ActionShutdown          = "engine.shutdown"
)

// Resource kinds referenced by entries.
const (
	ResourceJob      = "job"
	ResourcePipeline = "pipeline"
	ResourceEngine   = "engine"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entry is one journal record.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	Outcome    string         `json:"outcome"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Recorder persists fully-formed journal entries. Implementations must
// be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
}

// RecorderFunc adapts a plain function to a Recorder.
type RecorderFunc func(ctx context.Context, entry *Entry) error

func (f RecorderFunc) Record(ctx context.Context, entry *Entry) error {
	return f(ctx, entry)
}

// ──────────────────────────────────────────────────
// File recorder
// ──────────────────────────────────────────────────

// FileRecorder appends entries as JSON lines to a single file. Appends
// are O_APPEND writes of one line each, so concurrent recorders never
// interleave within a line.
type FileRecorder struct {
	path string
}

// NewFileRecorder creates a file recorder, creating the parent
// directory if needed.
func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	return &FileRecorder{path: path}, nil
}

func (r *FileRecorder) Record(_ context.Context, entry *Entry) error {
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Lifecycle hook
// ──────────────────────────────────────────────────

// Hook records every lifecycle event it receives through a Recorder.
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all actions enabled
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Hook.
type Option func(*Hook)

// WithLogger sets the hook's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hook) { h.logger = logger }
}

// WithActions restricts recording to the given actions. By default all
// actions are recorded.
func WithActions(actions ...string) Option {
	return func(h *Hook) {
		h.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			h.enabled[a] = true
		}
	}
}

// New creates a journal hook that records through r.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "journal" }

func (h *Hook) record(ctx context.Context, action, resource, resourceID, outcome string, metadata map[string]any) error {
	if h.enabled != nil && !h.enabled[action] {
		return nil
	}
	return h.recorder.Record(ctx, &Entry{
		Timestamp:  h.now().UTC(),
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Outcome:    outcome,
		Metadata:   metadata,
	})
}

// OnJobCompleted implements hook.JobCompleted.
func (h *Hook) OnJobCompleted(ctx context.Context, j *job.Job) error {
	return h.record(ctx, ActionJobCompleted, ResourceJob, j.ID.String(), OutcomeSuccess, map[string]any{
		"template_id":  j.TemplateID,
		"business_key": j.BusinessKey,
		"attempt":      j.Attempt,
	})
}

// OnJobFailed implements hook.JobFailed.
func (h *Hook) OnJobFailed(ctx context.Context, j *job.Job) error {
	metadata := map[string]any{
		"template_id":  j.TemplateID,
		"business_key": j.BusinessKey,
		"attempt":      j.Attempt,
		"status":       string(j.Status),
	}
	if j.LastError != "" {
		metadata["error"] = j.LastError
	}
	return h.record(ctx, ActionJobFailed, ResourceJob, j.ID.String(), OutcomeFailure, metadata)
}

// OnJobRetryPending implements hook.JobRetryPending.
func (h *Hook) OnJobRetryPending(ctx context.Context, j *job.Job) error {
	metadata := map[string]any{
		"template_id": j.TemplateID,
		"attempt":     j.Attempt,
	}
	if j.RetryAt != nil {
		metadata["retry_at"] = j.RetryAt.Format(time.RFC3339)
	}
	return h.record(ctx, ActionJobRetryPending, ResourceJob, j.ID.String(), OutcomeFailure, metadata)
}

// OnPipelineCompleted implements hook.PipelineCompleted.
func (h *Hook) OnPipelineCompleted(ctx context.Context, p *pipeline.Pipeline) error {
	return h.record(ctx, ActionPipelineCompleted, ResourcePipeline, p.ID.String(), OutcomeSuccess, map[string]any{
		"name":         p.Name,
		"business_key": p.BusinessKey,
		"steps":        len(p.Steps),
	})
}

// OnPipelineHalted implements hook.PipelineHalted.
func (h *Hook) OnPipelineHalted(ctx context.Context, p *pipeline.Pipeline) error {
	return h.record(ctx, ActionPipelineHalted, ResourcePipeline, p.ID.String(), OutcomeFailure, map[string]any{
		"name":               p.Name,
		"status":             string(p.Status),
		"current_step_index": p.CurrentStepIndex,
	})
}

// OnRetryScheduled implements hook.RetryScheduled.
func (h *Hook) OnRetryScheduled(ctx context.Context, j *job.Job, attempt int, nextRetryAt time.Time) error {
	return h.record(ctx, ActionRetryScheduled, ResourceJob, j.ID.String(), OutcomeSuccess, map[string]any{
		"auto_attempt": attempt,
		"retry_at":     nextRetryAt.Format(time.RFC3339),
	})
}

// OnShutdown implements hook.Shutdown.
func (h *Hook) OnShutdown(ctx context.Context) error {
	return h.record(ctx, ActionShutdown, ResourceEngine, "", OutcomeSuccess, nil)
}

package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/kaneko-ai/conductor/hook"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
)

// ──────────────────────────────────────────────────
// Test hooks
// ──────────────────────────────────────────────────

// allEventsHook implements every lifecycle event for testing.
type allEventsHook struct {
	calls []string
}

func (h *allEventsHook) Name() string { return "all-events" }

func (h *allEventsHook) OnJobCompleted(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobCompleted")
	return nil
}

func (h *allEventsHook) OnJobFailed(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobFailed")
	return nil
}

func (h *allEventsHook) OnJobRetryPending(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobRetryPending")
	return nil
}

func (h *allEventsHook) OnPipelineCompleted(_ context.Context, _ *pipeline.Pipeline) error {
	h.calls = append(h.calls, "OnPipelineCompleted")
	return nil
}

func (h *allEventsHook) OnPipelineHalted(_ context.Context, _ *pipeline.Pipeline) error {
	h.calls = append(h.calls, "OnPipelineHalted")
	return nil
}

func (h *allEventsHook) OnRetryScheduled(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	h.calls = append(h.calls, "OnRetryScheduled")
	return nil
}

func (h *allEventsHook) OnShutdown(_ context.Context) error {
	h.calls = append(h.calls, "OnShutdown")
	return nil
}

// completedOnlyHook implements only JobCompleted.
type completedOnlyHook struct {
	count int
}

func (h *completedOnlyHook) Name() string { return "completed-only" }

func (h *completedOnlyHook) OnJobCompleted(_ context.Context, _ *job.Job) error {
	h.count++
	return nil
}

// failingHook returns an error from every event it implements.
type failingHook struct{}

func (failingHook) Name() string { return "failing" }

func (failingHook) OnJobCompleted(_ context.Context, _ *job.Job) error {
	return errors.New("hook exploded")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_EmitsAllEvents(t *testing.T) {
	ctx := context.Background()
	h := &allEventsHook{}
	r := hook.NewRegistry(slog.Default())
	r.Register(h)

	r.EmitJobCompleted(ctx, &job.Job{})
	r.EmitJobFailed(ctx, &job.Job{})
	r.EmitJobRetryPending(ctx, &job.Job{})
	r.EmitPipelineCompleted(ctx, &pipeline.Pipeline{})
	r.EmitPipelineHalted(ctx, &pipeline.Pipeline{})
	r.EmitRetryScheduled(ctx, &job.Job{}, 1, time.Now())
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobCompleted", "OnJobFailed", "OnJobRetryPending",
		"OnPipelineCompleted", "OnPipelineHalted",
		"OnRetryScheduled", "OnShutdown",
	}
	if len(h.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", h.calls, want)
	}
	for i, name := range want {
		if h.calls[i] != name {
			t.Errorf("calls[%d] = %q, want %q", i, h.calls[i], name)
		}
	}
}

func TestRegistry_PartialHookOnlySeesItsEvents(t *testing.T) {
	ctx := context.Background()
	h := &completedOnlyHook{}
	r := hook.NewRegistry(slog.Default())
	r.Register(h)

	r.EmitJobCompleted(ctx, &job.Job{})
	r.EmitJobFailed(ctx, &job.Job{})
	r.EmitShutdown(ctx)

	if h.count != 1 {
		t.Errorf("OnJobCompleted called %d times, want 1", h.count)
	}
}

func TestRegistry_HookErrorsDoNotStopOthers(t *testing.T) {
	ctx := context.Background()
	second := &completedOnlyHook{}
	r := hook.NewRegistry(slog.Default())
	r.Register(failingHook{})
	r.Register(second)

	// Must not panic or propagate the first hook's error.
	r.EmitJobCompleted(ctx, &job.Job{})

	if second.count != 1 {
		t.Errorf("second hook called %d times, want 1", second.count)
	}
}

func TestRegistry_HooksListsRegistered(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(&allEventsHook{})
	r.Register(&completedOnlyHook{})

	if got := len(r.Hooks()); got != 2 {
		t.Errorf("Hooks() length = %d, want 2", got)
	}
}

package journal_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/journal"
	"github.com/kaneko-ai/conductor/pipeline"
)

type captureRecorder struct {
	entries []journal.Entry
	err     error
}

func (r *captureRecorder) Record(_ context.Context, entry *journal.Entry) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, *entry)
	return nil
}

func TestHook_RecordsJobLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := &captureRecorder{}
	h := journal.New(rec)

	retryAt := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	j := &job.Job{
		ID:          id.NewJobID(),
		TemplateID:  "tree",
		BusinessKey: "pmid:1",
		Attempt:     1,
		Status:      job.StatusNeedsRetry,
		LastError:   "throttled",
		RetryAt:     &retryAt,
	}

	if err := h.OnJobCompleted(ctx, j); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := h.OnJobFailed(ctx, j); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := h.OnJobRetryPending(ctx, j); err != nil {
		t.Fatalf("OnJobRetryPending: %v", err)
	}

	if len(rec.entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(rec.entries))
	}
	if rec.entries[0].Action != journal.ActionJobCompleted || rec.entries[0].Outcome != journal.OutcomeSuccess {
		t.Errorf("entry 0 = %+v, want job.completed/success", rec.entries[0])
	}
	if rec.entries[1].Metadata["error"] != "throttled" {
		t.Errorf("failed entry metadata = %v, want error recorded", rec.entries[1].Metadata)
	}
	if rec.entries[2].Metadata["retry_at"] != retryAt.Format(time.RFC3339) {
		t.Errorf("retry entry metadata = %v, want retry_at recorded", rec.entries[2].Metadata)
	}
	for _, e := range rec.entries {
		if e.ResourceID != j.ID.String() || e.Resource != journal.ResourceJob {
			t.Errorf("entry %+v, want job resource with id %s", e, j.ID)
		}
	}
}

func TestHook_RecordsPipelineAndRetryEvents(t *testing.T) {
	ctx := context.Background()
	rec := &captureRecorder{}
	h := journal.New(rec)

	p := &pipeline.Pipeline{
		ID:     id.NewPipelineID(),
		Name:   "run",
		Status: pipeline.StatusNeedsRetry,
		Steps:  []pipeline.Step{{}, {}},
	}
	if err := h.OnPipelineCompleted(ctx, p); err != nil {
		t.Fatalf("OnPipelineCompleted: %v", err)
	}
	if err := h.OnPipelineHalted(ctx, p); err != nil {
		t.Fatalf("OnPipelineHalted: %v", err)
	}
	j := &job.Job{ID: id.NewJobID()}
	if err := h.OnRetryScheduled(ctx, j, 2, time.Now()); err != nil {
		t.Fatalf("OnRetryScheduled: %v", err)
	}
	if err := h.OnShutdown(ctx); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	if len(rec.entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(rec.entries))
	}
	if rec.entries[1].Metadata["status"] != string(pipeline.StatusNeedsRetry) {
		t.Errorf("halted entry metadata = %v, want pipeline status", rec.entries[1].Metadata)
	}
	if rec.entries[2].Metadata["auto_attempt"] != 2 {
		t.Errorf("retry entry metadata = %v, want auto_attempt 2", rec.entries[2].Metadata)
	}
	if rec.entries[3].Resource != journal.ResourceEngine {
		t.Errorf("shutdown entry resource = %s, want engine", rec.entries[3].Resource)
	}
}

func TestHook_WithActionsFilters(t *testing.T) {
	ctx := context.Background()
	rec := &captureRecorder{}
	h := journal.New(rec, journal.WithActions(journal.ActionJobFailed))

	j := &job.Job{ID: id.NewJobID(), Status: job.StatusFailed}
	if err := h.OnJobCompleted(ctx, j); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := h.OnJobFailed(ctx, j); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	if len(rec.entries) != 1 || rec.entries[0].Action != journal.ActionJobFailed {
		t.Errorf("entries = %+v, want only job.failed", rec.entries)
	}
}

func TestHook_PropagatesRecorderError(t *testing.T) {
	wantErr := errors.New("disk full")
	h := journal.New(&captureRecorder{err: wantErr})

	err := h.OnJobCompleted(context.Background(), &job.Job{ID: id.NewJobID()})
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want recorder error passed to the registry", err)
	}
}

func TestFileRecorder_AppendsJSONLines(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal", "journal.log")

	rec, err := journal.NewFileRecorder(path)
	if err != nil {
		t.Fatalf("NewFileRecorder: %v", err)
	}
	h := journal.New(rec)

	j := &job.Job{ID: id.NewJobID(), TemplateID: "tree", BusinessKey: "pmid:1"}
	if err := h.OnJobCompleted(ctx, j); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := h.OnJobFailed(ctx, j); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry journal.Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		if entry.Timestamp.IsZero() {
			t.Errorf("line %d has no timestamp", lines+1)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("journal lines = %d, want 2", lines)
	}
}

package file_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/id"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
	"github.com/kaneko-ai/conductor/retry"
	"github.com/kaneko-ai/conductor/store/file"
)

func openStore(t *testing.T) *file.Store {
	t.Helper()
	s, err := file.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func sampleJob() job.Job {
	hint := 30.0
	retryAt := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	j := job.Job{
		Entity:                conductor.NewEntity(),
		ID:                    id.NewJobID(),
		TemplateID:            "tree",
		BusinessKey:           "doi:10.1000/182",
		Params:                map[string]int{"depth": 2, "max_per_level": 50},
		Status:                job.StatusNeedsRetry,
		Attempt:               2,
		RunID:                 "run-abc",
		LastError:             "upstream rate limited",
		RetryAfterSeconds:     &hint,
		RetryAt:               &retryAt,
		AutoRetryAttemptCount: 1,
		LastOutcome:           string(job.OutcomeNeedsRetry),
	}
	return j
}

func TestJobs_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	want := []job.Job{sampleJob(), {
		Entity:      conductor.NewEntity(),
		ID:          id.NewJobID(),
		TemplateID:  "tree",
		BusinessKey: "pmid:12345678",
		Status:      job.StatusQueued,
	}}
	if err := s.SaveJobs(ctx, want); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	got, err := s.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d jobs, want %d", len(got), len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.ID != w.ID || g.TemplateID != w.TemplateID || g.BusinessKey != w.BusinessKey ||
			g.Status != w.Status || g.Attempt != w.Attempt || g.RunID != w.RunID ||
			g.LastError != w.LastError || g.AutoRetryAttemptCount != w.AutoRetryAttemptCount ||
			g.LastOutcome != w.LastOutcome {
			t.Errorf("job %d mismatch:\n got %+v\nwant %+v", i, g, w)
		}
		if (g.RetryAt == nil) != (w.RetryAt == nil) {
			t.Errorf("job %d retry_at presence mismatch", i)
		} else if g.RetryAt != nil && !g.RetryAt.Equal(*w.RetryAt) {
			t.Errorf("job %d retry_at = %v, want %v", i, g.RetryAt, w.RetryAt)
		}
		if (g.RetryAfterSeconds == nil) != (w.RetryAfterSeconds == nil) {
			t.Errorf("job %d retry_after presence mismatch", i)
		} else if g.RetryAfterSeconds != nil && *g.RetryAfterSeconds != *w.RetryAfterSeconds {
			t.Errorf("job %d retry_after = %v, want %v", i, *g.RetryAfterSeconds, *w.RetryAfterSeconds)
		}
	}

	// No temp artifact may survive a successful save.
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestJobs_MissingDocumentIsEmpty(t *testing.T) {
	s := openStore(t)
	got, err := s.LoadJobs(context.Background())
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadJobs on fresh store = %d jobs, want 0", len(got))
	}
}

func TestJobs_AbsentVersionTreatedAsV1(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	legacy := `{"jobs":[{"id":"` + id.NewJobID().String() + `","template_id":"tree","business_key":"pmid:1","status":"queued","attempt":0,"auto_retry_attempt_count":0,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}]}`
	if err := os.WriteFile(filepath.Join(s.Dir(), "jobs.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy doc: %v", err)
	}

	got, err := s.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("LoadJobs legacy: %v", err)
	}
	if len(got) != 1 || got[0].TemplateID != "tree" {
		t.Errorf("legacy load = %+v, want one tree job", got)
	}
}

func TestJobs_FutureSchemaRefusesLoadAndSave(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	future := `{"schema_version":99,"jobs":[]}`
	if err := os.WriteFile(filepath.Join(s.Dir(), "jobs.json"), []byte(future), 0o644); err != nil {
		t.Fatalf("write future doc: %v", err)
	}

	if _, err := s.LoadJobs(ctx); !errors.Is(err, conductor.ErrSchemaUnsupported) {
		t.Errorf("LoadJobs error = %v, want ErrSchemaUnsupported", err)
	}
	if err := s.SaveJobs(ctx, nil); !errors.Is(err, conductor.ErrSchemaUnsupported) {
		t.Errorf("SaveJobs error = %v, want ErrSchemaUnsupported", err)
	}

	// The future-version document must be untouched.
	data, err := os.ReadFile(filepath.Join(s.Dir(), "jobs.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != future {
		t.Error("future-version document was modified")
	}
}

func TestPipelines_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	now := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
	want := []pipeline.Pipeline{{
		Entity: conductor.NewEntity(),
		ID:     id.NewPipelineID(),
		Name:   "expand tree",
		Steps: []pipeline.Step{{
			ID:         id.NewStepID(),
			TemplateID: "tree",
			Params:     map[string]int{"depth": 1},
			JobID:      id.NewJobID(),
			Status:     pipeline.StepSucceeded,
			RunID:      "run-1",
			FinishedAt: &now,
		}},
		CurrentStepIndex: 1,
		Status:           pipeline.StatusSucceeded,
		BusinessKey:      "doi:10.1/x",
	}}
	if err := s.SavePipelines(ctx, want); err != nil {
		t.Fatalf("SavePipelines: %v", err)
	}

	got, err := s.LoadPipelines(ctx)
	if err != nil {
		t.Fatalf("LoadPipelines: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("loaded %d pipelines, want 1", len(got))
	}
	g := got[0]
	w := want[0]
	if g.ID != w.ID || g.Name != w.Name || g.Status != w.Status ||
		g.CurrentStepIndex != w.CurrentStepIndex || g.BusinessKey != w.BusinessKey {
		t.Errorf("pipeline mismatch:\n got %+v\nwant %+v", g, w)
	}
	if len(g.Steps) != 1 || g.Steps[0].ID != w.Steps[0].ID ||
		g.Steps[0].JobID != w.Steps[0].JobID || g.Steps[0].Status != w.Steps[0].Status {
		t.Errorf("step mismatch:\n got %+v\nwant %+v", g.Steps, w.Steps)
	}
}

func TestSettings_DefaultsWrittenBackWhenAbsent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	got, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != conductor.DefaultSettings() {
		t.Errorf("LoadSettings = %+v, want defaults", got)
	}

	// The defaults must now exist on disk.
	if _, err := os.Stat(filepath.Join(s.Dir(), "settings.json")); err != nil {
		t.Errorf("settings document not written back: %v", err)
	}

	// A modified save round-trips.
	got.AutoRetryMaxPerJob = 7
	if err := s.SaveSettings(ctx, got); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	back, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if back.AutoRetryMaxPerJob != 7 {
		t.Errorf("AutoRetryMaxPerJob = %d, want 7", back.AutoRetryMaxPerJob)
	}
}

func TestAudit_AppendsOneLinePerEntry(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for i := 1; i <= 3; i++ {
		entry := retry.AuditEntry{
			Timestamp:   time.Now().UTC(),
			JobID:       id.NewJobID(),
			Attempt:     i,
			NextRetryAt: time.Now().UTC(),
		}
		if err := s.AppendRetryAudit(ctx, entry); err != nil {
			t.Fatalf("AppendRetryAudit: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(s.Dir(), "retry_audit.log"))
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry retry.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Errorf("line %d not valid JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("audit log has %d lines, want 3", lines)
	}
}

func TestStore_ClosedRefusesOperations(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := s.LoadJobs(ctx); !errors.Is(err, conductor.ErrStoreClosed) {
		t.Errorf("LoadJobs after close = %v, want ErrStoreClosed", err)
	}
	if err := s.SaveJobs(ctx, nil); !errors.Is(err, conductor.ErrStoreClosed) {
		t.Errorf("SaveJobs after close = %v, want ErrStoreClosed", err)
	}
}

package id_test

import (
	"encoding/json"
	"testing"

	"github.com/kaneko-ai/conductor/id"
)

func TestNew_GeneratesPrefixedIDs(t *testing.T) {
	tests := []struct {
		prefix id.Prefix
		want   string
	}{
		{id.PrefixJob, "job_"},
		{id.PrefixPipeline, "pipe_"},
		{id.PrefixStep, "step_"},
		{id.PrefixRun, "run_"},
	}
	for _, tt := range tests {
		got := id.New(tt.prefix).String()
		if len(got) <= len(tt.want) || got[:len(tt.want)] != tt.want {
			t.Errorf("New(%q) = %q, want prefix %q", tt.prefix, got, tt.want)
		}
	}
}

func TestNew_IDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		s := id.NewJobID().String()
		if seen[s] {
			t.Fatalf("duplicate ID generated: %s", s)
		}
		seen[s] = true
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewPipelineID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", orig.String(), err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}
	if parsed.Prefix() != id.PrefixPipeline {
		t.Errorf("Prefix() = %q, want %q", parsed.Prefix(), id.PrefixPipeline)
	}
}

func TestParse_RejectsEmptyAndInvalid(t *testing.T) {
	for _, input := range []string{"", "not a typeid", "job_!!!"} {
		if _, err := id.Parse(input); err == nil {
			t.Errorf("Parse(%q) = nil error, want error", input)
		}
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	jobID := id.NewJobID()

	if _, err := id.ParsePipelineID(jobID.String()); err == nil {
		t.Errorf("ParsePipelineID(%q) = nil error, want prefix mismatch", jobID)
	}
}

func TestNil_Behaviour(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false, want true")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
	if id.NewJobID().IsNil() {
		t.Error("NewJobID().IsNil() = true, want false")
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	type doc struct {
		ID    id.JobID `json:"id"`
		Bound id.JobID `json:"bound,omitempty"`
	}

	orig := doc{ID: id.NewJobID()}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back doc
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ID.String() != orig.ID.String() {
		t.Errorf("ID round trip = %q, want %q", back.ID, orig.ID)
	}
	if !back.Bound.IsNil() {
		t.Errorf("empty ID should unmarshal to Nil, got %q", back.Bound)
	}
}

// Package memory provides a fully in-memory implementation of
// store.Store. Safe for concurrent access. Intended for unit testing
// and development; nothing survives the process.
package memory

import (
	"context"
	"sync"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
	"github.com/kaneko-ai/conductor/retry"
	"github.com/kaneko-ai/conductor/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store holds every document in memory behind one lock. Loads return
// copies so callers can mutate freely before saving back.
type Store struct {
	mu sync.Mutex

	jobs      []job.Job
	pipelines []pipeline.Pipeline
	settings  *conductor.Settings
	audit     []retry.AuditEntry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{}
}

// LoadJobs returns a copy of the jobs document.
func (s *Store) LoadJobs(_ context.Context) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]job.Job, len(s.jobs))
	copy(out, s.jobs)
	return out, nil
}

// SaveJobs replaces the jobs document.
func (s *Store) SaveJobs(_ context.Context, jobs []job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = make([]job.Job, len(jobs))
	copy(s.jobs, jobs)
	return nil
}

// LoadPipelines returns a copy of the pipelines document.
func (s *Store) LoadPipelines(_ context.Context) ([]pipeline.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]pipeline.Pipeline, len(s.pipelines))
	copy(out, s.pipelines)
	for i := range out {
		steps := make([]pipeline.Step, len(out[i].Steps))
		copy(steps, out[i].Steps)
		out[i].Steps = steps
	}
	return out, nil
}

// SavePipelines replaces the pipelines document.
func (s *Store) SavePipelines(_ context.Context, pipelines []pipeline.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pipelines = make([]pipeline.Pipeline, len(pipelines))
	copy(s.pipelines, pipelines)
	for i := range s.pipelines {
		steps := make([]pipeline.Step, len(pipelines[i].Steps))
		copy(steps, pipelines[i].Steps)
		s.pipelines[i].Steps = steps
	}
	return nil
}

// LoadSettings returns the stored settings, materializing the defaults
// on first load like the file backend does.
func (s *Store) LoadSettings(_ context.Context) (conductor.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		defaults := conductor.DefaultSettings()
		s.settings = &defaults
	}
	return *s.settings, nil
}

// SaveSettings replaces the settings document.
func (s *Store) SaveSettings(_ context.Context, settings conductor.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = &settings
	return nil
}

// AppendRetryAudit records an audit entry.
func (s *Store) AppendRetryAudit(_ context.Context, entry retry.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns a copy of all recorded audit entries. Useful in
// tests; the file backend exposes no read path either.
func (s *Store) AuditEntries() []retry.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]retry.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

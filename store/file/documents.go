package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
	"github.com/kaneko-ai/conductor/retry"
	"github.com/kaneko-ai/conductor/store"
)

// Compile-time checks that Store implements every subsystem store.
var (
	_ job.Store               = (*Store)(nil)
	_ pipeline.Store          = (*Store)(nil)
	_ conductor.SettingsStore = (*Store)(nil)
	_ retry.AuditLog          = (*Store)(nil)
	_ store.Store             = (*Store)(nil)
)

type jobsDoc struct {
	SchemaVersion int       `json:"schema_version"`
	Jobs          []job.Job `json:"jobs"`
}

type pipelinesDoc struct {
	SchemaVersion int                 `json:"schema_version"`
	Pipelines     []pipeline.Pipeline `json:"pipelines"`
}

type settingsDoc struct {
	SchemaVersion int                `json:"schema_version"`
	Settings      conductor.Settings `json:"settings"`
}

// migrateJobs upgrades a jobs document one version at a time. The only
// shipped migration (v1→v2) is pass-through, reserved for future layout
// changes.
func migrateJobs(version int, data []byte) ([]byte, error) {
	for version < store.JobsSchemaVersion {
		switch version {
		case 1:
			// v1→v2: layout unchanged.
			version = 2
		default:
			return nil, fmt.Errorf("no migration from jobs version %d", version)
		}
	}
	return data, nil
}

// migratePipelines upgrades a pipelines document. Version 1 is current.
func migratePipelines(version int, _ []byte) ([]byte, error) {
	return nil, fmt.Errorf("no migration from pipelines version %d", version)
}

// migrateSettings upgrades a settings document. Version 1 is current.
func migrateSettings(version int, _ []byte) ([]byte, error) {
	return nil, fmt.Errorf("no migration from settings version %d", version)
}

// LoadJobs returns the persisted jobs. A missing document is an empty
// queue, not an error.
func (s *Store) LoadJobs(_ context.Context) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, ok, err := s.readDocument(jobsFile, store.JobsSchemaVersion, migrateJobs)
	if err != nil || !ok {
		return nil, err
	}
	var doc jobsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("file: decode jobs: %w", err)
	}
	return doc.Jobs, nil
}

// SaveJobs atomically replaces the jobs document.
func (s *Store) SaveJobs(_ context.Context, jobs []job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	return s.writeDocument(jobsFile, store.JobsSchemaVersion, jobsDoc{
		SchemaVersion: store.JobsSchemaVersion,
		Jobs:          jobs,
	})
}

// LoadPipelines returns the persisted pipelines.
func (s *Store) LoadPipelines(_ context.Context) ([]pipeline.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, ok, err := s.readDocument(pipelinesFile, store.PipelinesSchemaVersion, migratePipelines)
	if err != nil || !ok {
		return nil, err
	}
	var doc pipelinesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("file: decode pipelines: %w", err)
	}
	return doc.Pipelines, nil
}

// SavePipelines atomically replaces the pipelines document.
func (s *Store) SavePipelines(_ context.Context, pipelines []pipeline.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if pipelines == nil {
		pipelines = []pipeline.Pipeline{}
	}
	return s.writeDocument(pipelinesFile, store.PipelinesSchemaVersion, pipelinesDoc{
		SchemaVersion: store.PipelinesSchemaVersion,
		Pipelines:     pipelines,
	})
}

// LoadSettings returns the persisted auto-retry policy. When no
// settings document exists yet the defaults are written back first, so
// the file on disk always reflects the effective policy.
func (s *Store) LoadSettings(_ context.Context) (conductor.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return conductor.Settings{}, err
	}
	data, ok, err := s.readDocument(settingsFile, store.SettingsSchemaVersion, migrateSettings)
	if err != nil {
		return conductor.Settings{}, err
	}
	if !ok {
		defaults := conductor.DefaultSettings()
		if err := s.writeDocument(settingsFile, store.SettingsSchemaVersion, settingsDoc{
			SchemaVersion: store.SettingsSchemaVersion,
			Settings:      defaults,
		}); err != nil {
			return conductor.Settings{}, err
		}
		return defaults, nil
	}
	var doc settingsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return conductor.Settings{}, fmt.Errorf("file: decode settings: %w", err)
	}
	return doc.Settings, nil
}

// SaveSettings atomically replaces the settings document.
func (s *Store) SaveSettings(_ context.Context, settings conductor.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeDocument(settingsFile, store.SettingsSchemaVersion, settingsDoc{
		SchemaVersion: store.SettingsSchemaVersion,
		Settings:      settings,
	})
}

// AppendRetryAudit appends one newline-delimited JSON entry to the
// audit log. The log is append-only and never rewritten.
func (s *Store) AppendRetryAudit(_ context.Context, entry retry.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("file: encode audit entry: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, auditFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file: open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("file: append audit entry: %w", err)
	}
	return nil
}

// Package file implements the store interfaces on schema-versioned
// JSON documents with atomic temp-file+rename writes. One directory
// holds the jobs, pipelines, and settings documents plus the
// append-only retry audit log; a crash mid-write never leaves a
// corrupt or partially-written document.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kaneko-ai/conductor"
)

// Document file names inside the store directory.
const (
	jobsFile      = "jobs.json"
	pipelinesFile = "pipelines.json"
	settingsFile  = "settings.json"
	auditFile     = "retry_audit.log"
)

// Store is the file-backed implementation of every subsystem store.
// Safe for concurrent use; each document is guarded by one lock so
// read-modify-write cycles by callers stay serialized at the file too.
type Store struct {
	dir string

	mu     sync.Mutex
	closed bool
}

// Open creates the store directory if needed and returns a Store.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file: create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Close marks the store closed; subsequent operations fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return conductor.ErrStoreClosed
	}
	return nil
}

// envelope decodes only the schema version of a persisted document. An
// absent field means version 1 (legacy documents predate versioning).
type envelope struct {
	SchemaVersion *int `json:"schema_version"`
}

func documentVersion(data []byte) (int, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("file: decode schema version: %w", err)
	}
	if env.SchemaVersion == nil {
		return 1, nil
	}
	return *env.SchemaVersion, nil
}

// readDocument loads a document file and returns its raw bytes migrated
// to exactly wantVersion. Missing files return ok=false. A document
// with a version greater than wantVersion fails with
// ErrSchemaUnsupported: a newer-schema file must not be read (or later
// silently downgraded) by an older program.
func (s *Store) readDocument(name string, wantVersion int, migrate func(version int, data []byte) ([]byte, error)) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("file: read %s: %w", name, err)
	}

	version, err := documentVersion(data)
	if err != nil {
		return nil, false, err
	}
	if version > wantVersion {
		return nil, false, fmt.Errorf("%w: %s is version %d, supported %d",
			conductor.ErrSchemaUnsupported, name, version, wantVersion)
	}
	if version < wantVersion {
		if data, err = migrate(version, data); err != nil {
			return nil, false, fmt.Errorf("file: migrate %s: %w", name, err)
		}
	}
	return data, true, nil
}

// writeDocument atomically replaces a document: serialize to a
// temporary file in the same directory, then rename over the target.
// Before writing it re-checks the on-disk version so a newer-schema
// file is never overwritten by an older program.
func (s *Store) writeDocument(name string, wantVersion int, doc any) error {
	target := filepath.Join(s.dir, name)

	if existing, err := os.ReadFile(target); err == nil {
		version, err := documentVersion(existing)
		if err != nil {
			return err
		}
		if version > wantVersion {
			return fmt.Errorf("%w: %s is version %d, refusing to overwrite",
				conductor.ErrSchemaUnsupported, name, version)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file: read %s: %w", name, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("file: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: replace %s: %w", name, err)
	}
	return nil
}

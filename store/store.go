// Package store defines the aggregate persistence interface. Each
// subsystem (job, pipeline, settings, retry audit) defines its own
// store interface; the composite Store composes them all, and a single
// backend implements everything. Backends: File and Memory.
package store

import (
	"github.com/kaneko-ai/conductor"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
	"github.com/kaneko-ai/conductor/retry"
)

// Current schema versions of the persisted documents. A document with a
// greater version fails both load and save with ErrSchemaUnsupported; a
// document without a version field is treated as version 1.
const (
	// JobsSchemaVersion is the jobs document version. v1→v2 is a
	// pass-through migration reserved for future layout changes.
	JobsSchemaVersion = 2

	// PipelinesSchemaVersion is the pipelines document version.
	PipelinesSchemaVersion = 1

	// SettingsSchemaVersion is the settings document version.
	SettingsSchemaVersion = 1
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	pipeline.Store
	conductor.SettingsStore
	retry.AuditLog

	// Close releases any resources held by the backend.
	Close() error
}

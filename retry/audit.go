package retry

import (
	"context"
	"time"

	"github.com/kaneko-ai/conductor/id"
)

// AuditEntry is one line of the append-only auto-retry audit log.
type AuditEntry struct {
	Timestamp   time.Time     `json:"timestamp"`
	JobID       id.JobID      `json:"job_id"`
	PipelineID  id.PipelineID `json:"pipeline_id,omitempty"`
	Attempt     int           `json:"attempt"`
	NextRetryAt time.Time     `json:"next_retry_at"`
}

// AuditLog records dispatched auto-retries. Exactly one entry is
// appended per dispatch; the log is never read back by the scheduler.
type AuditLog interface {
	AppendRetryAudit(ctx context.Context, entry AuditEntry) error
}

// NopAuditLog discards all entries.
type NopAuditLog struct{}

func (NopAuditLog) AppendRetryAudit(context.Context, AuditEntry) error { return nil }

package conductor

import "errors"

var (
	// Not found errors.
	ErrJobNotFound      = errors.New("conductor: job not found")
	ErrPipelineNotFound = errors.New("conductor: pipeline not found")
	ErrStepNotFound     = errors.New("conductor: pipeline step not found")
	ErrTemplateNotFound = errors.New("conductor: unknown task template")

	// Invalid input errors.
	ErrTemplateDisabled = errors.New("conductor: task template is disabled")
	ErrInvalidKey       = errors.New("conductor: invalid business key")
	ErrInvalidParams    = errors.New("conductor: invalid template parameters")
	ErrEmptyPipeline    = errors.New("conductor: pipeline has no steps")

	// Precondition errors.
	ErrNotRetryable          = errors.New("conductor: job is not in a retryable state")
	ErrRetryWindowNotElapsed = errors.New("conductor: retry window has not elapsed")

	// Store errors.
	ErrSchemaUnsupported = errors.New("conductor: document schema version is newer than this build supports; subsystem is read-only")
	ErrStoreClosed       = errors.New("conductor: store closed")
)

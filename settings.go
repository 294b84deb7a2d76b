package conductor

import "context"

// Settings is the process-wide, persisted auto-retry policy. It is loaded
// lazily; when the settings document is absent the defaults are written
// back so the file on disk always reflects the effective policy.
type Settings struct {
	// AutoRetryEnabled turns the auto-retry scheduler on or off. Manual
	// retries are unaffected.
	AutoRetryEnabled bool `json:"auto_retry_enabled"`

	// AutoRetryMaxPerJob is the scheduler-initiated retry budget per job.
	AutoRetryMaxPerJob int `json:"auto_retry_max_per_job"`

	// AutoRetryMaxPerPipeline is the scheduler-initiated retry budget per
	// pipeline, across all of its steps.
	AutoRetryMaxPerPipeline int `json:"auto_retry_max_per_pipeline"`

	// AutoRetryBaseDelaySeconds is the exponential backoff base delay.
	AutoRetryBaseDelaySeconds float64 `json:"auto_retry_base_delay_seconds"`

	// AutoRetryMaxDelaySeconds caps both computed backoff delays and
	// adapter-supplied retry-after hints.
	AutoRetryMaxDelaySeconds float64 `json:"auto_retry_max_delay_seconds"`
}

// DefaultSettings returns the auto-retry policy used when no settings
// document exists yet.
func DefaultSettings() Settings {
	return Settings{
		AutoRetryEnabled:          true,
		AutoRetryMaxPerJob:        3,
		AutoRetryMaxPerPipeline:   6,
		AutoRetryBaseDelaySeconds: 15,
		AutoRetryMaxDelaySeconds:  300,
	}
}

// SettingsStore is the persistence contract for the settings document.
type SettingsStore interface {
	// LoadSettings returns the persisted settings, writing the defaults
	// back first if no document exists yet.
	LoadSettings(ctx context.Context) (Settings, error)

	// SaveSettings persists the settings document.
	SaveSettings(ctx context.Context, s Settings) error
}

package conductor

import "time"

// Config holds tunables for the engine. The defaults are deliberately
// conservative: the worker polls on a bounded interval rather than using
// event-driven wake-up, which keeps crash recovery trivial.
type Config struct {
	// DataDir is the directory holding the persisted state documents
	// (jobs, pipelines, settings) and the auto-retry audit log.
	DataDir string

	// PollInterval is how often the worker checks for a queued job when
	// idle.
	PollInterval time.Duration

	// TaskMinInterval is the minimum spacing between consecutive external
	// task launches. Zero disables throttling.
	TaskMinInterval time.Duration

	// RetrySchedule is the auto-retry scheduler's tick schedule, as a
	// cron descriptor (e.g. "@every 5s").
	RetrySchedule string

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:         "conductor-data",
		PollInterval:    500 * time.Millisecond,
		TaskMinInterval: 0,
		RetrySchedule:   "@every 5s",
		ShutdownTimeout: 30 * time.Second,
	}
}

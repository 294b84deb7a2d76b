// Package observability records lifecycle metrics for Conductor using
// OpenTelemetry. Register MetricsHook with the hook registry to track
// completion counts, failure rates, retry pressure, and pipeline
// outcomes. Without a configured MeterProvider the instruments are
// noops and the hook costs nothing.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kaneko-ai/conductor/hook"
	"github.com/kaneko-ai/conductor/job"
	"github.com/kaneko-ai/conductor/pipeline"
)

// meterName is the instrumentation scope name for conductor metrics.
const meterName = "github.com/kaneko-ai/conductor"

// Compile-time interface checks.
var (
	_ hook.Hook              = (*MetricsHook)(nil)
	_ hook.JobCompleted      = (*MetricsHook)(nil)
	_ hook.JobFailed         = (*MetricsHook)(nil)
	_ hook.JobRetryPending   = (*MetricsHook)(nil)
	_ hook.PipelineCompleted = (*MetricsHook)(nil)
	_ hook.PipelineHalted    = (*MetricsHook)(nil)
	_ hook.RetryScheduled    = (*MetricsHook)(nil)
)

// MetricsHook counts lifecycle events.
//
// Instruments:
//   - conductor.job.finished (Int64Counter): finished jobs, with
//     attributes template_id and status
//   - conductor.retry.dispatched (Int64Counter): auto-retries dispatched
//   - conductor.pipeline.finished (Int64Counter): finished pipelines,
//     with attribute status
type MetricsHook struct {
	jobFinished      metric.Int64Counter
	retryDispatched  metric.Int64Counter
	pipelineFinished metric.Int64Counter
}

// NewMetricsHook creates a MetricsHook using the global MeterProvider.
func NewMetricsHook() *MetricsHook {
	return NewMetricsHookWithMeter(otel.Meter(meterName))
}

// NewMetricsHookWithMeter creates a MetricsHook with the provided
// meter. This variant allows injecting a specific MeterProvider for
// testing.
func NewMetricsHookWithMeter(meter metric.Meter) *MetricsHook {
	// Instruments are created once; the OTel API guarantees noop
	// fallbacks on error, so the hook degrades gracefully.
	jobFinished, _ := meter.Int64Counter(
		"conductor.job.finished",
		metric.WithDescription("Total finished jobs by terminal status"),
		metric.WithUnit("{job}"),
	)
	retryDispatched, _ := meter.Int64Counter(
		"conductor.retry.dispatched",
		metric.WithDescription("Total auto-retries dispatched by the scheduler"),
		metric.WithUnit("{retry}"),
	)
	pipelineFinished, _ := meter.Int64Counter(
		"conductor.pipeline.finished",
		metric.WithDescription("Total finished pipelines by terminal status"),
		metric.WithUnit("{pipeline}"),
	)
	return &MetricsHook{
		jobFinished:      jobFinished,
		retryDispatched:  retryDispatched,
		pipelineFinished: pipelineFinished,
	}
}

// Name implements hook.Hook.
func (m *MetricsHook) Name() string { return "observability-metrics" }

func (m *MetricsHook) recordJob(ctx context.Context, j *job.Job) {
	m.jobFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("template_id", j.TemplateID),
		attribute.String("status", string(j.Status)),
	))
}

// OnJobCompleted implements hook.JobCompleted.
func (m *MetricsHook) OnJobCompleted(ctx context.Context, j *job.Job) error {
	m.recordJob(ctx, j)
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsHook) OnJobFailed(ctx context.Context, j *job.Job) error {
	m.recordJob(ctx, j)
	return nil
}

// OnJobRetryPending implements hook.JobRetryPending.
func (m *MetricsHook) OnJobRetryPending(ctx context.Context, j *job.Job) error {
	m.recordJob(ctx, j)
	return nil
}

// OnPipelineCompleted implements hook.PipelineCompleted.
func (m *MetricsHook) OnPipelineCompleted(ctx context.Context, p *pipeline.Pipeline) error {
	m.pipelineFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(p.Status)),
	))
	return nil
}

// OnPipelineHalted implements hook.PipelineHalted.
func (m *MetricsHook) OnPipelineHalted(ctx context.Context, p *pipeline.Pipeline) error {
	m.pipelineFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(p.Status)),
	))
	return nil
}

// OnRetryScheduled implements hook.RetryScheduled.
func (m *MetricsHook) OnRetryScheduled(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retryDispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("template_id", j.TemplateID),
	))
	return nil
}

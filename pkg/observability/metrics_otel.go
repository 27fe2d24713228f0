package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// JobMetrics holds OpenTelemetry instruments for scheduled maintenance jobs.
// They are exported through the meter provider installed by InitOTel; with
// no provider installed the global no-op meter is used.
type JobMetrics struct {
	runsTotal       metric.Int64Counter
	runDuration     metric.Float64Histogram
	recordsArchived metric.Int64Counter
	violationsFound metric.Int64Counter
}

// NewJobMetrics creates job instruments from the global meter provider
func NewJobMetrics() (*JobMetrics, error) {
	return NewJobMetricsWithMeter(otel.Meter(instrumentationName))
}

// NewJobMetricsWithMeter creates job instruments from meter
func NewJobMetricsWithMeter(meter metric.Meter) (*JobMetrics, error) {
	m := &JobMetrics{}
	var err error

	m.runsTotal, err = meter.Int64Counter(
		"warden.job.runs",
		metric.WithDescription("Scheduled job runs by job and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job runs counter: %w", err)
	}

	m.runDuration, err = meter.Float64Histogram(
		"warden.job.duration",
		metric.WithDescription("Scheduled job duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job duration histogram: %w", err)
	}

	m.recordsArchived, err = meter.Int64Counter(
		"warden.audit.records_archived",
		metric.WithDescription("Audit records copied to the archive"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create archived records counter: %w", err)
	}

	m.violationsFound, err = meter.Int64Counter(
		"warden.hierarchy.violations_found",
		metric.WithDescription("Hierarchy integrity violations reported by verification runs"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create violations counter: %w", err)
	}

	return m, nil
}

// RecordRun records one run of job
func (m *JobMetrics) RecordRun(ctx context.Context, job string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	)
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("job", job)))
}

// RecordArchived counts records written by an archive run
func (m *JobMetrics) RecordArchived(ctx context.Context, records int) {
	m.recordsArchived.Add(ctx, int64(records))
}

// RecordViolations counts violations reported by a verification run
func (m *JobMetrics) RecordViolations(ctx context.Context, violations int) {
	m.violationsFound.Add(ctx, int64(violations))
}

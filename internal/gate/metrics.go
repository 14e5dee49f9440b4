package gate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"plangate/pkg/models"
)

// Metric names exported by the gate.
const (
	MetricValidations        = "plangate.validations"
	MetricValidationDuration = "plangate.validation.duration"
	MetricFindings           = "plangate.findings"
	MetricCorrections        = "plangate.corrections"
)

// Validation outcomes used as the "outcome" metric attribute.
const (
	outcomePassed = "passed"
	outcomeFailed = "failed"
	outcomeCached = "cached"
)

type metrics struct {
	validations metric.Int64Counter
	duration    metric.Float64Histogram
	findings    metric.Int64Counter
	corrections metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error
	if m.validations, err = meter.Int64Counter(MetricValidations,
		metric.WithDescription("Plan validations by outcome"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram(MetricValidationDuration,
		metric.WithDescription("Time spent validating a plan"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.findings, err = meter.Int64Counter(MetricFindings,
		metric.WithDescription("Findings by type and severity"),
	); err != nil {
		return nil, err
	}
	if m.corrections, err = meter.Int64Counter(MetricCorrections,
		metric.WithDescription("Auto-corrections applied by type"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// noopMetrics is used when instrument creation fails.
func noopMetrics() *metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

func (m *metrics) recordValidation(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.validations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
}

func (m *metrics) recordFindings(ctx context.Context, findings ...[]models.Finding) {
	for _, list := range findings {
		for _, f := range list {
			m.findings.Add(ctx, 1, metric.WithAttributes(
				attribute.String("type", string(f.Type)),
				attribute.String("severity", string(f.Severity)),
			))
		}
	}
}

func (m *metrics) recordCorrections(ctx context.Context, corrections []models.Correction) {
	for _, c := range corrections {
		m.corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(c.Type))))
	}
}

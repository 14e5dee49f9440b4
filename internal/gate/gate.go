// Package gate decides whether an execution plan may run.
//
// A Gate checks every node, workflow, tool and service a plan references
// against a registry, classifies what it finds into blocking errors and
// advisory warnings, and tries to repair misspelled references by renaming
// them to the closest registry name. Results are cached by plan fingerprint
// for CacheTTL, and every validation updates process-wide statistics and the
// audit sink.
//
// A Gate is safe for concurrent use. The cache, the statistics and the
// correction history are each guarded by their own lock, and corrections are
// applied to a private copy of the caller's plan.
package gate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"plangate/internal/registry"
	"plangate/pkg/models"
)

const (
	// ServiceName is reported in results, statistics and health.
	ServiceName = "plangate"
	// Version of the gate service.
	Version = "1.0.0"

	// DefaultFileCheckTimeout bounds each filesystem stat made by the checks.
	DefaultFileCheckTimeout = 2 * time.Second

	instrumentationName = "plangate/internal/gate"
)

// Logger is the logging surface used by the gate.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AuditSink receives one entry per validation that ran the checks.
// Recording is best effort; a failure is logged and otherwise ignored.
type AuditSink interface {
	Record(ctx context.Context, entry models.AuditEntry) error
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithAuditSink sets where audit entries are sent.
func WithAuditSink(s AuditSink) Option {
	return func(g *Gate) { g.audit = s }
}

// WithClock replaces time.Now, for the cache TTL and timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithFileStat replaces os.Stat for the workflow file and tool executable checks.
func WithFileStat(stat StatFunc) Option {
	return func(g *Gate) { g.stat = stat }
}

// WithFileCheckTimeout bounds each filesystem stat.
func WithFileCheckTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.fileCheckTimeout = d
		}
	}
}

// WithAutoCorrection enables or disables renaming of unresolved references.
// It is enabled by default.
func WithAutoCorrection(enabled bool) Option {
	return func(g *Gate) { g.autoCorrect = enabled }
}

// WithReverifyCorrections makes the gate re-run the checks on a corrected
// plan instead of assuming every correction resolved its error. Off by default.
func WithReverifyCorrections(enabled bool) Option {
	return func(g *Gate) { g.reverify = enabled }
}

// WithMeterProvider sets the OpenTelemetry meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(g *Gate) { g.meterProvider = mp }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gate) { g.tracerProvider = tp }
}

// Gate validates execution plans against a registry.
type Gate struct {
	source registry.Source

	cache    *Cache
	counters *counters
	history  *history

	audit  AuditSink
	logger Logger

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *metrics
	tracer         trace.Tracer

	now              func() time.Time
	stat             StatFunc
	fileCheckTimeout time.Duration
	autoCorrect      bool
	reverify         bool
}

// New creates a Gate reading from source.
func New(source registry.Source, opts ...Option) *Gate {
	g := &Gate{
		source:           source,
		counters:         newCounters(),
		history:          &history{},
		logger:           discardLogger{},
		now:              time.Now,
		stat:             os.Stat,
		fileCheckTimeout: DefaultFileCheckTimeout,
		autoCorrect:      true,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.cache = NewCache(CacheTTL, g.now)

	if g.meterProvider == nil {
		g.meterProvider = otel.GetMeterProvider()
	}
	m, err := newMetrics(g.meterProvider.Meter(instrumentationName))
	if err != nil {
		g.logger.Warn("failed to create gate metrics, continuing without them", "error", err)
		m = noopMetrics()
	}
	g.metrics = m

	if g.tracerProvider == nil {
		g.tracerProvider = otel.GetTracerProvider()
	}
	g.tracer = g.tracerProvider.Tracer(instrumentationName)

	return g
}

// Validate decides whether plan may run. It never fails: unknown references
// and configuration gaps are reported as findings in the result. A nil plan
// is treated as an empty one. The caller's plan is never modified; the
// possibly corrected copy is returned as CorrectedPlan.
func (g *Gate) Validate(ctx context.Context, plan *models.ExecutionPlan) *models.ValidationResult {
	started := time.Now()
	ctx, span := g.tracer.Start(ctx, "gate.Validate")
	defer span.End()

	g.counters.validationStarted()

	key := Fingerprint(plan)
	span.SetAttributes(attribute.String("plangate.fingerprint", key))

	if cached, ok := g.cache.Get(key); ok {
		g.counters.cacheHit()
		g.metrics.recordValidation(ctx, outcomeCached, time.Since(started))
		span.SetAttributes(
			attribute.Bool("plangate.cache_hit", true),
			attribute.Bool("plangate.valid", cached.Valid),
		)
		g.logger.Debug("using cached validation",
			"fingerprint", key,
			"validation_id", cached.ValidationID,
			"age", g.now().Sub(cached.Timestamp).Round(time.Second).String(),
		)
		return cached
	}

	view := g.source.View()
	working := plan.Clone()
	chk := &checker{view: view, stat: g.stat, statTimeout: g.fileCheckTimeout}

	result := &models.ValidationResult{
		ValidationID:  uuid.NewString(),
		Valid:         true,
		Errors:        []models.Finding{},
		Warnings:      []models.Finding{},
		Corrections:   []models.Correction{},
		CorrectedPlan: working,
		Timestamp:     g.now(),
		ValidatedBy:   ServiceName,
	}

	checked := chk.run(ctx, working)
	result.Errors = append(result.Errors, checked.errors...)
	result.Warnings = append(result.Warnings, checked.warnings...)
	result.Valid = len(result.Errors) == 0
	g.metrics.recordFindings(ctx, checked.errors, checked.warnings)

	if !result.Valid && g.autoCorrect {
		g.correct(ctx, chk, result)
	}

	g.counters.finished(result.Valid, len(result.Corrections), checked.patterns)
	g.cache.Put(key, result)
	g.emitAudit(ctx, key, result)

	outcome := outcomePassed
	if !result.Valid {
		outcome = outcomeFailed
		span.SetStatus(codes.Error, "plan rejected")
	}
	g.metrics.recordValidation(ctx, outcome, time.Since(started))
	span.SetAttributes(
		attribute.Bool("plangate.cache_hit", false),
		attribute.Bool("plangate.valid", result.Valid),
		attribute.Int("plangate.errors", len(result.Errors)),
		attribute.Int("plangate.warnings", len(result.Warnings)),
		attribute.Int("plangate.corrections", len(result.Corrections)),
	)

	g.logger.Info("plan validated",
		"validation_id", result.ValidationID,
		"valid", result.Valid,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings),
		"corrections", len(result.Corrections),
	)
	return result
}

// correct runs the auto-correction pass over result's errors and re-decides
// validity. Errors a correction was applied for are dropped from the result
// unless reverification is enabled, in which case the corrected plan is
// checked again and its findings replace the original ones.
func (g *Gate) correct(ctx context.Context, chk *checker, result *models.ValidationResult) {
	fix := autoCorrect(result.CorrectedPlan, result.Errors, chk.view, SimilarityThreshold)
	if !fix.corrected() {
		g.logger.Debug("no auto-correction candidates", "validation_id", result.ValidationID, "errors", len(result.Errors))
		return
	}

	now := g.now()
	records := make([]models.CorrectionRecord, 0, len(fix.corrections))
	for _, c := range fix.corrections {
		records = append(records, models.CorrectionRecord{
			Timestamp: now,
			Original:  c.Original,
			Corrected: c.CorrectedTo,
			Type:      c.Type,
		})
		g.logger.Info("auto-corrected plan reference",
			"validation_id", result.ValidationID,
			"type", c.Type,
			"original", c.Original,
			"corrected_to", c.CorrectedTo,
			"confidence", fmt.Sprintf("%.0f%%", c.Confidence*100),
		)
	}
	g.history.append(records...)
	g.metrics.recordCorrections(ctx, fix.corrections)

	result.Corrections = fix.corrections
	if g.reverify {
		rechecked := chk.run(ctx, result.CorrectedPlan)
		result.Errors = append([]models.Finding{}, rechecked.errors...)
		result.Warnings = append([]models.Finding{}, rechecked.warnings...)
	} else {
		result.Errors = unresolved(result.Errors, fix.resolved)
	}
	result.Valid = len(result.Errors) == 0
}

func (g *Gate) emitAudit(ctx context.Context, fingerprint string, result *models.ValidationResult) {
	if g.audit == nil {
		return
	}
	entry := models.AuditEntry{
		ID:           uuid.NewString(),
		ValidationID: result.ValidationID,
		Timestamp:    result.Timestamp,
		Fingerprint:  fingerprint,
		Valid:        result.Valid,
		Errors:       len(result.Errors),
		Warnings:     len(result.Warnings),
		Corrections:  len(result.Corrections),
	}
	if err := g.audit.Record(ctx, entry); err != nil {
		g.logger.Warn("failed to record validation audit entry", "validation_id", result.ValidationID, "error", err)
	}
}

// Statistics returns a snapshot of the counters, the error-pattern histogram
// and the most recent corrections.
func (g *Gate) Statistics() StatisticsReport {
	stats, patterns := g.counters.snapshot()
	return StatisticsReport{
		Service: ServiceInfo{
			Name:        ServiceName,
			Version:     Version,
			Description: "Pre-execution plan validation and auto-correction",
		},
		Statistics:        stats,
		SuccessRate:       ratio(stats.PassedValidations, stats.TotalValidations),
		ErrorPatterns:     patterns,
		RecentCorrections: g.history.last(recentCorrections),
		CacheHitRate:      ratio(stats.CachedValidations, stats.TotalValidations),
		CacheSize:         g.cache.Len(),
		AutoCorrection:    g.autoCorrect,
	}
}

// Health returns the gate's health summary.
func (g *Gate) Health() Health {
	stats, _ := g.counters.snapshot()
	return Health{
		Status:            "healthy",
		Service:           ServiceName,
		Version:           Version,
		UptimeValidations: stats.TotalValidations,
		SuccessRate:       fmt.Sprintf("%.1f%%", ratio(stats.PassedValidations, stats.TotalValidations)*100),
		Timestamp:         g.now(),
	}
}

// CorrectionHistoryLen returns the number of corrections recorded since start.
func (g *Gate) CorrectionHistoryLen() int {
	return g.history.len()
}

// PurgeCache drops every cached result and returns how many were dropped.
func (g *Gate) PurgeCache() int {
	n := g.cache.Purge()
	g.logger.Info("validation cache cleared", "entries", n)
	return n
}

// SweepCache drops expired cached results and returns how many were dropped.
func (g *Gate) SweepCache() int {
	return g.cache.Sweep()
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

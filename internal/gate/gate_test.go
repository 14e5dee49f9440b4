package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"plangate/internal/registry"
	"plangate/internal/similarity"
	"plangate/pkg/models"
)

// testSnapshot is the registry most gate tests run against.
func testSnapshot(t *testing.T) registry.Snapshot {
	t.Helper()
	dir := t.TempDir()
	flowFile := filepath.Join(dir, "release.yaml")
	require.NoError(t, os.WriteFile(flowFile, []byte("steps: []\n"), 0o644))

	return registry.Snapshot{
		Nodes: map[string]registry.Node{
			"build-tool":    {Status: registry.StatusActive, PrimaryTool: "compiler"},
			"deploy-runner": {Status: registry.StatusActive, Dependencies: []string{"kubectl", "helm"}},
			"legacy-runner": {Status: registry.StatusDisabled},
		},
		Workflows: map[string]registry.Workflow{
			"release":       {FilePath: flowFile},
			"nightly-build": {},
			"broken-flow":   {FilePath: filepath.Join(dir, "missing.yaml")},
		},
		Tools: map[string]registry.Tool{
			"compiler": {},
			"kubectl":  {},
			"linter":   {},
		},
		Services: map[string]registry.Service{
			"artifact-store": {Endpoint: "http://artifacts.internal"},
			"metrics-sink":   {},
			"queue":          {HealthCheckURL: "http://queue.internal/health", Status: registry.StatusError},
		},
	}
}

func newTestGate(t *testing.T, opts ...Option) *Gate {
	t.Helper()
	return New(registry.New(testSnapshot(t)), opts...)
}

func nodes(names ...string) []models.PlanEntry {
	out := make([]models.PlanEntry, len(names))
	for i, n := range names {
		out[i] = models.PlanEntry{Name: n}
	}
	return out
}

// countingView counts registry lookups so tests can tell whether checks ran.
type countingView struct {
	registry.View
	lookups atomic.Int64
}

func (c *countingView) Node(name string) (registry.Node, bool) {
	c.lookups.Add(1)
	return c.View.Node(name)
}

func (c *countingView) Workflow(name string) (registry.Workflow, bool) {
	c.lookups.Add(1)
	return c.View.Workflow(name)
}

func (c *countingView) Tool(name string) (registry.Tool, bool) {
	c.lookups.Add(1)
	return c.View.Tool(name)
}

func (c *countingView) Service(name string) (registry.Service, bool) {
	c.lookups.Add(1)
	return c.View.Service(name)
}

type countingSource struct {
	view *countingView
}

func (s countingSource) View() registry.View { return s.view }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// MockAuditSink is a testify mock of AuditSink
type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) Record(ctx context.Context, entry models.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func TestValidate_TypoIsCorrected(t *testing.T) {
	g := newTestGate(t)
	plan := &models.ExecutionPlan{NodesToInvoke: nodes("buld-tool")}

	result := g.Validate(context.Background(), plan)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Corrections, 1)
	c := result.Corrections[0]
	assert.Equal(t, "buld-tool", c.Original)
	assert.Equal(t, "build-tool", c.CorrectedTo)
	assert.Equal(t, models.KindNodeNotFound, c.Type)
	assert.InDelta(t, 18.0/19.0, c.Confidence, 1e-9)
	assert.Equal(t, "Fuzzy match with 95% similarity", c.Reason)

	require.Len(t, result.CorrectedPlan.NodesToInvoke, 1)
	assert.Equal(t, "build-tool", result.CorrectedPlan.NodesToInvoke[0].Name)
	assert.True(t, result.CorrectedPlan.NodesToInvoke[0].AutoCorrected)

	// the caller's plan is untouched
	assert.Equal(t, "buld-tool", plan.NodesToInvoke[0].Name)
	assert.False(t, plan.NodesToInvoke[0].AutoCorrected)

	stats := g.Statistics()
	assert.Equal(t, int64(1), stats.Statistics.PassedValidations)
	assert.Equal(t, int64(1), stats.Statistics.AutoCorrections)
	assert.Equal(t, 1, stats.ErrorPatterns[models.KindNodeNotFound])
	require.Len(t, stats.RecentCorrections, 1)
	assert.Equal(t, "build-tool", stats.RecentCorrections[0].Corrected)
}

func TestValidate_UnknownWorkflowWithoutCandidate(t *testing.T) {
	g := newTestGate(t)
	for _, name := range []string{"release", "nightly-build", "broken-flow"} {
		require.LessOrEqual(t, similarity.Ratio("ghost-flow", name), SimilarityThreshold, name)
	}

	result := g.Validate(context.Background(), &models.ExecutionPlan{
		WorkflowsToExecute: nodes("ghost-flow"),
	})

	assert.False(t, result.Valid)
	assert.Empty(t, result.Corrections)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.Finding{
		Type:      models.KindWorkflowNotFound,
		Component: "ghost-flow",
		Message:   "Workflow 'ghost-flow' not found in registry",
		Severity:  models.SeverityCritical,
	}, result.Errors[0])
	assert.Equal(t, "ghost-flow", result.CorrectedPlan.WorkflowsToExecute[0].Name)
	assert.Equal(t, int64(1), g.Statistics().Statistics.FailedValidations)
}

func TestValidate_DisabledNodeIsNotCorrected(t *testing.T) {
	g := newTestGate(t)

	result := g.Validate(context.Background(), &models.ExecutionPlan{
		NodesToInvoke: nodes("legacy-runner"),
	})

	assert.False(t, result.Valid)
	assert.Empty(t, result.Corrections)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.KindNodeDisabled, result.Errors[0].Type)
	assert.Equal(t, models.SeverityHigh, result.Errors[0].Severity)
	assert.Zero(t, g.CorrectionHistoryLen())
}

func TestValidate_RepeatedPlanIsServedFromCache(t *testing.T) {
	view := &countingView{View: registry.New(testSnapshot(t))}
	g := New(countingSource{view: view})
	plan := &models.ExecutionPlan{
		NodesToInvoke:    nodes("build-tool"),
		ToolsToUse:       nodes("linter"),
		ServicesRequired: nodes("artifact-store"),
	}

	first := g.Validate(context.Background(), plan)
	lookups := view.lookups.Load()
	require.NotZero(t, lookups)

	second := g.Validate(context.Background(), plan)

	assert.Equal(t, lookups, view.lookups.Load(), "checks must not run for a cached plan")
	assert.Equal(t, first, second)
	stats := g.Statistics().Statistics
	assert.Equal(t, int64(2), stats.TotalValidations)
	assert.Equal(t, int64(1), stats.CachedValidations)
	assert.Equal(t, int64(1), stats.PassedValidations)
	assert.InDelta(t, 0.5, g.Statistics().CacheHitRate, 1e-9)
}

func TestValidate_CacheExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	view := &countingView{View: registry.New(testSnapshot(t))}
	g := New(countingSource{view: view}, WithClock(clock.Now))
	plan := &models.ExecutionPlan{NodesToInvoke: nodes("build-tool")}

	g.Validate(context.Background(), plan)
	clock.Advance(CacheTTL - time.Second)
	g.Validate(context.Background(), plan)
	assert.Equal(t, int64(1), g.Statistics().Statistics.CachedValidations)

	before := view.lookups.Load()
	clock.Advance(time.Second)
	g.Validate(context.Background(), plan)

	assert.Greater(t, view.lookups.Load(), before)
	assert.Equal(t, int64(1), g.Statistics().Statistics.CachedValidations)
	assert.Equal(t, int64(2), g.Statistics().Statistics.PassedValidations)
}

func TestValidate_CachedResultIsIsolated(t *testing.T) {
	g := newTestGate(t)
	plan := &models.ExecutionPlan{NodesToInvoke: nodes("buld-tool")}

	first := g.Validate(context.Background(), plan)
	first.CorrectedPlan.NodesToInvoke[0].Name = "tampered"
	first.Errors = append(first.Errors, models.Finding{Type: models.KindNodeNotFound})

	second := g.Validate(context.Background(), plan)
	assert.Equal(t, "build-tool", second.CorrectedPlan.NodesToInvoke[0].Name)
	assert.Empty(t, second.Errors)
}

func TestValidate_KeyOrderDoesNotChangeFingerprint(t *testing.T) {
	a, err := models.DecodePlan([]byte(`{"tools_to_use":[{"name":"linter","metadata":{"x":1,"y":2}}],"nodes_to_invoke":[{"name":"build-tool"}]}`))
	require.NoError(t, err)
	b, err := models.DecodePlan([]byte(`{"nodes_to_invoke":[{"name":"build-tool"}],"tools_to_use":[{"metadata":{"y":2,"x":1},"name":"linter"}]}`))
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	g := newTestGate(t)
	g.Validate(context.Background(), a)
	g.Validate(context.Background(), b)
	assert.Equal(t, int64(1), g.Statistics().Statistics.CachedValidations)
}

func TestValidate_WarningsDoNotInvalidate(t *testing.T) {
	g := newTestGate(t)

	result := g.Validate(context.Background(), &models.ExecutionPlan{
		NodesToInvoke:    nodes("deploy-runner"),
		ServicesRequired: nodes("unknown-svc", "metrics-sink", "queue"),
	})

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	kinds := make([]models.FindingKind, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		assert.False(t, w.Severity.Blocking())
		kinds = append(kinds, w.Type)
	}
	assert.Equal(t, []models.FindingKind{
		models.KindMissingDependencies,
		models.KindServiceUnregistered,
		models.KindServiceUnconfigured,
		models.KindServiceUnhealthy,
	}, kinds)
}

func TestValidate_MixedErrorsStayInvalid(t *testing.T) {
	g := newTestGate(t)

	result := g.Validate(context.Background(), &models.ExecutionPlan{
		NodesToInvoke:      nodes("buld-tool"),
		WorkflowsToExecute: nodes("ghost-flow"),
	})

	assert.False(t, result.Valid)
	require.Len(t, result.Corrections, 1)
	assert.Equal(t, "build-tool", result.Corrections[0].CorrectedTo)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.KindWorkflowNotFound, result.Errors[0].Type)
	assert.Equal(t, int64(1), g.Statistics().Statistics.FailedValidations)
	assert.Equal(t, int64(1), g.Statistics().Statistics.AutoCorrections)
}

func TestValidate_DuplicateReferencesCorrectedOnce(t *testing.T) {
	g := newTestGate(t)

	result := g.Validate(context.Background(), &models.ExecutionPlan{
		ToolsToUse: nodes("lintr", "compiler", "lintr"),
	})

	assert.True(t, result.Valid)
	require.Len(t, result.Corrections, 1)
	assert.Equal(t, "linter", result.Corrections[0].CorrectedTo)
	got := result.CorrectedPlan.ToolsToUse
	assert.Equal(t, "linter", got[0].Name)
	assert.True(t, got[0].AutoCorrected)
	assert.Equal(t, "compiler", got[1].Name)
	assert.False(t, got[1].AutoCorrected)
	assert.Equal(t, "linter", got[2].Name)
	assert.True(t, got[2].AutoCorrected)
}

func TestValidate_CorrectionToDisabledNode(t *testing.T) {
	snap := registry.Snapshot{
		Nodes: map[string]registry.Node{"runner-a": {Status: registry.StatusDisabled}},
	}
	plan := &models.ExecutionPlan{NodesToInvoke: nodes("runner-b")}

	t.Run("assumed resolved by default", func(t *testing.T) {
		g := New(registry.New(snap))
		result := g.Validate(context.Background(), plan)
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
		assert.Len(t, result.Corrections, 1)
	})

	t.Run("reverified when enabled", func(t *testing.T) {
		g := New(registry.New(snap), WithReverifyCorrections(true))
		result := g.Validate(context.Background(), plan)
		assert.False(t, result.Valid)
		require.Len(t, result.Corrections, 1)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, models.KindNodeDisabled, result.Errors[0].Type)
		assert.Equal(t, "runner-a", result.Errors[0].Component)
	})
}

func TestValidate_AutoCorrectionDisabled(t *testing.T) {
	g := newTestGate(t, WithAutoCorrection(false))

	result := g.Validate(context.Background(), &models.ExecutionPlan{NodesToInvoke: nodes("buld-tool")})

	assert.False(t, result.Valid)
	assert.Empty(t, result.Corrections)
	assert.Equal(t, "buld-tool", result.CorrectedPlan.NodesToInvoke[0].Name)
	assert.False(t, g.Statistics().AutoCorrection)
}

func TestValidate_EmptyAndNilPlans(t *testing.T) {
	g := newTestGate(t)

	for name, plan := range map[string]*models.ExecutionPlan{
		"nil":   nil,
		"empty": {},
	} {
		t.Run(name, func(t *testing.T) {
			result := g.Validate(context.Background(), plan)
			assert.True(t, result.Valid)
			assert.NotNil(t, result.Errors)
			assert.NotNil(t, result.Warnings)
			assert.NotNil(t, result.Corrections)
			assert.NotNil(t, result.CorrectedPlan)
			assert.Equal(t, ServiceName, result.ValidatedBy)
		})
	}
}

func TestValidate_RecordsAuditEntry(t *testing.T) {
	sink := new(MockAuditSink)
	sink.On("Record", mock.Anything, mock.MatchedBy(func(e models.AuditEntry) bool {
		return !e.Valid && e.Errors == 1 && e.Corrections == 0 && e.ID != "" && e.Fingerprint != ""
	})).Return(nil).Once()

	g := newTestGate(t, WithAuditSink(sink))
	plan := &models.ExecutionPlan{ToolsToUse: nodes("zzz")}
	g.Validate(context.Background(), plan)
	// cache hits are not audited
	g.Validate(context.Background(), plan)

	sink.AssertExpectations(t)
}

func TestValidate_AuditFailureIsIgnored(t *testing.T) {
	sink := new(MockAuditSink)
	sink.On("Record", mock.Anything, mock.Anything).Return(errors.New("db down"))

	g := newTestGate(t, WithAuditSink(sink))
	result := g.Validate(context.Background(), &models.ExecutionPlan{NodesToInvoke: nodes("build-tool")})

	assert.True(t, result.Valid)
	sink.AssertNumberOfCalls(t, "Record", 1)
}

func TestValidate_ErrorPatternsAndRecentCorrections(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		g.Validate(ctx, &models.ExecutionPlan{
			NodesToInvoke: []models.PlanEntry{{Name: "buld-tool", Metadata: map[string]any{"run": i}}},
		})
	}
	g.Validate(ctx, &models.ExecutionPlan{
		WorkflowsToExecute: nodes("ghost-flow", "broken-flow"),
		ToolsToUse:         nodes("zzz"),
	})

	report := g.Statistics()
	assert.Equal(t, 12, report.ErrorPatterns[models.KindNodeNotFound])
	assert.Equal(t, 1, report.ErrorPatterns[models.KindWorkflowNotFound])
	assert.Equal(t, 1, report.ErrorPatterns[models.KindFileNotFound])
	assert.Equal(t, 1, report.ErrorPatterns[models.KindToolNotFound])
	assert.Len(t, report.RecentCorrections, recentCorrections)
	assert.Equal(t, 12, g.CorrectionHistoryLen())
	assert.Equal(t, int64(12), report.Statistics.AutoCorrections)
	assert.Equal(t, 13, report.CacheSize)
	assert.InDelta(t, 12.0/13.0, report.SuccessRate, 1e-9)
}

func TestHealth(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, WithClock(clock.Now))

	h := g.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "0.0%", h.SuccessRate)
	assert.Equal(t, clock.Now(), h.Timestamp)

	g.Validate(context.Background(), &models.ExecutionPlan{NodesToInvoke: nodes("build-tool")})
	g.Validate(context.Background(), &models.ExecutionPlan{NodesToInvoke: nodes("legacy-runner")})

	h = g.Health()
	assert.Equal(t, int64(2), h.UptimeValidations)
	assert.Equal(t, "50.0%", h.SuccessRate)
}

func TestPurgeAndSweepCache(t *testing.T) {
	clock := newFakeClock()
	g := newTestGate(t, WithClock(clock.Now))
	ctx := context.Background()

	g.Validate(ctx, &models.ExecutionPlan{NodesToInvoke: nodes("build-tool")})
	clock.Advance(CacheTTL)
	g.Validate(ctx, &models.ExecutionPlan{NodesToInvoke: nodes("deploy-runner")})

	assert.Equal(t, 1, g.SweepCache())
	assert.Equal(t, 1, g.Statistics().CacheSize)
	assert.Equal(t, 1, g.PurgeCache())
	assert.Equal(t, 0, g.Statistics().CacheSize)
}

func TestValidate_Concurrent(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			plan := &models.ExecutionPlan{
				NodesToInvoke: []models.PlanEntry{{Name: "buld-tool", Metadata: map[string]any{"worker": i % 4}}},
				ToolsToUse:    nodes("linter"),
			}
			result := g.Validate(ctx, plan)
			assert.True(t, result.Valid)
			assert.Equal(t, "buld-tool", plan.NodesToInvoke[0].Name)
		}(i)
	}
	wg.Wait()

	stats := g.Statistics().Statistics
	assert.Equal(t, int64(workers), stats.TotalValidations)
	assert.Equal(t, int64(workers), stats.PassedValidations+stats.CachedValidations)
	assert.Equal(t, stats.PassedValidations, stats.AutoCorrections)
	assert.LessOrEqual(t, g.Statistics().CacheSize, 4)
}

func ExampleGate_Validate() {
	reg := registry.New(registry.Snapshot{
		Nodes: map[string]registry.Node{"build-tool": {Status: registry.StatusActive}},
	})
	g := New(reg)

	result := g.Validate(context.Background(), &models.ExecutionPlan{
		NodesToInvoke: []models.PlanEntry{{Name: "buld-tool"}},
	})

	fmt.Println(result.Valid)
	for _, c := range result.Corrections {
		fmt.Printf("%s -> %s (%s)\n", c.Original, c.CorrectedTo, c.Reason)
	}
	// Output:
	// true
	// buld-tool -> build-tool (Fuzzy match with 95% similarity)
}

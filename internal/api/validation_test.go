package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"plangate/internal/auth"
	"plangate/internal/gate"
	"plangate/internal/registry"
	"plangate/internal/repository"
	"plangate/pkg/models"
)

type MockGateService struct {
	mock.Mock
}

func (m *MockGateService) Validate(ctx context.Context, plan *models.ExecutionPlan) (*models.ValidationResult, error) {
	args := m.Called(ctx, plan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ValidationResult), args.Error(1)
}

func (m *MockGateService) Statistics() gate.StatisticsReport {
	return m.Called().Get(0).(gate.StatisticsReport)
}

func (m *MockGateService) Health() gate.Health {
	return m.Called().Get(0).(gate.Health)
}

func (m *MockGateService) ClearCache() int {
	return m.Called().Int(0)
}

func (m *MockGateService) SearchRegistry(query string, kind registry.Kind, limit int) []registry.Match {
	return m.Called(query, kind, limit).Get(0).([]registry.Match)
}

func (m *MockGateService) AuditEntry(ctx context.Context, validationID string) (*models.AuditEntry, error) {
	args := m.Called(ctx, validationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditEntry), args.Error(1)
}

func (m *MockGateService) RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.AuditEntry), args.Error(1)
}

// newTestServer mounts the API behind a middleware that authenticates every
// request as a principal holding scopes. A nil scopes slice leaves requests
// unauthenticated.
func newTestServer(svc GateService, scopes []string) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if scopes != nil {
				p := &auth.Principal{Subject: "tester", Scopes: scopes}
				c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), p)))
			}
			return next(c)
		}
	})
	RegisterHandlers(g, NewServer(svc))
	return e
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetails {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestValidatePlan(t *testing.T) {
	svc := new(MockGateService)
	result := &models.ValidationResult{
		ValidationID: "v-1",
		Valid:        false,
		Errors: []models.Finding{{
			Type:      models.KindNodeNotFound,
			Component: "ghost",
			Message:   "Node 'ghost' not found in registry",
			Severity:  models.SeverityCritical,
		}},
	}
	svc.On("Validate", mock.Anything, mock.MatchedBy(func(p *models.ExecutionPlan) bool {
		return len(p.NodesToInvoke) == 2 && p.NodesToInvoke[0].Name == "ghost" && p.NodesToInvoke[1].Name == "build-tool"
	})).Return(result, nil)

	e := newTestServer(svc, []string{auth.ScopeGateValidate})
	rec := serve(e, http.MethodPost, "/api/v1/validate",
		`{"nodes_to_invoke": ["ghost", {"name": "build-tool"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Valid)
	assert.Equal(t, "v-1", got.ValidationID)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, models.KindNodeNotFound, got.Errors[0].Type)
	svc.AssertExpectations(t)
}

func TestValidatePlan_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "not json", body: "nodes please", status: http.StatusBadRequest},
		{name: "array instead of object", body: `["build-tool"]`, status: http.StatusBadRequest},
		{name: "too large", body: `{"nodes_to_invoke": ["` + strings.Repeat("a", maxPlanBytes) + `"]}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockGateService)
			e := newTestServer(svc, []string{auth.ScopeGateValidate})

			rec := serve(e, http.MethodPost, "/api/v1/validate", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "/api/v1/validate", p.Instance)
			svc.AssertNotCalled(t, "Validate", mock.Anything, mock.Anything)
		})
	}
}

func TestValidatePlan_ServiceError(t *testing.T) {
	svc := new(MockGateService)
	svc.On("Validate", mock.Anything, mock.Anything).Return(nil, errors.New("registry unavailable"))
	e := newTestServer(svc, []string{auth.ScopeGateValidate})

	rec := serve(e, http.MethodPost, "/api/v1/validate", `{}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "registry unavailable")
}

func TestScopes(t *testing.T) {
	tests := []struct {
		name   string
		scopes []string
		method string
		target string
		status int
	}{
		{name: "unauthenticated", scopes: nil, method: http.MethodGet, target: "/api/v1/statistics", status: http.StatusUnauthorized},
		{name: "read scope cannot validate", scopes: []string{auth.ScopeGateRead}, method: http.MethodPost, target: "/api/v1/validate", status: http.StatusForbidden},
		{name: "validate scope cannot read", scopes: []string{auth.ScopeGateValidate}, method: http.MethodGet, target: "/api/v1/health", status: http.StatusForbidden},
		{name: "read scope cannot clear cache", scopes: []string{auth.ScopeGateRead}, method: http.MethodDelete, target: "/api/v1/cache", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockGateService)
			e := newTestServer(svc, tt.scopes)

			rec := serve(e, tt.method, tt.target, `{}`)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.status, decodeProblem(t, rec).Status)
			svc.AssertExpectations(t)
		})
	}
}

func TestGetStatisticsAndHealth(t *testing.T) {
	svc := new(MockGateService)
	svc.On("Statistics").Return(gate.StatisticsReport{
		Service:    gate.ServiceInfo{Name: gate.ServiceName, Version: gate.Version},
		Statistics: gate.Statistics{TotalValidations: 4, PassedValidations: 3, FailedValidations: 1},
		CacheSize:  2,
	})
	svc.On("Health").Return(gate.Health{Status: "healthy", Service: gate.ServiceName, SuccessRate: "75.0%"})
	e := newTestServer(svc, []string{auth.ScopeGateRead})

	rec := serve(e, http.MethodGet, "/api/v1/statistics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats gate.StatisticsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(4), stats.Statistics.TotalValidations)
	assert.Equal(t, 2, stats.CacheSize)

	rec = serve(e, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health gate.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "75.0%", health.SuccessRate)
}

func TestSearchRegistry(t *testing.T) {
	svc := new(MockGateService)
	svc.On("SearchRegistry", "bld", registry.KindNode, 20).Return([]registry.Match{
		{Kind: registry.KindNode, Name: "build-tool", Score: 12},
	})
	svc.On("SearchRegistry", "bld", registry.Kind(""), 3).Return([]registry.Match{})
	e := newTestServer(svc, []string{auth.ScopeGateRead})

	rec := serve(e, http.MethodGet, "/api/v1/registry/search?q=bld&kind=node", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var matches []registry.Match
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "build-tool", matches[0].Name)

	rec = serve(e, http.MethodGet, "/api/v1/registry/search?q=bld&limit=3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	for _, target := range []string{
		"/api/v1/registry/search",
		"/api/v1/registry/search?q=bld&kind=agent",
		"/api/v1/registry/search?q=bld&limit=-1",
		"/api/v1/registry/search?q=bld&limit=many",
	} {
		rec = serve(e, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	svc.AssertExpectations(t)
}

func TestAuditEndpoints(t *testing.T) {
	svc := new(MockGateService)
	entry := &models.AuditEntry{ID: "a-1", ValidationID: "v-1", Valid: true, Corrections: 1}
	svc.On("AuditEntry", mock.Anything, "v-1").Return(entry, nil)
	svc.On("AuditEntry", mock.Anything, "missing").Return(nil, repository.ErrNotFound)
	svc.On("AuditEntry", mock.Anything, "broken").Return(nil, errors.New("connection reset"))
	svc.On("RecentAudit", mock.Anything, 50).Return([]models.AuditEntry{*entry}, nil)
	e := newTestServer(svc, []string{auth.ScopeGateRead})

	rec := serve(e, http.MethodGet, "/api/v1/audit/v-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "a-1", got.ID)

	rec = serve(e, http.MethodGet, "/api/v1/audit/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "missing")

	rec = serve(e, http.MethodGet, "/api/v1/audit/broken", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = serve(e, http.MethodGet, "/api/v1/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
	svc.AssertExpectations(t)
}

func TestClearCache(t *testing.T) {
	svc := new(MockGateService)
	svc.On("ClearCache").Return(3)
	e := newTestServer(svc, []string{auth.ScopeGateAdmin})

	rec := serve(e, http.MethodDelete, "/api/v1/cache", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared": 3}`, rec.Body.String())
}

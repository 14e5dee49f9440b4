// Package api contains the HTTP handlers for the plan gate service
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"plangate/internal/auth"
	"plangate/internal/gate"
	"plangate/internal/registry"
	"plangate/internal/repository"
	"plangate/pkg/models"
)

// maxPlanBytes bounds the size of a submitted execution plan.
const maxPlanBytes = 1 << 20

// GateService is the behaviour the API needs from the gate service.
type GateService interface {
	Validate(ctx context.Context, plan *models.ExecutionPlan) (*models.ValidationResult, error)
	Statistics() gate.StatisticsReport
	Health() gate.Health
	ClearCache() int
	SearchRegistry(query string, kind registry.Kind, limit int) []registry.Match
	AuditEntry(ctx context.Context, validationID string) (*models.AuditEntry, error)
	RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// Server holds the dependencies for the API server.
type Server struct {
	Gate GateService
}

// NewServer creates a new Server.
func NewServer(svc GateService) *Server {
	return &Server{Gate: svc}
}

// CacheCleared is the response of ClearCache
type CacheCleared struct {
	Cleared int `json:"cleared"`
}

// RegisterHandlers mounts the API routes on g. Each route is guarded by the
// scope it requires; authentication itself is the group's concern.
func RegisterHandlers(g *echo.Group, s *Server) {
	validate := echo.WrapMiddleware(auth.RequireScope(auth.ScopeGateValidate))
	read := echo.WrapMiddleware(auth.RequireScope(auth.ScopeGateRead))
	admin := echo.WrapMiddleware(auth.RequireScope(auth.ScopeGateAdmin))

	g.POST("/validate", s.ValidatePlan, validate)
	g.GET("/statistics", s.GetStatistics, read)
	g.GET("/health", s.GetHealth, read)
	g.GET("/registry/search", s.SearchRegistry, read)
	g.GET("/audit", s.ListAudit, read)
	g.GET("/audit/:validation_id", s.GetAudit, read)
	g.DELETE("/cache", s.ClearCache, admin)
}

// ValidatePlan validates an execution plan. An invalid plan is still a
// successful request; the verdict is in the body.
// (POST /api/v1/validate)
func (s *Server) ValidatePlan(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPlanBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read request body: "+err.Error())
	}
	if len(body) > maxPlanBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Execution plan exceeds 1 MiB")
	}

	plan, err := models.DecodePlan(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	result, err := s.Gate.Validate(ctx, plan)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to validate plan: "+err.Error())
	}

	return c.JSON(http.StatusOK, result)
}

// GetStatistics returns the gate's counters and recent corrections
// (GET /api/v1/statistics)
func (s *Server) GetStatistics(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Gate.Statistics())
}

// GetHealth returns the gate's health summary
// (GET /api/v1/health)
func (s *Server) GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Gate.Health())
}

// SearchRegistry finds registry names matching a query
// (GET /api/v1/registry/search?q=&kind=&limit=)
func (s *Server) SearchRegistry(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Query parameter q is required")
	}
	kind, err := registry.ParseKind(c.QueryParam("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	limit, err := intParam(c, "limit", 20)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, s.Gate.SearchRegistry(query, kind, limit))
}

// ListAudit returns recent audit entries, newest first
// (GET /api/v1/audit?limit=)
func (s *Server) ListAudit(c echo.Context) error {
	limit, err := intParam(c, "limit", 50)
	if err != nil {
		return err
	}
	entries, err := s.Gate.RecentAudit(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list audit entries: "+err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

// GetAudit returns the audit entry of one validation
// (GET /api/v1/audit/{validation_id})
func (s *Server) GetAudit(c echo.Context) error {
	entry, err := s.Gate.AuditEntry(c.Request().Context(), c.Param("validation_id"))
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "No audit entry for validation "+c.Param("validation_id"))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load audit entry: "+err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

// ClearCache drops every cached validation result
// (DELETE /api/v1/cache)
func (s *Server) ClearCache(c echo.Context) error {
	return c.JSON(http.StatusOK, CacheCleared{Cleared: s.Gate.ClearCache()})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Query parameter "+name+" must be a non-negative integer")
	}
	return n, nil
}

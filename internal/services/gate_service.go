package services

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"plangate/internal/gate"
	"plangate/internal/logging"
	"plangate/internal/registry"
	"plangate/internal/repository"
	"plangate/pkg/models"
)

// GateServiceOptions configures a GateService.
type GateServiceOptions struct {
	// RegistryPath is the file ReloadRegistry reads. It is watched for
	// changes when Watch is set.
	RegistryPath string
	Watch        bool
	// SweepInterval is how often expired cache entries are dropped. Zero disables sweeping.
	SweepInterval time.Duration
	// Audit receives an entry per validation. Nil disables auditing.
	Audit  repository.AuditStore
	Logger *logging.Logger
	// GateOptions are passed through to gate.New.
	GateOptions []gate.Option
}

// GateService is a service for validating plans against a live registry.
type GateService struct {
	store   *registry.Store
	gate    *gate.Gate
	watcher *registry.Watcher
	watch   bool
	audit   repository.AuditStore
	logger  *logging.Logger

	sweepInterval time.Duration
}

// NewGateService creates a new GateService serving reg until the registry
// file changes.
func NewGateService(reg *registry.Registry, opts GateServiceOptions) *GateService {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &GateService{
		store:         registry.NewStore(reg),
		watch:         opts.Watch,
		audit:         opts.Audit,
		logger:        logger,
		sweepInterval: opts.SweepInterval,
	}

	gateOpts := []gate.Option{gate.WithLogger(logger.With("component", "gate"))}
	if opts.Audit != nil {
		gateOpts = append(gateOpts, gate.WithAuditSink(opts.Audit))
	}
	gateOpts = append(gateOpts, opts.GateOptions...)
	s.gate = gate.New(s.store, gateOpts...)

	if opts.RegistryPath != "" {
		s.watcher = registry.NewWatcher(opts.RegistryPath, s.store, logger.With("component", "registry"), s.registryReloaded)
	}
	return s
}

// registryReloaded drops cached results, which were computed against the old registry.
func (s *GateService) registryReloaded(*registry.Registry) {
	s.gate.PurgeCache()
}

// Run watches the registry file and sweeps the cache until ctx is cancelled.
func (s *GateService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if s.watch && s.watcher != nil {
		g.Go(func() error {
			return s.watcher.Run(gctx)
		})
	}
	if s.sweepInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(s.sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := s.gate.SweepCache(); n > 0 {
						s.logger.Debug("swept expired validation results", "entries", n)
					}
				}
			}
		})
	}
	return g.Wait()
}

// Validate validates plan. It implements Validator and never returns an error.
func (s *GateService) Validate(ctx context.Context, plan *models.ExecutionPlan) (*models.ValidationResult, error) {
	return s.gate.Validate(ctx, plan), nil
}

// Statistics returns the gate's statistics report.
func (s *GateService) Statistics() gate.StatisticsReport {
	return s.gate.Statistics()
}

// Health returns the gate's health summary.
func (s *GateService) Health() gate.Health {
	return s.gate.Health()
}

// ClearCache drops every cached validation result.
func (s *GateService) ClearCache() int {
	return s.gate.PurgeCache()
}

// SearchRegistry finds registry names matching query.
func (s *GateService) SearchRegistry(query string, kind registry.Kind, limit int) []registry.Match {
	return registry.Search(s.store.View(), query, kind, limit)
}

// RegistryCounts returns the number of records per kind in the live registry.
func (s *GateService) RegistryCounts() map[registry.Kind]int {
	return s.store.Current().Counts()
}

// ReloadRegistry re-reads the registry file now. It is a no-op without a
// registry path.
func (s *GateService) ReloadRegistry() {
	if s.watcher != nil {
		s.watcher.Reload()
	}
}

// AuditEntry returns the audit entry recorded for a validation.
func (s *GateService) AuditEntry(ctx context.Context, validationID string) (*models.AuditEntry, error) {
	if s.audit == nil {
		return nil, repository.ErrNotFound
	}
	return s.audit.Get(ctx, validationID)
}

// RecentAudit returns up to limit audit entries, newest first.
func (s *GateService) RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if s.audit == nil {
		return []models.AuditEntry{}, nil
	}
	return s.audit.List(ctx, limit)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"plangate/internal/api"
	"plangate/internal/auth"
	"plangate/internal/config"
	"plangate/internal/gate"
	"plangate/internal/logging"
	"plangate/internal/mcp"
	"plangate/internal/registry"
	"plangate/internal/repository"
	"plangate/internal/services"
	"plangate/internal/tls"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "plangate-server",
		Short: "Serve the execution plan validation gate",
		Long: `plangate-server validates execution plans against a registry of nodes,
workflows, tools and services before they run.

It serves a REST API under /api/v1, an MCP endpoint under /mcp and
Swagger UI under /docs.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ./config.yaml)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	logger.Info("Configuration loaded",
		"registry", cfg.Registry.Path,
		"audit_backend", cfg.Audit.Backend,
		"auto_correct", cfg.Gate.AutoCorrect,
		"auth_bypass", cfg.Auth.DevBypass,
	)
	if cfg.Auth.DevBypass {
		logger.Warn("Authentication is bypassed; do not expose this server")
	}

	reg, err := registry.LoadFile(cfg.Registry.Path)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	counts := reg.Counts()
	logger.Info("Registry loaded",
		"nodes", counts[registry.KindNode],
		"workflows", counts[registry.KindWorkflow],
		"tools", counts[registry.KindTool],
		"services", counts[registry.KindService],
	)

	// Initialize audit store
	audit, closeAudit, err := initAuditStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	// Initialize service layer
	svc := services.NewGateService(reg, services.GateServiceOptions{
		RegistryPath:  cfg.Registry.Path,
		Watch:         cfg.Registry.Watch,
		SweepInterval: cfg.Gate.CacheSweepInterval,
		Audit:         audit,
		Logger:        logger,
		GateOptions: []gate.Option{
			gate.WithAutoCorrection(cfg.Gate.AutoCorrect),
			gate.WithReverifyCorrections(cfg.Gate.ReverifyCorrections),
			gate.WithFileCheckTimeout(cfg.Gate.FileCheckTimeout),
		},
	})

	serviceCtx, cancelService := context.WithCancel(ctx)
	defer cancelService()
	serviceDone := make(chan error, 1)
	go func() {
		serviceDone <- svc.Run(serviceCtx)
	}()

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler

	// Middleware
	e.Use(otelecho.Middleware(gate.ServiceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Error("request failed", append(args, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", args...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger.With("component", "auth"))
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	handler := api.NewHandler()
	e.GET("/health", echo.WrapHandler(http.HandlerFunc(handler.HandleHealth)))

	// Mount REST API handlers
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(svc))

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	if cfg.Server.EnableMCP {
		mcpServer := mcp.NewServer(svc)
		mcpHandlers := http.NewServeMux()
		mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
		mcpRoute := echo.WrapMiddleware(authz.RequireAuth)(echo.WrapHandler(mcpHandlers))
		e.Any("/mcp", mcpRoute)
		e.Any("/mcp/*", mcpRoute)
		logger.Info("MCP protocol handlers mounted")
	}

	// expose OpenAPI spec (with runtime substitution) and Swagger UI
	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.Issuer)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.Issuer, cfg.Auth.ClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	// Create HTTP server. There is no write timeout because MCP SSE streams stay open.
	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     e,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if !cfg.TLS.Enable {
			serverErrors <- server.ListenAndServe()
			return
		}
		created, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			serverErrors <- err
			return
		}
		if created {
			logger.Info("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hostnames", cfg.TLS.Hostnames)
		}
		serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}()

wait:
	for {
		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case err := <-serviceDone:
			// Run returns early and cleanly when there is nothing to watch or sweep.
			serviceDone = nil
			if err != nil {
				logger.Error("Gate service stopped", "error", err)
				shutdown(server, cfg.Server.ShutdownTimeout, logger)
				return err
			}
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
			break wait
		}
	}

	shutdown(server, cfg.Server.ShutdownTimeout, logger)
	cancelService()
	if serviceDone != nil {
		if err := <-serviceDone; err != nil {
			logger.Error("Gate service stopped with error", "error", err)
		}
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		if err := server.Close(); err != nil {
			logger.Error("Server close error", "error", err)
		}
	}
}

// initAuditStore opens the configured audit backend. The returned func
// releases it and is never nil.
func initAuditStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.AuditStore, func(), error) {
	switch cfg.Audit.Backend {
	case config.AuditMemory:
		return repository.NewExecutionLog(cfg.Audit.MemoryCapacity), func() {}, nil
	case config.AuditPostgres:
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("database initialization failed: %w", err)
		}
		store := repository.NewPostgresAuditStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("create audit schema: %w", err)
		}
		logger.Info("Database connected")
		return store, pool.Close, nil
	}
	return nil, func() {}, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

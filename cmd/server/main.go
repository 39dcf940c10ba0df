package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"pipeline-proxy/internal/api"
	"pipeline-proxy/internal/auth"
	"pipeline-proxy/internal/blobstore"
	"pipeline-proxy/internal/config"
	"pipeline-proxy/internal/identity"
	"pipeline-proxy/internal/logging"
	"pipeline-proxy/internal/mcp"
	"pipeline-proxy/internal/metrics"
	"pipeline-proxy/internal/repository"
	"pipeline-proxy/internal/services"
	"pipeline-proxy/internal/tracing"
	"pipeline-proxy/internal/workflow"
)

var version = "dev"

func main() {
	ctx := context.Background()

	configFile := flag.String("config", "", "Path to config.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logging.NewLogger().Error("failed to load configuration", "error", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Logging initialization failed: %v", err)
	}
	defer closeLog()

	logger.Info("Starting pipeline proxy",
		"version", version,
		"environment", cfg.Environment,
		"workflow_url", cfg.Workflow.URL,
		"auth_issuer", cfg.Auth.Issuer,
	)
	if cfg.IsDev() && cfg.DevModeBypass {
		logger.Warn("authentication is bypassed; every caller may act for every organization")
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	// Initialize database connection
	dbPool, err := repository.Connect(ctx, cfg.DSN(), cfg.DB.MaxConns)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	if err := repository.Migrate(ctx, dbPool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("Database connected")

	blobs, err := blobstore.Connect(ctx, cfg.NATS.URL, cfg.NATS.Bucket)
	if err != nil {
		logger.Error("failed to connect blob store", "error", err, "url", cfg.NATS.URL)
		os.Exit(1)
	}
	defer blobs.Close()
	logger.Info("Blob store connected", "bucket", cfg.NATS.Bucket)

	m := metrics.New()
	engine := workflow.New(cfg.Workflow, logger, m)
	store := repository.NewPostgresStore(dbPool)

	deps := services.Dependencies{
		Store:   store,
		Engine:  engine,
		Blobs:   blobs,
		Logger:  logger,
		Metrics: m,
	}
	pipelines := services.NewPipelineReconciler(deps)
	runs := services.NewRunReconciler(deps)

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(tracing.ServiceName))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.InfoContext(c.Request().Context(), "request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		os.Exit(1)
	}

	health := api.NewHealth(version, map[string]api.HealthCheck{
		"database":  dbPool.Ping,
		"blobstore": func(context.Context) error { return blobs.Ping() },
		"workflow": func(context.Context) error {
			if engine.State() == gobreaker.StateOpen {
				return errors.New("circuit breaker open")
			}
			return nil
		},
	})
	e.GET("/health", health.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Mount REST API handlers
	apiGroup := e.Group("/v1/organizations/:organization_uuid", authz.RequireAuth(), auth.RequireOrganization("organization_uuid"))
	apiHandler := api.NewServer(
		pipelines,
		runs,
		services.NewInputFileService(deps),
		services.NewArtifactService(deps),
		logger,
		api.WithMaxUploadBytes(cfg.HTTP.MaxUploadBytes),
	)
	apiHandler.RegisterRoutes(apiGroup)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(pipelines, runs, identity.NewMapper(store))
		e.Any("/mcp", echo.WrapHandler(mcp.Handler(mcpServer.GetMCPServer())), authz.RequireAuth())
		logger.Info("MCP protocol handlers mounted")
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      e,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.HTTP.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

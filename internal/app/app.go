// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/newdaksh/incident-agent/internal/analytics"
	analyticspostgres "github.com/newdaksh/incident-agent/internal/analytics/postgres"
	"github.com/newdaksh/incident-agent/internal/audit"
	auditpostgres "github.com/newdaksh/incident-agent/internal/audit/postgres"
	"github.com/newdaksh/incident-agent/internal/config"
	"github.com/newdaksh/incident-agent/internal/domain"
	"github.com/newdaksh/incident-agent/internal/gateway"
	"github.com/newdaksh/incident-agent/internal/identity"
	identitypostgres "github.com/newdaksh/incident-agent/internal/identity/postgres"
	"github.com/newdaksh/incident-agent/internal/incidents"
	"github.com/newdaksh/incident-agent/internal/lifecycle"
	lifecyclepostgres "github.com/newdaksh/incident-agent/internal/lifecycle/postgres"
	"github.com/newdaksh/incident-agent/internal/pkg/ctxlog"
	"github.com/newdaksh/incident-agent/internal/pkg/httputil"
	"github.com/newdaksh/incident-agent/internal/pkg/metrics"
	"github.com/newdaksh/incident-agent/internal/pkg/postgres"
	"github.com/newdaksh/incident-agent/internal/policies"
	policiespostgres "github.com/newdaksh/incident-agent/internal/policies/postgres"
	"github.com/newdaksh/incident-agent/internal/runbooks"
	runbookspostgres "github.com/newdaksh/incident-agent/internal/runbooks/postgres"
	"github.com/newdaksh/incident-agent/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	sweeper       *lifecycle.Sweeper
	engine        *lifecycle.Engine
	hub           *gateway.Hub
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter()
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers and the SLA sweeper.
func (a *App) Run() error {
	if a.sweeper != nil {
		if err := a.sweeper.Start(); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop the sweeper first so no sweep races the connection pool close
	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.engine != nil {
		a.engine.Close()
	}
	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Hub returns the WebSocket hub. Used in tests to inspect connection state.
func (a *App) Hub() *gateway.Hub {
	return a.hub
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>IncidentAgent API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	// Audit recorder underpins every other module
	auditRepo := auditpostgres.NewRepository(a.db)
	recorder := audit.NewRecorder(auditRepo)
	auditHandler := audit.NewHandler(recorder)

	// Identity
	identityRepo := identitypostgres.NewRepository(a.db)
	authenticator := identity.NewAuthenticator(identityRepo, a.config.JWT.SecretKey, a.config.JWT.TokenDuration)
	identityService := identity.NewService(identityRepo, authenticator, recorder)
	identityHandler := identity.NewHandler(identityService)

	// Real-time gateway. The hub exists even when the /ws route is disabled
	// so the lifecycle engine always has a publisher.
	a.hub = gateway.NewHub()
	broadcaster := gateway.NewBroadcaster(a.hub)
	gatewayHandler := gateway.NewHandler(a.hub, authenticator)

	// Lifecycle engine
	incidentRepo := lifecyclepostgres.NewRepository(a.db)
	policyRepo := policiespostgres.NewRepository(a.db)
	engine := lifecycle.NewEngine(incidentRepo, policyRepo, broadcaster, recorder)
	a.engine = engine

	var pruner lifecycle.AuditPruner
	if a.config.Audit.PruneEnabled {
		pruner = recorder
	}
	sweeperConfig := lifecycle.DefaultSweeperConfig()
	sweeperConfig.Schedule = a.config.Sweeper.Schedule
	sweeperConfig.AuditRetention = a.config.Sweeper.AuditRetention
	a.sweeper = lifecycle.NewSweeper(sweeperConfig, engine, pruner)

	incidentsHandler := incidents.NewHandler(engine)
	webhookHandler := incidents.NewWebhookHandler(
		engine,
		broadcaster,
		a.config.Webhook.Secret,
		a.config.Webhook.RatePerSecond,
		a.config.Webhook.RateBurst,
	)

	policiesService := policies.NewService(policyRepo, engine, recorder)
	policiesHandler := policies.NewHandler(policiesService)

	analyticsService := analytics.NewService(analyticspostgres.NewRepository(a.db))
	analyticsHandler := analytics.NewHandler(analyticsService)

	runbookRepo := runbookspostgres.NewRepository(a.db)
	runbooksService := runbooks.NewService(runbookRepo, recorder)
	runbooksHandler := runbooks.NewHandler(runbooksService)

	r.Route("/api/v1", func(r chi.Router) {
		identityHandler.RegisterRoutes(r)
		webhookHandler.RegisterRoutes(r)

		if a.config.Gateway.Enabled {
			gatewayHandler.RegisterRoutes(r)
		}

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(authenticator))

			identityHandler.RegisterProtectedRoutes(r)
			incidentsHandler.RegisterReadRoutes(r)
			runbooksHandler.RegisterReadRoutes(r)
			policiesHandler.RegisterReadRoutes(r)
			analyticsHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleResponder))
				incidentsHandler.RegisterRoutes(r)
				runbooksHandler.RegisterRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleManager))
				incidentsHandler.RegisterManagerRoutes(r)
				policiesHandler.RegisterRoutes(r)
			})

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				identityHandler.RegisterAdminRoutes(r)
				auditHandler.RegisterRoutes(r)
			})
		})
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

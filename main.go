package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/example/dispatch-guard-service/environments"
	"github.com/example/dispatch-guard-service/handlers"
	"github.com/example/dispatch-guard-service/internal/dispatch"
	"github.com/example/dispatch-guard-service/internal/domain"
	"github.com/example/dispatch-guard-service/internal/guard"
	"github.com/example/dispatch-guard-service/internal/repository"
	"github.com/example/dispatch-guard-service/internal/safety"
	"github.com/example/dispatch-guard-service/pkg/database"
	"github.com/example/dispatch-guard-service/pkg/gateway"
	"github.com/example/dispatch-guard-service/pkg/kvstore"
	"github.com/example/dispatch-guard-service/pkg/logger"
	"github.com/example/dispatch-guard-service/pkg/metrics"
	"github.com/example/dispatch-guard-service/pkg/validator"
	"github.com/example/dispatch-guard-service/routes"
)

func main() {
	logger.Init()

	// Load config
	cfg := environments.Load()

	// Hard-fail if required secrets are missing
	if cfg.Gateway.AuthKey == "" {
		logger.Fatalf("GATEWAY_AUTH_KEY is required but not set")
	}
	if cfg.Auth.DispatchAPIKey == "" {
		logger.Fatalf("DISPATCH_API_KEY is required but not set")
	}
	if cfg.Auth.AdminAPIKey == "" {
		logger.Fatalf("ADMIN_API_KEY is required but not set")
	}

	logger.Infof("Starting Dispatch Guard Service...")

	// Init DB
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// The guard pipeline keeps idempotency, suppression, quota and safety
	// state in Valkey; unlike a plain cache it cannot be disabled.
	kv, err := kvstore.NewClient(cfg.Valkey)
	if err != nil {
		logger.Fatalf("Failed to connect to Valkey: %v", err)
	}

	// Initialize gateway client
	gatewayClient := gateway.NewClient(cfg.Gateway)
	logger.Infof("Gateway configured: %s", gatewayClient.GetURL())

	// Initialize repositories
	ledgerRepo := repository.NewLedgerRepository(db)
	pricingRepo := repository.NewPricingRepository(db)

	// Seed platform-default pricing when configured, so a fresh install can
	// dispatch without a pricing row per account.
	if cfg.Dispatch.DefaultUnitPriceCents >= 0 {
		kinds := []domain.MessageKind{
			domain.KindText, domain.KindTemplate, domain.KindCampaign,
			domain.KindBroadcast, domain.KindFlow, domain.KindAPI,
		}
		for _, kind := range kinds {
			if err := pricingRepo.SetUnitPrice(context.Background(), "", kind, cfg.Dispatch.DefaultUnitPriceCents); err != nil {
				logger.Fatalf("Failed to seed default unit price for kind %s: %v", kind, err)
			}
		}
		logger.Infof("Seeded platform default unit price: %d cents", cfg.Dispatch.DefaultUnitPriceCents)
	}

	// Guard pipeline
	policy := guard.NewTemplatePolicy(cfg.Guard.MaxContentLength, cfg.Guard.MaxTemplateVars)
	pipeline := guard.NewPipeline(ledgerRepo, kv, kv, kv, kv, policy, guard.Config{
		MinBalanceCents:       cfg.Guard.MinBalanceCents,
		LowBalanceCents:       cfg.Guard.LowBalanceCents,
		LowQuotaThreshold:     cfg.Guard.LowQuotaThreshold,
		CampaignMaxRecipients: cfg.Guard.CampaignMaxRecipients,
		SuppressionWindow:     cfg.Guard.SuppressionWindow,
	})

	// Safety state machine + monitor
	stateMachine := safety.NewStateMachine(kv, safety.TTLConfig{
		Pause:    cfg.Safety.PauseTTL,
		Throttle: cfg.Safety.ThrottleTTL,
		Suspend:  cfg.Safety.SuspendTTL,
		Ban:      cfg.Safety.BanTTL,
	})

	metricsClient := metrics.NewClient(cfg.Metrics)
	monitor := safety.NewMonitor(stateMachine, metricsClient, cfg.Safety.PollInterval)

	// Dispatch engine
	engine := dispatch.NewEngine(
		ledgerRepo,
		pipeline,
		gatewayClient,
		pricingRepo,
		kv,
		kv,
		stateMachine,
		dispatch.Config{
			IdempotencyTTL:  cfg.Guard.IdempotencyTTL,
			ThrottledDelays: cfg.Dispatch.ThrottledDelays,
			SendTimeout:     cfg.Dispatch.SendTimeout,
		},
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, kv)
	dispatchHandler := handlers.NewDispatchHandler(engine)
	guardHandler := handlers.NewGuardHandler(pipeline)
	accountHandler := handlers.NewAccountHandler(ledgerRepo, stateMachine, kv)
	safetyMonitorHandler := handlers.NewSafetyMonitorHandler(monitor, ctx)

	// Auto-start the safety monitor when a metrics source is configured.
	if cfg.Metrics.URL != "" && os.Getenv("AUTO_START_SAFETY_MONITOR") != "false" {
		logger.Infof("Auto-starting safety monitor...")
		if err := monitor.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start safety monitor: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"x-dgs-auth-key",
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, healthHandler, dispatchHandler, guardHandler, accountHandler, safetyMonitorHandler, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Cancel context to signal all goroutines to stop
	cancel()

	// Stop the safety monitor first (with timeout)
	if monitor.IsRunning() {
		logger.Infof("Stopping safety monitor...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- monitor.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping safety monitor: %v", err)
			} else {
				logger.Infof("Safety monitor stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Safety monitor stop timeout, forcing shutdown")
		}
	}

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Valkey connection
	logger.Infof("Closing Valkey connection...")
	if err := kv.Close(); err != nil {
		logger.Errorf("Error closing Valkey: %v", err)
	}

	logger.Infof("Graceful shutdown completed")
}

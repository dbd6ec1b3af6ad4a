package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/example/dispatch-guard-service/environments"
	"github.com/example/dispatch-guard-service/handlers"
	"github.com/example/dispatch-guard-service/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	dispatchHandler *handlers.DispatchHandler,
	guardHandler *handlers.GuardHandler,
	accountHandler *handlers.AccountHandler,
	safetyMonitorHandler *handlers.SafetyMonitorHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)

	// API v1 base group
	v1 := e.Group("/api/v1")

	// Dispatch + guard routes share the dispatch API key.
	dispatchGroup := v1.Group("/dispatch", middlewares.APIKeyAuth(cfg.Auth.DispatchAPIKey))
	dispatchGroup.POST("", dispatchHandler.Dispatch)
	dispatchGroup.POST("/estimate", dispatchHandler.EstimateCost)

	guardGroup := v1.Group("/guard", middlewares.APIKeyAuth(cfg.Auth.DispatchAPIKey))
	guardGroup.POST("/validate", guardHandler.Validate)
	guardGroup.GET("/accounts/:id/recipients", guardHandler.CheckRecipient)

	// Account routes: reads are open to dispatch callers, mutations need
	// the admin key.
	accounts := v1.Group("/accounts", middlewares.APIKeyAuth(cfg.Auth.DispatchAPIKey))
	accounts.GET("/:id/balance", accountHandler.GetBalance)
	accounts.GET("/:id/safety", accountHandler.GetSafety)
	accounts.GET("/:id/quota", accountHandler.GetQuota)

	adminAccounts := v1.Group("/accounts", middlewares.APIKeyAuth(cfg.Auth.AdminAPIKey))
	adminAccounts.POST("/:id/credit", accountHandler.TopUp)
	adminAccounts.PUT("/:id/quota", accountHandler.SetQuota)
	adminAccounts.DELETE("/:id/safety", accountHandler.ResetSafety)

	// Reconciliation lookup for operators chasing a rollback failure.
	transactions := v1.Group("/transactions", middlewares.APIKeyAuth(cfg.Auth.AdminAPIKey))
	transactions.GET("/:code", accountHandler.GetTransaction)

	// Safety monitor control with the admin key.
	monitorGroup := v1.Group("/safety-monitor", middlewares.APIKeyAuth(cfg.Auth.AdminAPIKey))
	monitorGroup.POST("/start", safetyMonitorHandler.Start)
	monitorGroup.POST("/stop", safetyMonitorHandler.Stop)
	monitorGroup.GET("/status", safetyMonitorHandler.Status)
}

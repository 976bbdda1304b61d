/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/api/middleware
 * - backend/internal/services
 */

package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sellerpulse/backend/internal/api/handlers"
	"github.com/sellerpulse/backend/internal/api/middleware"
	"github.com/sellerpulse/backend/internal/quota"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/services"
)

// Services bundles what the handlers are built from.
type Services struct {
	Sync   *services.SyncService
	Feed   *services.FeedService
	Trend  *services.TrendService
	Quota  *quota.Governor
	Runs   *repository.RunRepository
	Events *services.RunEventHub

	Accounts *repository.AccountRepository
	Listings *repository.ListingRepository
}

// SetupRoutes configures all API routes. Triggered runs use ctx; the
// returned handler drains them on shutdown.
func SetupRoutes(ctx context.Context, app *fiber.App, svc Services, jobSecret string) *handlers.SyncHandler {
	syncHandler := handlers.NewSyncHandler(ctx, svc.Sync, svc.Feed, svc.Runs)
	trendHandler := handlers.NewTrendHandler(svc.Trend)
	quotaHandler := handlers.NewQuotaHandler(svc.Quota)
	eventsHandler := handlers.NewEventsHandler(svc.Events)
	accountHandler := handlers.NewAccountHandler(svc.Accounts, svc.Listings)

	protected := middleware.JobSecret(jobSecret)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	// Public Routes
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	v1.Get("/quota", quotaHandler.GetUsage)
	v1.Get("/events", eventsHandler.StreamRunEvents)

	accounts := v1.Group("/accounts/:id")
	accounts.Get("", accountHandler.GetAccount)
	accounts.Get("/runs", syncHandler.ListRuns)
	accounts.Get("/trending", trendHandler.GetTrending)
	accounts.Get("/trending/export", trendHandler.ExportTrending)

	// Operator Routes (Protected)
	v1.Post("/quota/reset", protected, quotaHandler.ResetUsage)
	accounts.Post("/sync", protected, syncHandler.TriggerSync)
	accounts.Post("/bulk-sync", protected, syncHandler.TriggerBulkSync)
	accounts.Post("/score", protected, trendHandler.ScoreAccount)
	accounts.Post("/deactivate", protected, accountHandler.Deactivate)

	return syncHandler
}

/**
 * @description
 * Main entry point for the sync ops API.
 * Initializes the Fiber web server, loads configuration, and sets up routes.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: Web framework
 * - backend/internal/config: Config loader
 * - backend/internal/db: Database connections
 * - backend/internal/app: Service wiring
 *
 * @notes
 * - Connects to Postgres and Redis on startup.
 * - Sets up basic middleware (CORS, Logger, Recover).
 * - Triggered syncs fail fast on quota so callers get an answer.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sellerpulse/backend/internal/api"
	"github.com/sellerpulse/backend/internal/app"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/db"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/quota"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/services"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Database Connections
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres: %v", err)
	}

	redisClient, err := db.ConnectRedis(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// 3. Services
	stack := app.Build(cfg, pgDB, redisClient, quota.PolicyFail)
	hub := services.NewRunEventHub(ctx, redisClient)

	// 4. Initialize Fiber App
	server := fiber.New(fiber.Config{
		AppName:       "SellerPulse Sync API",
		StrictRouting: true,
		CaseSensitive: true,
	})

	server.Use(recover.New())
	server.Use(fiberLogger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Job-Secret",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	// 5. Routes
	syncHandler := api.SetupRoutes(ctx, server, api.Services{
		Sync:   stack.Sync,
		Feed:   stack.Feed,
		Trend:  stack.Trend,
		Quota:  stack.Quota,
		Runs:   stack.Runs,
		Events: hub,

		Accounts: repository.NewAccountRepository(pgDB),
		Listings: repository.NewListingRepository(pgDB),
	}, cfg.Server.SyncJobSecret)

	// 6. Start Server
	go func() {
		logger.Info("🚀 Starting sync API on port %s", cfg.Server.Port)
		if err := server.Listen(":" + cfg.Server.Port); err != nil {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down API...")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}
	cancel()
	if !syncHandler.Drain(cfg.Sync.CommitWindow + 5*time.Second) {
		logger.Error("Triggered runs still in flight after shutdown window")
	}
}

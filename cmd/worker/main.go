/**
 * @description
 * Worker Service Entry Point.
 * Runs the daily pipeline on a schedule:
 * 1. Catalog sync for every active account on the worker pool.
 * 2. Trend scoring for the UTC day the pass started on.
 * Every hour, credentials close to expiry are refreshed ahead of use.
 *
 * @dependencies
 * - backend/internal/config
 * - backend/internal/db
 * - backend/internal/app
 * - backend/internal/scheduler
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sellerpulse/backend/internal/app"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/db"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/quota"
	"github.com/sellerpulse/backend/internal/scheduler"
)

func main() {
	logger.Info("🔥 Starting sync worker...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	// 2. Connect DBs
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("Postgres connection failed: %v", err)
	}

	redisClient, err := db.ConnectRedis(context.Background(), cfg)
	if err != nil {
		logger.Fatal("Redis connection failed: %v", err)
	}
	defer redisClient.Close()

	// 3. Initialize Services
	stack := app.Build(cfg, pgDB, redisClient, quota.PolicyBlock)

	// 4. Scheduler: one pipeline job per trigger, accounts fan out inside it
	sched, err := scheduler.NewScheduler(scheduler.Config{
		ScheduleTimes: cfg.Worker.ScheduleTimes,
		WorkerCount:   1,
		QueueSize:     2,
		RunOnStartup:  cfg.Worker.RunOnStartup,
		JobProvider: func(ctx context.Context) ([]scheduler.Job, error) {
			return []scheduler.Job{stack.DailyJob(time.Now)}, nil
		},
	})
	if err != nil {
		logger.Fatal("Invalid worker schedule: %v", err)
	}
	sched.Start()

	tokenSched, err := scheduler.NewScheduler(scheduler.Config{
		ScheduleTimes: app.HourlySchedule(),
		WorkerCount:   1,
		QueueSize:     1,
		JobTimeout:    10 * time.Minute,
		JobProvider: func(ctx context.Context) ([]scheduler.Job, error) {
			return []scheduler.Job{stack.TokenRefreshJob(time.Now, cfg.Worker.TokenRefreshHorizon)}, nil
		},
	})
	if err != nil {
		logger.Fatal("Invalid token refresh schedule: %v", err)
	}
	tokenSched.Start()

	// 5. SIGHUP runs the pipeline now; SIGINT/SIGTERM shut down
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigs {
		if sig != syscall.SIGHUP {
			break
		}
		logger.Info("🕑 SIGHUP received, running daily pipeline now")
		sched.TriggerNow()
	}

	logger.Info("Shutting down worker...")
	// In-flight runs see cancellation, commit what they staged and record
	// an interrupted run before the pool drains.
	tokenSched.Shutdown(5 * time.Second)
	sched.Shutdown(cfg.Sync.CommitWindow + 5*time.Second)
	logger.Info("Worker exited.")
}

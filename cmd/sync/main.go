package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/app"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/db"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/quota"
	"github.com/sellerpulse/backend/internal/report"
	"github.com/sellerpulse/backend/internal/services"
)

func main() {
	accountFlag := flag.String("account", "", "account id to sync")
	all := flag.Bool("all", false, "sync every active account")
	bulk := flag.Bool("bulk", false, "use the bulk export feed instead of paging")
	force := flag.Bool("force", false, "sync even if the account already synced today")
	failFast := flag.Bool("fail-fast", false, "stop at the first refused quota reservation")
	score := flag.Bool("score", false, "score trends after syncing (or alone with -skip-sync)")
	skipSync := flag.Bool("skip-sync", false, "only score and export")
	dateFlag := flag.String("date", "", "score date YYYY-MM-DD (default today UTC)")
	export := flag.String("export", "", "write the account's leaderboard to this .xlsx path")
	localRedis := flag.Bool("local-redis", false, "use an in-memory redis instead of REDIS_URL")
	flag.Parse()

	logger.Info("🚀 Starting manual sync...")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config: %v", err)
	}

	var accountID uuid.UUID
	if *accountFlag != "" {
		if accountID, err = uuid.Parse(*accountFlag); err != nil {
			logger.Fatal("invalid -account: %v", err)
		}
	}
	if accountID == uuid.Nil && !*all {
		logger.Fatal("either -account or -all is required")
	}
	if *export != "" && accountID == uuid.Nil {
		logger.Fatal("-export needs -account")
	}

	day := models.Day(time.Now())
	if *dateFlag != "" {
		if day, err = time.Parse("2006-01-02", *dateFlag); err != nil {
			logger.Fatal("invalid -date: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("failed to connect to postgres: %v", err)
	}

	var redisClient *redis.Client
	if *localRedis {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Fatal("failed to start in-memory redis: %v", err)
		}
		defer mr.Close()
		redisClient = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		logger.Warn("Using in-memory redis: quota and locks are not shared with other processes")
	} else if redisClient, err = db.ConnectRedis(ctx, cfg); err != nil {
		logger.Fatal("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	policy := quota.PolicyBlock
	if *failFast {
		policy = quota.PolicyFail
	}
	stack := app.Build(cfg, pgDB, redisClient, policy)
	opts := services.SyncOptions{Force: *force, FailFastQuota: *failFast}

	if !*skipSync {
		switch {
		case *all:
			reports, err := stack.Sync.SyncAll(ctx, opts)
			if err != nil {
				logger.Fatal("sync all failed: %v", err)
			}
			printJSON(reports)
		case *bulk:
			printJSON(stack.Feed.RunBulkWithRetry(ctx, accountID))
		default:
			runCtx, cancel := context.WithTimeout(ctx, app.JobTimeout(cfg.Sync))
			rep := stack.Sync.SyncAccount(runCtx, accountID, opts)
			cancel()
			printJSON(rep)
		}
	}

	if *score || *skipSync {
		if accountID != uuid.Nil {
			summary, err := stack.Trend.ScoreAccount(ctx, accountID, day)
			if err != nil {
				logger.Fatal("scoring failed: %v", err)
			}
			printJSON(summary)
		} else {
			summaries, err := stack.Trend.ScoreAll(ctx, day)
			if err != nil {
				logger.Fatal("scoring failed: %v", err)
			}
			printJSON(summaries)
		}
	}

	if *export != "" {
		rows, err := stack.Trend.Leaderboard(ctx, accountID, day, 0)
		if err != nil {
			logger.Fatal("load leaderboard: %v", err)
		}
		f, err := os.Create(*export)
		if err != nil {
			logger.Fatal("create %s: %v", *export, err)
		}
		if err := report.WriteTrending(f, rows); err != nil {
			_ = f.Close()
			logger.Fatal("write %s: %v", *export, err)
		}
		if err := f.Close(); err != nil {
			logger.Fatal("close %s: %v", *export, err)
		}
		logger.Info("✅ Wrote %d leaderboard rows to %s", len(rows), *export)
	}

	logger.Info("✅ Manual sync completed.")
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Error("failed to print result: %v", err)
	}
}

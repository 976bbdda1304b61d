// Package app wires the sync pipeline from configuration and live
// connections. Every entry point builds the same Stack.
package app

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/credentials"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/marketplace"
	"github.com/sellerpulse/backend/internal/quota"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/services"
	"gorm.io/gorm"
)

type Stack struct {
	DB    *gorm.DB
	Redis *redis.Client

	Marketplace marketplace.API
	Gate        *credentials.Gate
	Quota       *quota.Governor

	Sync  *services.SyncService
	Feed  *services.FeedService
	Trend *services.TrendService
	Runs  *repository.RunRepository
}

// Build assembles the services. Scheduled runs wait for quota; pass
// quota.PolicyFail for interactive callers that should stop instead.
func Build(cfg *config.Config, db *gorm.DB, rdb *redis.Client, policy quota.Policy) *Stack {
	api := marketplace.New(cfg.Marketplace)
	if cfg.Marketplace.MockMode {
		logger.Warn("Marketplace mock mode enabled (%d items)", cfg.Marketplace.MockItemCount)
	}

	gate := credentials.NewGate(repository.NewCredentialRepository(db), api, cfg.Sync.CredentialSafetyMargin)
	governor := quota.NewGovernor(rdb, quota.OptionsFromConfig(cfg.Quota, policy))

	return &Stack{
		DB:          db,
		Redis:       rdb,
		Marketplace: api,
		Gate:        gate,
		Quota:       governor,
		Sync:        services.NewSyncService(db, rdb, api, gate, governor, cfg.Sync),
		Feed:        services.NewFeedService(db, rdb, api, gate, governor, cfg.Feed, cfg.Sync),
		Trend:       services.NewTrendService(db, cfg.Trend),
		Runs:        repository.NewRunRepository(db),
	}
}

// JobTimeout bounds one scheduled account run: the hard deadline plus a
// margin for the final commit, or a day when no hard deadline is set.
func JobTimeout(cfg config.SyncConfig) time.Duration {
	if cfg.HardTimeout <= 0 {
		return 24 * time.Hour
	}
	return cfg.HardTimeout + cfg.CommitWindow
}

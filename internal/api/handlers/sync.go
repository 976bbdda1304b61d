/**
 * @description
 * Sync API Handlers.
 * Triggers catalog and bulk feed runs for one account and lists run history.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/repository
 *
 * @notes
 * - Runs are started in the background and answered with 202 unless the
 *   caller passes ?wait=true, in which case the final Report is returned.
 * - Background runs inherit the handler's base context; cancel it and call
 *   Drain on shutdown so every run records its end state.
 */

package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/services"
)

type SyncHandler struct {
	Sync *services.SyncService
	Feed *services.FeedService
	Runs *repository.RunRepository

	base     context.Context
	inflight sync.WaitGroup
	// spawn starts background runs; replaced in tests.
	spawn func(fn func(ctx context.Context))
}

// NewSyncHandler creates a handler whose background runs use base.
func NewSyncHandler(base context.Context, syncSvc *services.SyncService, feed *services.FeedService, runs *repository.RunRepository) *SyncHandler {
	h := &SyncHandler{
		Sync: syncSvc,
		Feed: feed,
		Runs: runs,
		base: base,
	}
	h.spawn = h.background
	return h
}

func (h *SyncHandler) background(fn func(ctx context.Context)) {
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		fn(h.base)
	}()
}

// Drain waits for background runs to finish. It reports false if some are
// still running after timeout.
func (h *SyncHandler) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// TriggerSync starts a catalog sync
// POST /api/v1/accounts/:id/sync?force=&fail_fast=&wait=
func (h *SyncHandler) TriggerSync(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAccount(c)
	}
	opts := services.SyncOptions{
		Force:         c.QueryBool("force", false),
		FailFastQuota: c.QueryBool("fail_fast", false),
	}

	if c.QueryBool("wait", false) {
		rep := h.Sync.SyncAccount(c.Context(), accountID, opts)
		return c.Status(reportStatus(rep)).JSON(rep)
	}

	h.spawn(func(ctx context.Context) {
		rep := h.Sync.SyncAccount(ctx, accountID, opts)
		logger.Info("Triggered sync for %s finished: %s %s", accountID, rep.Status, rep.StopReason)
	})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":     "accepted",
		"account_id": accountID,
		"sync_type":  models.SyncTypeCatalog,
	})
}

// TriggerBulkSync starts an export-based sync with scheduler retries
// POST /api/v1/accounts/:id/bulk-sync?wait=
func (h *SyncHandler) TriggerBulkSync(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAccount(c)
	}

	if c.QueryBool("wait", false) {
		rep, _ := h.Feed.BulkSync(c.Context(), accountID)
		return c.Status(reportStatus(rep)).JSON(rep)
	}

	h.spawn(func(ctx context.Context) {
		rep := h.Feed.RunBulkWithRetry(ctx, accountID)
		logger.Info("Triggered bulk sync for %s finished: %s %s", accountID, rep.Status, rep.StopReason)
	})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":     "accepted",
		"account_id": accountID,
		"sync_type":  models.SyncTypeFeed,
	})
}

// ListRuns returns the account's newest runs
// GET /api/v1/accounts/:id/runs?limit=
func (h *SyncHandler) ListRuns(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAccount(c)
	}
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	runs, err := h.Runs.Recent(c.Context(), accountID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sync runs",
		})
	}
	return c.JSON(runs)
}

// reportStatus maps a finished run onto an HTTP status.
func reportStatus(rep services.Report) int {
	switch rep.StopReason {
	case services.StopNotFound:
		return fiber.StatusNotFound
	case services.StopInactive:
		return fiber.StatusConflict
	case services.StopLocked:
		return fiber.StatusConflict
	}
	if rep.Status == models.RunFailed {
		return fiber.StatusBadGateway
	}
	return fiber.StatusOK
}

func invalidAccount(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Invalid account id",
	})
}

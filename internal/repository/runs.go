package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/models"
	"gorm.io/gorm"
)

// RunRepository stores sync run audit records and guards their state machine.
type RunRepository struct {
	DB *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{DB: db}
}

func (r *RunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	if run.Status == "" {
		run.Status = models.RunPending
	}
	if err := r.DB.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	return nil
}

// UpdateStatus moves a run from one state to another. The update only
// applies if the stored state still equals from.
func (r *RunRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.RunStatus) error {
	return r.transition(ctx, id, from, to, map[string]interface{}{"status": to})
}

// Finish records the terminal state and final counters of a run.
func (r *RunRepository) Finish(ctx context.Context, run *models.SyncRun, from models.RunStatus) error {
	return r.transition(ctx, run.ID, from, run.Status, map[string]interface{}{
		"status":           run.Status,
		"items_synced":     run.ItemsSynced,
		"items_failed":     run.ItemsFailed,
		"items_pending":    run.ItemsPending,
		"api_calls":        run.APICalls,
		"flushes":          run.Flushes,
		"errors":           run.Errors,
		"stop_reason":      run.StopReason,
		"finished_at":      run.FinishedAt,
		"duration_seconds": run.DurationSeconds,
	})
}

func (r *RunRepository) transition(ctx context.Context, id uuid.UUID, from, to models.RunStatus, fields map[string]interface{}) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal run transition %s -> %s", from, to)
	}
	res := r.DB.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update sync run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("sync run %s is not %s", id, from)
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := r.DB.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, lookupError("sync run", err)
	}
	return &run, nil
}

// Recent lists an account's newest runs first.
func (r *RunRepository) Recent(ctx context.Context, accountID uuid.UUID, limit int) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	err := r.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return runs, nil
}

// LatestCompletedSince returns the newest completed run started at or after since.
func (r *RunRepository) LatestCompletedSince(ctx context.Context, accountID uuid.UUID, syncType models.SyncType, since time.Time) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.DB.WithContext(ctx).
		Where("account_id = ? AND sync_type = ? AND status = ? AND started_at >= ?", accountID, syncType, models.RunCompleted, since).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		return nil, lookupError("sync run", err)
	}
	return &run, nil
}

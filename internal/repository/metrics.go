package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	DetailSnapshotColumns = []string{"view_count", "watch_count", "bid_count", "current_price", "updated_at"}
	// The feed carries no watch or bid counts; same-day values from a detail
	// sync are kept.
	FeedSnapshotColumns = []string{"view_count", "current_price", "updated_at"}
)

type MetricRepository struct {
	DB *gorm.DB
}

func NewMetricRepository(db *gorm.DB) *MetricRepository {
	return &MetricRepository{DB: db}
}

// WithTx returns a repository bound to tx.
func (r *MetricRepository) WithTx(tx *gorm.DB) *MetricRepository {
	return &MetricRepository{DB: tx}
}

// UpsertByListingAndDate writes one row per (listing_id, snapshot_date),
// overwriting the named columns when the day already exists.
func (r *MetricRepository) UpsertByListingAndDate(ctx context.Context, rows []models.MetricSnapshot, columns []string) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "listing_id"}, {Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).CreateInBatches(&rows, 100).Error
	if err != nil {
		return fmt.Errorf("upsert metric snapshots: %w", err)
	}
	return nil
}

// Window returns snapshots of the given listings within [from, to], ordered
// by listing then date.
func (r *MetricRepository) Window(ctx context.Context, listingIDs []uuid.UUID, from, to time.Time) ([]models.MetricSnapshot, error) {
	if len(listingIDs) == 0 {
		return nil, nil
	}
	var rows []models.MetricSnapshot
	err := r.DB.WithContext(ctx).
		Where("listing_id IN ? AND snapshot_date >= ? AND snapshot_date <= ?", listingIDs, models.Day(from), models.Day(to)).
		Order("listing_id ASC, snapshot_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load snapshot window: %w", err)
	}
	return rows, nil
}

// CountForAccountDate counts an account's snapshots on one day.
func (r *MetricRepository) CountForAccountDate(ctx context.Context, accountID uuid.UUID, day time.Time) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.MetricSnapshot{}).
		Joins("JOIN listings ON listings.id = metric_snapshots.listing_id").
		Where("listings.account_id = ? AND metric_snapshots.snapshot_date = ?", accountID, models.Day(day)).
		Count(&n).Error
	return n, err
}

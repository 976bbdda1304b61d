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
	// ScoreColumns refreshes the computed metrics and leaves rank alone.
	ScoreColumns = []string{
		"account_id", "view_growth_rate", "watch_growth_rate", "view_7day_avg", "watch_7day_avg",
		"price_momentum", "trend_score", "updated_at",
	}
	RankedColumns = append(append([]string{}, ScoreColumns...), "rank", "is_trending")
)

type TrendRepository struct {
	DB *gorm.DB
}

func NewTrendRepository(db *gorm.DB) *TrendRepository {
	return &TrendRepository{DB: db}
}

// WithTx returns a repository bound to tx.
func (r *TrendRepository) WithTx(tx *gorm.DB) *TrendRepository {
	return &TrendRepository{DB: tx}
}

// UpsertByListingAndDate writes scores keyed by (listing_id, score_date),
// overwriting the named columns of an existing row.
func (r *TrendRepository) UpsertByListingAndDate(ctx context.Context, rows []models.TrendScore, columns []string) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.DB.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "listing_id"}, {Name: "score_date"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).CreateInBatches(&rows, 200).Error
	if err != nil {
		return fmt.Errorf("upsert trend scores: %w", err)
	}
	return nil
}

// DeleteForAccountDate removes an account's scores for one day so a
// recompute leaves no stale rows for listings that are no longer scorable.
func (r *TrendRepository) DeleteForAccountDate(ctx context.Context, accountID uuid.UUID, day time.Time) error {
	err := r.DB.WithContext(ctx).
		Where("account_id = ? AND score_date = ?", accountID, models.Day(day)).
		Delete(&models.TrendScore{}).Error
	if err != nil {
		return fmt.Errorf("delete trend scores: %w", err)
	}
	return nil
}

// ForAccountDate lists an account's ranked scores for a day with their listings.
func (r *TrendRepository) ForAccountDate(ctx context.Context, accountID uuid.UUID, day time.Time, limit int, trendingOnly bool) ([]models.TrendScore, error) {
	q := r.DB.WithContext(ctx).
		Preload("Listing").
		Where("account_id = ? AND score_date = ?", accountID, models.Day(day))
	if trendingOnly {
		q = q.Where("is_trending = ?", true)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.TrendScore
	if err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "rank"}}).Order("listing_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list trend scores: %w", err)
	}
	return rows, nil
}

func (r *TrendRepository) Get(ctx context.Context, listingID uuid.UUID, day time.Time) (*models.TrendScore, error) {
	var row models.TrendScore
	err := r.DB.WithContext(ctx).
		First(&row, "listing_id = ? AND score_date = ?", listingID, models.Day(day)).Error
	if err != nil {
		return nil, lookupError("trend score", err)
	}
	return &row, nil
}

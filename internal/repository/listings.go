package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Columns refreshed on conflict, per ingestion path. The feed export lacks
// the detail-only fields, so it must not clobber them.
var (
	DetailListingColumns = []string{
		"title", "price", "currency", "category_id", "category_name",
		"quantity", "quantity_sold", "listing_status", "is_active", "image_url",
		"start_time", "end_time", "source", "last_synced_at", "updated_at",
	}
	FeedListingColumns = []string{
		"title", "price", "currency", "category_id", "category_name",
		"quantity", "quantity_sold", "listing_status", "is_active", "image_url",
		"last_synced_at", "updated_at",
	}
)

type ListingRepository struct {
	DB *gorm.DB
}

func NewListingRepository(db *gorm.DB) *ListingRepository {
	return &ListingRepository{DB: db}
}

// WithTx returns a repository bound to tx.
func (r *ListingRepository) WithTx(tx *gorm.DB) *ListingRepository {
	return &ListingRepository{DB: tx}
}

// UpsertByExternalID inserts listings or refreshes columns of existing rows
// matched on (account_id, external_item_id). Callers must not pass two rows
// with the same key in one call.
func (r *ListingRepository) UpsertByExternalID(ctx context.Context, rows []models.Listing, columns []string) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "external_item_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).CreateInBatches(&rows, 100).Error
	if err != nil {
		return fmt.Errorf("upsert listings: %w", err)
	}
	return nil
}

// IDsByExternalID resolves stored ids for the given external item ids.
func (r *ListingRepository) IDsByExternalID(ctx context.Context, accountID uuid.UUID, externalIDs []string) (map[string]uuid.UUID, error) {
	var rows []struct {
		ID             uuid.UUID
		ExternalItemID string
	}
	err := r.DB.WithContext(ctx).
		Model(&models.Listing{}).
		Select("id", "external_item_id").
		Where("account_id = ? AND external_item_id IN ?", accountID, externalIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("resolve listing ids: %w", err)
	}

	ids := make(map[string]uuid.UUID, len(rows))
	for _, row := range rows {
		ids[row.ExternalItemID] = row.ID
	}
	return ids, nil
}

// ActiveIDsAfter pages through an account's active listing ids in id order.
func (r *ListingRepository) ActiveIDsAfter(ctx context.Context, accountID uuid.UUID, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	q := r.DB.WithContext(ctx).
		Model(&models.Listing{}).
		Where("account_id = ? AND is_active = ?", accountID, true)
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}

	var ids []uuid.UUID
	if err := q.Order("id ASC").Limit(limit).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("page listing ids: %w", err)
	}
	return ids, nil
}

func (r *ListingRepository) Get(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.DB.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		return nil, lookupError("listing", err)
	}
	return &listing, nil
}

func (r *ListingRepository) CountByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Listing{}).Where("account_id = ?", accountID).Count(&n).Error
	return n, err
}

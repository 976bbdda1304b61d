package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/models"
	"gorm.io/gorm"
)

type AccountRepository struct {
	DB *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{DB: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if err := r.DB.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *AccountRepository) Get(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.DB.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, lookupError("account", err)
	}
	return &account, nil
}

// ListActive returns every account that is still connected.
func (r *AccountRepository) ListActive(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := r.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepository) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.DB.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", id).
		Update("last_sync_at", at).Error
}

// Deactivate disconnects an account: the account, its listings and its
// credential are switched off in one transaction. Rows are kept for history.
func (r *AccountRepository) Deactivate(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Account{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"is_active": false, "deactivated_at": at})
		if res.Error != nil {
			return fmt.Errorf("deactivate account: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return lookupError("account", gorm.ErrRecordNotFound)
		}
		if err := tx.Model(&models.Listing{}).
			Where("account_id = ?", id).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("deactivate listings: %w", err)
		}
		if err := tx.Model(&models.Credential{}).
			Where("account_id = ?", id).
			Update("is_valid", false).Error; err != nil {
			return fmt.Errorf("invalidate credential: %w", err)
		}
		return nil
	})
}

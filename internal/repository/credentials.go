package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/models"
	"gorm.io/gorm"
)

// CredentialRepository persists the single live credential of each account.
type CredentialRepository struct {
	DB *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{DB: db}
}

func (r *CredentialRepository) Load(ctx context.Context, accountID uuid.UUID) (*models.Credential, error) {
	var cred models.Credential
	if err := r.DB.WithContext(ctx).First(&cred, "account_id = ?", accountID).Error; err != nil {
		return nil, lookupError("credential", err)
	}
	return &cred, nil
}

// Save replaces the account's credential in place, inserting it on first use.
func (r *CredentialRepository) Save(ctx context.Context, cred *models.Credential) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Credential{}).
			Where("account_id = ?", cred.AccountID).
			Updates(map[string]interface{}{
				"access_token":       cred.AccessToken,
				"refresh_token":      cred.RefreshToken,
				"access_expires_at":  cred.AccessExpiresAt,
				"refresh_expires_at": cred.RefreshExpiresAt,
				"scopes":             cred.Scopes,
				"is_valid":           cred.IsValid,
			})
		if res.Error != nil {
			return fmt.Errorf("update credential: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
		if err := tx.Create(cred).Error; err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
		return nil
	})
}

// MarkInvalid flags the credential as unusable until the seller re-authorizes.
func (r *CredentialRepository) MarkInvalid(ctx context.Context, accountID uuid.UUID) error {
	return r.DB.WithContext(ctx).
		Model(&models.Credential{}).
		Where("account_id = ?", accountID).
		Update("is_valid", false).Error
}

// ExpiringBefore lists valid credentials whose access token expires at or
// before t, soonest first.
func (r *CredentialRepository) ExpiringBefore(ctx context.Context, t time.Time) ([]models.Credential, error) {
	var creds []models.Credential
	err := r.DB.WithContext(ctx).
		Where("is_valid = ? AND access_expires_at <= ?", true, t).
		Order("access_expires_at ASC").
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("list expiring credentials: %w", err)
	}
	return creds, nil
}

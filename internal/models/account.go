/**
 * @description
 * Seller account and credential models.
 * Maps to the 'accounts' and 'credentials' tables in PostgreSQL.
 *
 * @dependencies
 * - gorm.io/gorm
 * - gorm.io/datatypes
 * - github.com/google/uuid
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account is an external seller identity on the marketplace
type Account struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalSellerID string     `gorm:"column:external_seller_id;uniqueIndex;not null" json:"external_seller_id"`
	MarketplaceID    string     `gorm:"column:marketplace_id" json:"marketplace_id"`
	DisplayName      string     `gorm:"column:display_name" json:"display_name"`
	IsActive         bool       `gorm:"column:is_active;index" json:"is_active"`
	LastSyncAt       *time.Time `gorm:"column:last_sync_at" json:"last_sync_at"`
	DeactivatedAt    *time.Time `gorm:"column:deactivated_at" json:"deactivated_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Account to `accounts`
func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return
}

// Credential is the single live access/refresh token pair of an account.
// Only the credential gate mutates it; a refresh overwrites the row in place.
type Credential struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID        uuid.UUID      `gorm:"type:uuid;column:account_id;uniqueIndex;not null" json:"account_id"`
	AccessToken      string         `gorm:"column:access_token;not null" json:"-"`
	RefreshToken     string         `gorm:"column:refresh_token;not null" json:"-"`
	AccessExpiresAt  time.Time      `gorm:"column:access_expires_at" json:"access_expires_at"`
	RefreshExpiresAt *time.Time     `gorm:"column:refresh_expires_at" json:"refresh_expires_at"` // nil = no known expiry
	Scopes           datatypes.JSON `gorm:"column:scopes" json:"scopes"`
	IsValid          bool           `gorm:"column:is_valid" json:"is_valid"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Credential to `credentials`
func (Credential) TableName() string {
	return "credentials"
}

func (c *Credential) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}

// ExpiresWithin reports whether the access token expires before now+margin.
func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return !c.AccessExpiresAt.After(now.Add(margin))
}

// RefreshExpired reports whether the refresh token can no longer be exchanged.
func (c *Credential) RefreshExpired(now time.Time) bool {
	return c.RefreshExpiresAt != nil && !c.RefreshExpiresAt.After(now)
}

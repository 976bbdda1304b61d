/**
 * @description
 * Catalog listing and daily metric snapshot models.
 * Maps to the 'listings' and 'metric_snapshots' tables in PostgreSQL.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/google/uuid
 * - github.com/shopspring/decimal
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ListingSource records which ingestion path last wrote a listing
type ListingSource string

const (
	SourceDetail ListingSource = "detail"
	SourceFeed   ListingSource = "feed"
)

// Listing is one catalog item of one account, unique by (account_id, external_item_id)
type Listing struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID      uuid.UUID       `gorm:"type:uuid;column:account_id;not null;uniqueIndex:idx_listings_account_item,priority:1" json:"account_id"`
	ExternalItemID string          `gorm:"column:external_item_id;not null;uniqueIndex:idx_listings_account_item,priority:2" json:"external_item_id"`
	Title          string          `gorm:"column:title" json:"title"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric(12,2)" json:"price"`
	Currency       string          `gorm:"column:currency" json:"currency"`
	CategoryID     string          `gorm:"column:category_id" json:"category_id"`
	CategoryName   string          `gorm:"column:category_name" json:"category_name"`
	Quantity       int             `gorm:"column:quantity" json:"quantity"`
	QuantitySold   int             `gorm:"column:quantity_sold" json:"quantity_sold"`
	ListingStatus  string          `gorm:"column:listing_status" json:"listing_status"`
	IsActive       bool            `gorm:"column:is_active;index" json:"is_active"`
	ImageURL       string          `gorm:"column:image_url" json:"image_url"`
	StartTime      *time.Time      `gorm:"column:start_time" json:"start_time"`
	EndTime        *time.Time      `gorm:"column:end_time" json:"end_time"`
	Source         ListingSource   `gorm:"column:source" json:"source"`
	LastSyncedAt   time.Time       `gorm:"column:last_synced_at" json:"last_synced_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by Listing to `listings`
func (Listing) TableName() string {
	return "listings"
}

func (l *Listing) BeforeCreate(tx *gorm.DB) (err error) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return
}

// MetricSnapshot is one day's observed counters for one listing.
// Rows are overwritten by date, never averaged in place.
type MetricSnapshot struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID    uuid.UUID       `gorm:"type:uuid;column:listing_id;not null;uniqueIndex:idx_snapshots_listing_date,priority:1" json:"listing_id"`
	SnapshotDate time.Time       `gorm:"column:snapshot_date;type:date;not null;uniqueIndex:idx_snapshots_listing_date,priority:2" json:"snapshot_date"`
	ViewCount    int             `gorm:"column:view_count" json:"view_count"`
	WatchCount   int             `gorm:"column:watch_count" json:"watch_count"`
	BidCount     int             `gorm:"column:bid_count" json:"bid_count"`
	CurrentPrice decimal.Decimal `gorm:"column:current_price;type:numeric(12,2)" json:"current_price"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by MetricSnapshot to `metric_snapshots`
func (MetricSnapshot) TableName() string {
	return "metric_snapshots"
}

func (m *MetricSnapshot) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TrendScore is the derived daily score and rank of one listing.
// Rank stays nil until the account's listings for the day are ranked.
type TrendScore struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID       uuid.UUID `gorm:"type:uuid;column:listing_id;not null;uniqueIndex:idx_trend_listing_date,priority:1" json:"listing_id"`
	AccountID       uuid.UUID `gorm:"type:uuid;column:account_id;not null;index:idx_trend_account_date,priority:1" json:"account_id"`
	ScoreDate       time.Time `gorm:"column:score_date;type:date;not null;uniqueIndex:idx_trend_listing_date,priority:2;index:idx_trend_account_date,priority:2" json:"score_date"`
	ViewGrowthRate  float64   `gorm:"column:view_growth_rate" json:"view_growth_rate"`
	WatchGrowthRate float64   `gorm:"column:watch_growth_rate" json:"watch_growth_rate"`
	View7DayAvg     float64   `gorm:"column:view_7day_avg" json:"view_7day_avg"`
	Watch7DayAvg    float64   `gorm:"column:watch_7day_avg" json:"watch_7day_avg"`
	PriceMomentum   float64   `gorm:"column:price_momentum" json:"price_momentum"`
	Score           float64   `gorm:"column:trend_score" json:"trend_score"`
	Rank            *int      `gorm:"column:rank" json:"rank"`
	IsTrending      bool      `gorm:"column:is_trending" json:"is_trending"`

	Listing *Listing `gorm:"foreignKey:ListingID" json:"listing,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by TrendScore to `trend_scores`
func (TrendScore) TableName() string {
	return "trend_scores"
}

func (t *TrendScore) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}

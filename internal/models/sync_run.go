package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunStatus is the state of one orchestrated sync attempt
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// CanTransition enforces pending -> running -> {completed, failed, cancelled}.
// A pending run may also end directly (lock contention, missing account).
func (s RunStatus) CanTransition(to RunStatus) bool {
	switch s {
	case RunPending:
		return to == RunRunning || to == RunFailed || to == RunCancelled
	case RunRunning:
		return to.Terminal()
	}
	return false
}

// SyncType distinguishes the per-item catalog path from the bulk feed path
type SyncType string

const (
	SyncTypeCatalog SyncType = "catalog"
	SyncTypeFeed    SyncType = "feed"
)

// SyncRun is the audit record of one sync attempt
type SyncRun struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID       uuid.UUID      `gorm:"type:uuid;column:account_id;not null;index" json:"account_id"`
	SyncType        SyncType       `gorm:"column:sync_type;not null" json:"sync_type"`
	Status          RunStatus      `gorm:"column:status;not null;index" json:"status"`
	ItemsSynced     int            `gorm:"column:items_synced" json:"items_synced"`
	ItemsFailed     int            `gorm:"column:items_failed" json:"items_failed"`
	ItemsPending    int            `gorm:"column:items_pending" json:"items_pending"`
	APICalls        int            `gorm:"column:api_calls" json:"api_calls"`
	Flushes         int            `gorm:"column:flushes" json:"flushes"`
	Errors          datatypes.JSON `gorm:"column:errors" json:"errors"`
	StopReason      string         `gorm:"column:stop_reason" json:"stop_reason,omitempty"`
	StartedAt       *time.Time     `gorm:"column:started_at" json:"started_at"`
	FinishedAt      *time.Time     `gorm:"column:finished_at" json:"finished_at"`
	DurationSeconds float64        `gorm:"column:duration_seconds" json:"duration_seconds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName overrides the table name used by SyncRun to `sync_runs`
func (SyncRun) TableName() string {
	return "sync_runs"
}

func (r *SyncRun) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

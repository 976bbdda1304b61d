/**
 * @description
 * Contracts and payload types of the remote marketplace consumed by the sync
 * pipeline: catalog paging, per-item detail, bulk export tasks and the OAuth
 * token endpoint.
 *
 * @dependencies
 * - github.com/shopspring/decimal
 */

package marketplace

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// Summary is one entry of a catalog page.
type Summary struct {
	ItemID string `json:"itemId"`
}

// Page is one page of catalog summaries.
type Page struct {
	Items      []Summary `json:"items"`
	TotalPages int       `json:"totalPages"`
}

// ItemRecord is the per-item detail payload.
type ItemRecord struct {
	ItemID       string          `json:"itemId"`
	Title        string          `json:"title"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	ViewCount    int             `json:"viewCount"`
	WatchCount   int             `json:"watchCount"`
	BidCount     int             `json:"bidCount"`
	Quantity     int             `json:"quantity"`
	QuantitySold int             `json:"quantitySold"`
	CategoryID   string          `json:"categoryId"`
	CategoryName string          `json:"categoryName"`
	Status       string          `json:"status"`
	ImageURL     string          `json:"imageUrl"`
	StartTime    *time.Time      `json:"startTime"`
	EndTime      *time.Time      `json:"endTime"`
}

// TaskState is the lifecycle state of a bulk export task.
type TaskState string

const (
	TaskQueued     TaskState = "QUEUED"
	TaskProcessing TaskState = "PROCESSING"
	TaskCompleted  TaskState = "COMPLETED"
	TaskFailed     TaskState = "FAILED"
)

// TaskStatus is the polled state of an export task.
type TaskStatus struct {
	TaskID         string    `json:"taskId"`
	Status         TaskState `json:"status"`
	ResultLocation string    `json:"resultLocation,omitempty"`
}

// TokenGrant is the result of a refresh-token exchange.
type TokenGrant struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int    `json:"expires_in"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	RefreshTokenExpiresIn int    `json:"refresh_token_expires_in,omitempty"`
	Scope                 string `json:"scope,omitempty"`
}

// CatalogAPI pages through a seller's catalog and fetches item details.
type CatalogAPI interface {
	ListPage(ctx context.Context, token string, page, pageSize int) (Page, error)
	GetDetail(ctx context.Context, token, itemID string) (ItemRecord, error)
}

// ExportAPI drives asynchronous bulk export tasks.
type ExportAPI interface {
	CreateTask(ctx context.Context, token, reportType string) (string, error)
	GetTaskStatus(ctx context.Context, token, taskID string) (TaskStatus, error)
	Download(ctx context.Context, token, location string) (io.ReadCloser, error)
}

// TokenAPI exchanges refresh tokens for new access tokens.
type TokenAPI interface {
	Refresh(ctx context.Context, refreshToken string) (TokenGrant, error)
}

// API is the full remote surface.
type API interface {
	CatalogAPI
	ExportAPI
	TokenAPI
}

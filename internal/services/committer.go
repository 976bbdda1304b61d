/**
 * @description
 * Batch committer for catalog ingestion.
 * Buffers listing and snapshot upserts for one account and writes them in a
 * single transaction once the batch is full or the caller reaches a page
 * boundary. Nothing written survives in memory past the flush that wrote it.
 *
 * @dependencies
 * - backend/internal/repository
 * - gorm.io/gorm
 * - github.com/shopspring/decimal
 *
 * @notes
 * - Snapshots reference listings by ListingRef, a plain scalar key; generated
 *   listing ids are resolved inside the flush transaction and then dropped.
 * - The column sets written on conflict depend on the ingestion source.
 */

package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/marketplace"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/syncerr"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ListingRef identifies a listing without holding a stored row.
type ListingRef struct {
	AccountID      uuid.UUID
	ExternalItemID string
}

// SnapshotMetrics are the counters recorded for one listing on one day.
type SnapshotMetrics struct {
	Views   int
	Watches int
	Bids    int
	Price   decimal.Decimal
}

type snapshotKey struct {
	ref ListingRef
	day string
}

type pendingSnapshot struct {
	ref     ListingRef
	day     time.Time
	metrics SnapshotMetrics
}

// Committer buffers one account's writes and commits them in bounded batches.
// It is not safe for concurrent use; each run owns its committer.
type Committer struct {
	db        *gorm.DB
	accountID uuid.UUID
	batchSize int
	source    models.ListingSource
	now       func() time.Time

	listingCols  []string
	snapshotCols []string

	listings  map[ListingRef]models.Listing
	snapshots map[snapshotKey]pendingSnapshot
	refs      map[ListingRef]struct{}
	order     []ListingRef

	highWater int
	flushes   int
	committed int

	// OnFlush is called after each successful non-empty flush.
	OnFlush func(items int)
}

// NewCommitter creates a committer for accountID writing rows tagged with
// source.
func NewCommitter(db *gorm.DB, accountID uuid.UUID, batchSize int, source models.ListingSource) *Committer {
	if batchSize <= 0 {
		batchSize = 100
	}
	c := &Committer{
		db:        db,
		accountID: accountID,
		batchSize: batchSize,
		source:    source,
		now:       time.Now,
	}
	if source == models.SourceFeed {
		c.listingCols, c.snapshotCols = repository.FeedListingColumns, repository.FeedSnapshotColumns
	} else {
		c.listingCols, c.snapshotCols = repository.DetailListingColumns, repository.DetailSnapshotColumns
	}
	c.reset()
	return c
}

// SetClock replaces the time source used for sync timestamps.
func (c *Committer) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Committer) reset() {
	c.listings = make(map[ListingRef]models.Listing, c.batchSize)
	c.snapshots = make(map[snapshotKey]pendingSnapshot, c.batchSize)
	c.refs = make(map[ListingRef]struct{}, c.batchSize)
	c.order = make([]ListingRef, 0, c.batchSize)
}

// UpsertListing buffers the listing described by rec. A later record with
// the same item id replaces the buffered one.
func (c *Committer) UpsertListing(rec marketplace.ItemRecord) ListingRef {
	ref := ListingRef{AccountID: c.accountID, ExternalItemID: rec.ItemID}
	if _, ok := c.listings[ref]; !ok {
		c.order = append(c.order, ref)
	}
	c.listings[ref] = models.Listing{
		AccountID:      c.accountID,
		ExternalItemID: rec.ItemID,
		Title:          rec.Title,
		Price:          rec.Price,
		Currency:       rec.Currency,
		CategoryID:     rec.CategoryID,
		CategoryName:   rec.CategoryName,
		Quantity:       rec.Quantity,
		QuantitySold:   rec.QuantitySold,
		ListingStatus:  rec.Status,
		IsActive:       isActiveStatus(rec.Status),
		ImageURL:       rec.ImageURL,
		StartTime:      rec.StartTime,
		EndTime:        rec.EndTime,
		Source:         c.source,
		LastSyncedAt:   c.now().UTC(),
	}
	c.touch(ref)
	return ref
}

// UpsertSnapshot buffers the day's metrics for ref.
func (c *Committer) UpsertSnapshot(ref ListingRef, day time.Time, m SnapshotMetrics) {
	day = models.Day(day)
	c.snapshots[snapshotKey{ref: ref, day: models.DayKey(day)}] = pendingSnapshot{ref: ref, day: day, metrics: m}
	c.touch(ref)
}

// Stage buffers a listing and its snapshot, flushing once the batch is full.
func (c *Committer) Stage(ctx context.Context, rec marketplace.ItemRecord, day time.Time, m SnapshotMetrics) error {
	ref := c.UpsertListing(rec)
	c.UpsertSnapshot(ref, day, m)
	if c.Pending() >= c.batchSize {
		return c.Flush(ctx)
	}
	return nil
}

func (c *Committer) touch(ref ListingRef) {
	c.refs[ref] = struct{}{}
	if n := len(c.refs); n > c.highWater {
		c.highWater = n
	}
}

// Pending is the number of distinct listings with uncommitted writes.
func (c *Committer) Pending() int {
	return len(c.refs)
}

// HighWater is the largest Pending value observed.
func (c *Committer) HighWater() int {
	return c.highWater
}

// Flushes counts non-empty commits.
func (c *Committer) Flushes() int {
	return c.flushes
}

// Committed counts listings written by successful flushes.
func (c *Committer) Committed() int {
	return c.committed
}

// Flush commits everything buffered in one transaction and empties the
// buffers. An empty flush does nothing.
func (c *Committer) Flush(ctx context.Context) error {
	items := c.Pending()
	if items == 0 {
		return nil
	}

	listings := make([]models.Listing, 0, len(c.order))
	for _, ref := range c.order {
		listings = append(listings, c.listings[ref])
	}
	extIDs := make([]string, 0, len(c.refs))
	for ref := range c.refs {
		extIDs = append(extIDs, ref.ExternalItemID)
	}

	err := repository.WithRetry(ctx, func() error {
		return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := repository.NewListingRepository(tx).UpsertByExternalID(ctx, listings, c.listingCols); err != nil {
				return err
			}
			if len(c.snapshots) == 0 {
				return nil
			}

			ids, err := repository.NewListingRepository(tx).IDsByExternalID(ctx, c.accountID, extIDs)
			if err != nil {
				return err
			}
			rows := make([]models.MetricSnapshot, 0, len(c.snapshots))
			for _, s := range c.snapshots {
				id, ok := ids[s.ref.ExternalItemID]
				if !ok {
					logger.Warn("dropping snapshot for unknown listing %s/%s", c.accountID, s.ref.ExternalItemID)
					continue
				}
				rows = append(rows, models.MetricSnapshot{
					ListingID:    id,
					SnapshotDate: s.day,
					ViewCount:    s.metrics.Views,
					WatchCount:   s.metrics.Watches,
					BidCount:     s.metrics.Bids,
					CurrentPrice: s.metrics.Price,
				})
			}
			return repository.NewMetricRepository(tx).UpsertByListingAndDate(ctx, rows, c.snapshotCols)
		})
	})
	if err != nil {
		return syncerr.Wrap(syncerr.KindStorage, "commit batch", err)
	}

	c.committed += len(c.order)
	c.flushes++
	c.reset()
	if c.OnFlush != nil {
		c.OnFlush(items)
	}
	return nil
}

func isActiveStatus(status string) bool {
	return status == "" || status == "ACTIVE"
}

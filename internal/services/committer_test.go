package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/dbtest"
	"github.com/sellerpulse/backend/internal/marketplace"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func seedCommitterAccount(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()
	account := &models.Account{ExternalSellerID: "seller-" + uuid.NewString()[:8], IsActive: true}
	if err := repository.NewAccountRepository(db).Create(context.Background(), account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account.ID
}

func record(i int) marketplace.ItemRecord {
	return marketplace.ItemRecord{
		ItemID: fmt.Sprintf("SKU-%04d", i),
		Title:  fmt.Sprintf("Item %d", i),
		Price:  decimal.NewFromInt(int64(10 + i%7)),
		Status: "ACTIVE",
	}
}

func TestCommitterHighWaterStaysWithinBatch(t *testing.T) {
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	sizes := []struct {
		items   int
		flushes int
	}{
		{0, 0}, {1, 1}, {99, 1}, {100, 1}, {101, 2}, {250, 3},
	}

	for _, tc := range sizes {
		t.Run(fmt.Sprintf("%d items", tc.items), func(t *testing.T) {
			db := dbtest.Open(t)
			ctx := context.Background()
			accountID := seedCommitterAccount(t, db)
			c := NewCommitter(db, accountID, 100, models.SourceDetail)

			for i := 0; i < tc.items; i++ {
				if err := c.Stage(ctx, record(i), day, SnapshotMetrics{Views: i, Watches: 1}); err != nil {
					t.Fatalf("stage %d: %v", i, err)
				}
				if c.Pending() > 100 {
					t.Fatalf("pending %d exceeds batch size", c.Pending())
				}
			}
			if err := c.Flush(ctx); err != nil {
				t.Fatalf("final flush: %v", err)
			}

			if c.HighWater() > 100 {
				t.Fatalf("high water %d exceeds batch size", c.HighWater())
			}
			if c.Flushes() != tc.flushes {
				t.Fatalf("flushes = %d, want %d", c.Flushes(), tc.flushes)
			}
			if c.Committed() != tc.items || c.Pending() != 0 {
				t.Fatalf("committed=%d pending=%d", c.Committed(), c.Pending())
			}
			n, _ := repository.NewMetricRepository(db).CountForAccountDate(ctx, accountID, day)
			if int(n) != tc.items {
				t.Fatalf("snapshots = %d, want %d", n, tc.items)
			}
		})
	}
}

func TestCommitterDeduplicatesWithinBatch(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	accountID := seedCommitterAccount(t, db)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	c := NewCommitter(db, accountID, 10, models.SourceDetail)
	flushed := 0
	c.OnFlush = func(items int) { flushed += items }

	rec := record(1)
	_ = c.Stage(ctx, rec, day, SnapshotMetrics{Views: 3})
	rec.Title = "renamed"
	_ = c.Stage(ctx, rec, day.Add(15*time.Hour), SnapshotMetrics{Views: 8})
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("OnFlush saw %d items", flushed)
	}

	// A later batch for the same listing and day overwrites the snapshot.
	_ = c.Stage(ctx, rec, day, SnapshotMetrics{Views: 11})
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ids, _ := repository.NewListingRepository(db).IDsByExternalID(ctx, accountID, []string{rec.ItemID})
	rows, err := repository.NewMetricRepository(db).Window(ctx, []uuid.UUID{ids[rec.ItemID]}, day, day)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(rows) != 1 || rows[0].ViewCount != 11 {
		t.Fatalf("snapshots %+v", rows)
	}
	listing, _ := repository.NewListingRepository(db).Get(ctx, ids[rec.ItemID])
	if listing.Title != "renamed" || listing.Source != models.SourceDetail {
		t.Fatalf("listing %+v", listing)
	}
}

func TestEmptyFlushIsNotCounted(t *testing.T) {
	db := dbtest.Open(t)
	c := NewCommitter(db, seedCommitterAccount(t, db), 5, models.SourceDetail)
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if c.Flushes() != 0 {
		t.Fatalf("empty flush counted")
	}
}

func TestInactiveStatusIsStored(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	accountID := seedCommitterAccount(t, db)
	c := NewCommitter(db, accountID, 5, models.SourceDetail)

	rec := record(2)
	rec.Status = "ENDED"
	c.UpsertListing(rec)
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	ids, _ := repository.NewListingRepository(db).ActiveIDsAfter(ctx, accountID, uuid.Nil, 10)
	if len(ids) != 0 {
		t.Fatalf("ended listing counted as active")
	}
}

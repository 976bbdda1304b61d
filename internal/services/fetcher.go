package services

import (
	"context"
	"strings"

	"github.com/sellerpulse/backend/internal/marketplace"
	"github.com/sellerpulse/backend/internal/syncerr"
)

// Fetcher reads catalog pages and item details with a fixed page size.
// It does not retry; callers decide what to do with typed failures.
type Fetcher struct {
	catalog  marketplace.CatalogAPI
	pageSize int
}

func NewFetcher(catalog marketplace.CatalogAPI, pageSize int) *Fetcher {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Fetcher{catalog: catalog, pageSize: pageSize}
}

// PageSize returns the configured page size.
func (f *Fetcher) PageSize() int {
	return f.pageSize
}

// ListPage returns one page of summaries. Summaries without an item id are
// dropped.
func (f *Fetcher) ListPage(ctx context.Context, token string, page int) (marketplace.Page, error) {
	p, err := f.catalog.ListPage(ctx, token, page, f.pageSize)
	if err != nil {
		return marketplace.Page{}, err
	}

	items := p.Items[:0]
	for _, s := range p.Items {
		s.ItemID = strings.TrimSpace(s.ItemID)
		if s.ItemID == "" {
			continue
		}
		items = append(items, s)
	}
	p.Items = items
	return p, nil
}

// GetDetail fetches and checks one item record.
func (f *Fetcher) GetDetail(ctx context.Context, token, itemID string) (marketplace.ItemRecord, error) {
	rec, err := f.catalog.GetDetail(ctx, token, itemID)
	if err != nil {
		return marketplace.ItemRecord{}, err
	}
	if err := validateRecord(itemID, &rec); err != nil {
		return marketplace.ItemRecord{}, err
	}
	return rec, nil
}

func validateRecord(itemID string, rec *marketplace.ItemRecord) error {
	if rec.ItemID == "" {
		rec.ItemID = itemID
	}
	if rec.ItemID != itemID {
		return syncerr.New(syncerr.KindInvalidRecord, "detail for "+itemID+" returned item "+rec.ItemID)
	}
	if rec.Price.IsNegative() {
		return syncerr.New(syncerr.KindInvalidRecord, "negative price for "+itemID)
	}
	if rec.ViewCount < 0 || rec.WatchCount < 0 || rec.BidCount < 0 {
		return syncerr.New(syncerr.KindInvalidRecord, "negative counter for "+itemID)
	}
	return nil
}

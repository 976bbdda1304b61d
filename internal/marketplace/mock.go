package marketplace

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/syncerr"
	"github.com/shopspring/decimal"
)

// FeedColumns is the header of the bulk export payload.
var FeedColumns = []string{
	"itemId", "title", "price", "currency", "categoryId", "categoryName",
	"quantity", "quantitySold", "listingStatus", "imageUrl", "viewCount",
}

var (
	_ API = (*Mock)(nil)
	_ API = (*Client)(nil)
)

// Mock is an offline marketplace with a fixed catalog. Counters drift with
// the calendar day so consecutive daily syncs produce trend history.
type Mock struct {
	itemCount int
	now       func() time.Time

	mu    sync.Mutex
	tasks map[string]int // task id -> status polls seen
}

// NewMock returns a mock catalog of itemCount listings.
func NewMock(itemCount int) *Mock {
	return &Mock{itemCount: itemCount, now: time.Now, tasks: make(map[string]int)}
}

func (m *Mock) itemID(i int) string {
	return fmt.Sprintf("MOCK-%05d", i+1)
}

func (m *Mock) ListPage(ctx context.Context, token string, page, pageSize int) (Page, error) {
	if token == "" {
		return Page{}, syncerr.New(syncerr.KindAuth, "mock: missing token")
	}
	if page < 1 || pageSize < 1 {
		return Page{}, syncerr.New(syncerr.KindInvalidRecord, "mock: bad page request")
	}

	totalPages := (m.itemCount + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > m.itemCount {
		end = m.itemCount
	}

	out := Page{TotalPages: totalPages}
	for i := start; i < end; i++ {
		out.Items = append(out.Items, Summary{ItemID: m.itemID(i)})
	}
	return out, nil
}

func (m *Mock) GetDetail(ctx context.Context, token, itemID string) (ItemRecord, error) {
	if token == "" {
		return ItemRecord{}, syncerr.New(syncerr.KindAuth, "mock: missing token")
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(itemID, "MOCK-"))
	if err != nil || idx < 1 || idx > m.itemCount {
		return ItemRecord{}, syncerr.New(syncerr.KindNotFound, "mock: unknown item "+itemID)
	}
	return m.record(idx), nil
}

func (m *Mock) record(idx int) ItemRecord {
	seed := hashSeed(idx)
	day := int(m.now().UTC().Unix() / 86400)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seed%720) * time.Hour)

	return ItemRecord{
		ItemID:       m.itemID(idx - 1),
		Title:        fmt.Sprintf("Mock listing #%d", idx),
		Price:        decimal.New(500+seed%9500+int64(day%7)*25, -2),
		Currency:     "USD",
		ViewCount:    int(seed%200) + (day%11)*int(seed%5+1),
		WatchCount:   int(seed%40) + (day%5)*int(seed%3),
		BidCount:     int(seed % 6),
		Quantity:     int(seed%10) + 1,
		QuantitySold: int(seed % 4),
		CategoryID:   strconv.Itoa(int(1000 + seed%20)),
		CategoryName: fmt.Sprintf("Category %d", seed%20),
		Status:       "ACTIVE",
		ImageURL:     fmt.Sprintf("https://img.example.com/mock/%d.jpg", idx),
		StartTime:    &start,
	}
}

func (m *Mock) CreateTask(ctx context.Context, token, reportType string) (string, error) {
	if token == "" {
		return "", syncerr.New(syncerr.KindAuth, "mock: missing token")
	}
	id := uuid.NewString()
	m.mu.Lock()
	m.tasks[id] = 0
	m.mu.Unlock()
	return id, nil
}

// GetTaskStatus reports PROCESSING once, then COMPLETED.
func (m *Mock) GetTaskStatus(ctx context.Context, token, taskID string) (TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	polls, ok := m.tasks[taskID]
	if !ok {
		return TaskStatus{}, syncerr.New(syncerr.KindNotFound, "mock: unknown task "+taskID)
	}
	m.tasks[taskID] = polls + 1
	if polls == 0 {
		return TaskStatus{TaskID: taskID, Status: TaskProcessing}, nil
	}
	return TaskStatus{TaskID: taskID, Status: TaskCompleted, ResultLocation: "mock://feed/" + taskID}, nil
}

// Download writes the gzip TSV payload through a pipe so rows are produced
// as the consumer reads them.
func (m *Mock) Download(ctx context.Context, token, location string) (io.ReadCloser, error) {
	if !strings.HasPrefix(location, "mock://feed/") {
		return nil, syncerr.New(syncerr.KindNotFound, "mock: unknown location "+location)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(m.writeFeed(ctx, pw))
	}()
	return pr, nil
}

func (m *Mock) writeFeed(ctx context.Context, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tsv := csv.NewWriter(gz)
	tsv.Comma = '\t'

	if err := tsv.Write(FeedColumns); err != nil {
		return err
	}
	for i := 1; i <= m.itemCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := m.record(i)
		row := []string{
			r.ItemID, r.Title, r.Price.StringFixed(2), r.Currency, r.CategoryID, r.CategoryName,
			strconv.Itoa(r.Quantity), strconv.Itoa(r.QuantitySold), r.Status, r.ImageURL, strconv.Itoa(r.ViewCount),
		}
		if err := tsv.Write(row); err != nil {
			return err
		}
	}
	tsv.Flush()
	if err := tsv.Error(); err != nil {
		return err
	}
	return gz.Close()
}

func (m *Mock) Refresh(ctx context.Context, refreshToken string) (TokenGrant, error) {
	if refreshToken == "" || strings.HasPrefix(refreshToken, "revoked") {
		return TokenGrant{}, syncerr.New(syncerr.KindAuth, "mock: refresh token rejected")
	}
	return TokenGrant{
		AccessToken: "mock-access-" + uuid.NewString(),
		ExpiresIn:   7200,
	}, nil
}

func hashSeed(i int) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte("item-" + strconv.Itoa(i)))
	return int64(h.Sum32())
}

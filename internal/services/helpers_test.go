package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/credentials"
	"github.com/sellerpulse/backend/internal/dbtest"
	"github.com/sellerpulse/backend/internal/marketplace"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/quota"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/syncerr"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.Advance(d)
	return ctx.Err()
}

// fakeCatalog serves itemCount items named ITEM-001.. and records the
// tokens it was called with.
type fakeCatalog struct {
	mu        sync.Mutex
	itemCount int
	missing   map[string]bool
	rejectTok map[string]bool // tokens refused with AUTH
	down      map[string]bool // item details that always answer TRANSIENT
	downPages map[int]bool
	onCall    func()
	// latency is real time spent per call, honouring ctx.
	latency time.Duration

	calls  int
	tokens []string
}

func newFakeCatalog(itemCount int) *fakeCatalog {
	return &fakeCatalog{
		itemCount: itemCount,
		missing:   map[string]bool{},
		rejectTok: map[string]bool{},
		down:      map[string]bool{},
		downPages: map[int]bool{},
	}
}

func itemName(i int) string {
	return fmt.Sprintf("ITEM-%03d", i)
}

func (c *fakeCatalog) enter(ctx context.Context, token string) error {
	c.mu.Lock()
	c.calls++
	if n := len(c.tokens); n == 0 || c.tokens[n-1] != token {
		c.tokens = append(c.tokens, token)
	}
	reject := c.rejectTok[token]
	hook := c.onCall
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	if c.latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.latency):
		}
	}
	if reject {
		return syncerr.New(syncerr.KindAuth, "token rejected")
	}
	return nil
}

func (c *fakeCatalog) ListPage(ctx context.Context, token string, page, pageSize int) (marketplace.Page, error) {
	if err := c.enter(ctx, token); err != nil {
		return marketplace.Page{}, err
	}
	c.mu.Lock()
	down := c.downPages[page]
	c.mu.Unlock()
	if down {
		return marketplace.Page{}, syncerr.New(syncerr.KindTransient, fmt.Sprintf("page %d: 503 service unavailable", page))
	}
	total := (c.itemCount + pageSize - 1) / pageSize
	out := marketplace.Page{TotalPages: total}
	for i := (page-1)*pageSize + 1; i <= page*pageSize && i <= c.itemCount; i++ {
		out.Items = append(out.Items, marketplace.Summary{ItemID: itemName(i)})
	}
	return out, nil
}

func (c *fakeCatalog) GetDetail(ctx context.Context, token, itemID string) (marketplace.ItemRecord, error) {
	if err := c.enter(ctx, token); err != nil {
		return marketplace.ItemRecord{}, err
	}
	c.mu.Lock()
	missing, down := c.missing[itemID], c.down[itemID]
	c.mu.Unlock()
	if missing {
		return marketplace.ItemRecord{}, syncerr.New(syncerr.KindNotFound, "item "+itemID+" not found")
	}
	if down {
		return marketplace.ItemRecord{}, syncerr.New(syncerr.KindTransient, "item "+itemID+": 502 bad gateway")
	}
	return marketplace.ItemRecord{
		ItemID:     itemID,
		Title:      "Listing " + itemID,
		Price:      decimal.RequireFromString("19.99"),
		Currency:   "USD",
		ViewCount:  12,
		WatchCount: 3,
		BidCount:   1,
		Quantity:   2,
		Status:     "ACTIVE",
	}, nil
}

func (c *fakeCatalog) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeTokens struct {
	calls atomic.Int32
}

func (f *fakeTokens) Refresh(ctx context.Context, refreshToken string) (marketplace.TokenGrant, error) {
	n := f.calls.Add(1)
	return marketplace.TokenGrant{AccessToken: fmt.Sprintf("access-%d", n), ExpiresIn: 7200}, nil
}

type harness struct {
	t        *testing.T
	db       *gorm.DB
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	clock    *fakeClock
	tokens   *fakeTokens
	gate     *credentials.Gate
	governor *quota.Governor
	account  *models.Account
}

func newHarness(t *testing.T, start time.Time, quotaOpts quota.Options) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	mr.SetTime(start)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := &fakeClock{t: start}
	if quotaOpts.DailyCap == 0 {
		quotaOpts.DailyCap = 5000
	}
	quotaOpts.Now = clock.Now
	quotaOpts.Sleep = clock.Sleep

	h := &harness{
		t:        t,
		db:       dbtest.Open(t),
		mr:       mr,
		rdb:      rdb,
		clock:    clock,
		tokens:   &fakeTokens{},
		governor: quota.NewGovernor(rdb, quotaOpts),
	}
	h.gate = credentials.NewGate(repository.NewCredentialRepository(h.db), h.tokens, 5*time.Minute)
	h.gate.SetClock(clock.Now)
	h.account = h.addAccount(start.Add(2 * time.Hour))
	return h
}

// addAccount creates an active account whose token "tok-0" expires at exp.
func (h *harness) addAccount(exp time.Time) *models.Account {
	h.t.Helper()
	ctx := context.Background()
	account := &models.Account{ExternalSellerID: "seller-" + uuid.NewString()[:8], IsActive: true}
	if err := repository.NewAccountRepository(h.db).Create(ctx, account); err != nil {
		h.t.Fatalf("create account: %v", err)
	}
	cred := &models.Credential{
		AccountID:       account.ID,
		AccessToken:     "tok-0",
		RefreshToken:    "refresh-0",
		AccessExpiresAt: exp,
		IsValid:         true,
	}
	if err := repository.NewCredentialRepository(h.db).Save(ctx, cred); err != nil {
		h.t.Fatalf("save credential: %v", err)
	}
	return account
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		PageSize:      100,
		BatchSize:     100,
		Workers:       1,
		SoftTimeout:   3 * time.Hour,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		MaxErrors:     10,
		LockTTL:       time.Hour,
	}
}

func (h *harness) syncService(catalog marketplace.CatalogAPI, cfg config.SyncConfig) *SyncService {
	svc := NewSyncService(h.db, h.rdb, catalog, h.gate, h.governor, cfg)
	svc.SetClock(h.clock.Now)
	svc.SetRetrySleep(h.clock.Sleep)
	return svc
}

func (h *harness) snapshotCount(accountID uuid.UUID, day time.Time) int64 {
	h.t.Helper()
	n, err := repository.NewMetricRepository(h.db).CountForAccountDate(context.Background(), accountID, day)
	if err != nil {
		h.t.Fatalf("count snapshots: %v", err)
	}
	return n
}

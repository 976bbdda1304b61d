package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/credentials"
	"github.com/sellerpulse/backend/internal/dbtest"
	"github.com/sellerpulse/backend/internal/marketplace"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/quota"
	"github.com/sellerpulse/backend/internal/report"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/services"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type testEnv struct {
	db        *gorm.DB
	rdb       *redis.Client
	app       *fiber.App
	syncH     *SyncHandler
	trendH    *TrendHandler
	accountID uuid.UUID
}

func newTestEnv(t *testing.T, items int) *testEnv {
	t.Helper()
	mock := marketplace.NewMock(items)
	env := newTestEnvWith(t, context.Background(), mock, mock)
	env.syncH.spawn = func(fn func(ctx context.Context)) { fn(context.Background()) }
	return env
}

// newTestEnvWith serves catalog calls from catalog and everything else from
// mock. Background runs use base.
func newTestEnvWith(t *testing.T, base context.Context, mock *marketplace.Mock, catalog marketplace.CatalogAPI) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := dbtest.Open(t)
	gate := credentials.NewGate(repository.NewCredentialRepository(db), mock, 5*time.Minute)
	governor := quota.NewGovernor(rdb, quota.Options{DailyCap: 1000})

	syncCfg := config.SyncConfig{
		PageSize:      10,
		BatchSize:     10,
		Workers:       1,
		SoftTimeout:   time.Hour,
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
		MaxErrors:     10,
		LockTTL:       time.Hour,
	}
	feedCfg := config.FeedConfig{
		ReportType:    "LMS_ACTIVE_INVENTORY_REPORT",
		PollInterval:  5 * time.Millisecond,
		MaxWait:       time.Second,
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
		RetryMaxDelay: time.Millisecond,
	}

	env := &testEnv{db: db, rdb: rdb}
	env.syncH = NewSyncHandler(
		base,
		services.NewSyncService(db, rdb, catalog, gate, governor, syncCfg),
		services.NewFeedService(db, rdb, mock, gate, governor, feedCfg, syncCfg),
		repository.NewRunRepository(db),
	)
	env.trendH = NewTrendHandler(services.NewTrendService(db, config.TrendConfig{TopN: 1}))
	quotaH := NewQuotaHandler(governor)
	accountH := NewAccountHandler(repository.NewAccountRepository(db), repository.NewListingRepository(db))

	env.app = fiber.New()
	env.app.Get("/quota", quotaH.GetUsage)
	env.app.Post("/quota/reset", quotaH.ResetUsage)
	env.app.Get("/accounts/:id", accountH.GetAccount)
	env.app.Post("/accounts/:id/deactivate", accountH.Deactivate)
	env.app.Post("/accounts/:id/sync", env.syncH.TriggerSync)
	env.app.Post("/accounts/:id/bulk-sync", env.syncH.TriggerBulkSync)
	env.app.Get("/accounts/:id/runs", env.syncH.ListRuns)
	env.app.Get("/accounts/:id/trending", env.trendH.GetTrending)
	env.app.Get("/accounts/:id/trending/export", env.trendH.ExportTrending)
	env.app.Post("/accounts/:id/score", env.trendH.ScoreAccount)

	ctx := context.Background()
	account := &models.Account{ExternalSellerID: "seller-" + uuid.NewString()[:8], IsActive: true}
	if err := repository.NewAccountRepository(db).Create(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	cred := &models.Credential{
		AccountID:       account.ID,
		AccessToken:     "tok-0",
		RefreshToken:    "refresh-0",
		AccessExpiresAt: time.Now().Add(2 * time.Hour),
		IsValid:         true,
	}
	if err := repository.NewCredentialRepository(db).Save(ctx, cred); err != nil {
		t.Fatalf("save credential: %v", err)
	}
	env.accountID = account.ID
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, out interface{}) int {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest(method, path, nil), 10_000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestTriggerSyncWaitReturnsReport(t *testing.T) {
	env := newTestEnv(t, 15)
	path := fmt.Sprintf("/accounts/%s/sync?wait=true", env.accountID)

	var rep services.Report
	if code := env.do(t, "POST", path, &rep); code != fiber.StatusOK {
		t.Fatalf("status = %d, report %+v", code, rep)
	}
	// two list pages plus one detail call per item
	if rep.Status != models.RunCompleted || rep.ItemsSynced != 15 || rep.APICalls != 17 || rep.Cached {
		t.Fatalf("report %+v", rep)
	}

	var usage quota.Usage
	env.do(t, "GET", "/quota", &usage)
	if usage.Used != 17 || usage.Remaining != 1000-17 {
		t.Fatalf("usage %+v", usage)
	}

	var again services.Report
	env.do(t, "POST", path, &again)
	if !again.Cached || again.ItemsSynced != 15 {
		t.Fatalf("second sync should be served from the marker: %+v", again)
	}

	var runs []models.SyncRun
	if code := env.do(t, "GET", fmt.Sprintf("/accounts/%s/runs", env.accountID), &runs); code != fiber.StatusOK {
		t.Fatalf("runs status = %d", code)
	}
	if len(runs) != 1 || runs[0].Status != models.RunCompleted {
		t.Fatalf("runs %+v", runs)
	}
}

func TestTriggerSyncAccepted(t *testing.T) {
	env := newTestEnv(t, 3)

	var body map[string]interface{}
	if code := env.do(t, "POST", fmt.Sprintf("/accounts/%s/sync", env.accountID), &body); code != fiber.StatusAccepted {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "accepted" {
		t.Fatalf("body %v", body)
	}
	// spawn is synchronous in tests, so the run is already recorded.
	runs, _ := repository.NewRunRepository(env.db).Recent(context.Background(), env.accountID, 5)
	if len(runs) != 1 || runs[0].ItemsSynced != 3 {
		t.Fatalf("runs %+v", runs)
	}
}

// stallingCatalog blocks every detail call until its context ends.
type stallingCatalog struct {
	*marketplace.Mock
	started chan struct{}
	once    sync.Once
}

func (c *stallingCatalog) GetDetail(ctx context.Context, token, itemID string) (marketplace.ItemRecord, error) {
	c.once.Do(func() { close(c.started) })
	<-ctx.Done()
	return marketplace.ItemRecord{}, ctx.Err()
}

func TestShutdownInterruptsBackgroundRuns(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := marketplace.NewMock(3)
	catalog := &stallingCatalog{Mock: mock, started: make(chan struct{})}
	env := newTestEnvWith(t, base, mock, catalog)

	if code := env.do(t, "POST", fmt.Sprintf("/accounts/%s/sync", env.accountID), nil); code != fiber.StatusAccepted {
		t.Fatalf("status = %d", code)
	}
	select {
	case <-catalog.started:
	case <-time.After(5 * time.Second):
		t.Fatal("background run never reached the catalog")
	}

	cancel()
	if !env.syncH.Drain(5 * time.Second) {
		t.Fatal("background run still in flight after drain")
	}

	runs, err := repository.NewRunRepository(env.db).Recent(context.Background(), env.accountID, 5)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != models.RunCancelled || runs[0].StopReason != services.StopInterrupted || runs[0].FinishedAt == nil {
		t.Fatalf("runs %+v", runs)
	}
}

func TestTriggerSyncErrors(t *testing.T) {
	env := newTestEnv(t, 1)

	if code := env.do(t, "POST", "/accounts/not-a-uuid/sync?wait=true", nil); code != fiber.StatusBadRequest {
		t.Fatalf("bad id status = %d", code)
	}

	var rep services.Report
	if code := env.do(t, "POST", fmt.Sprintf("/accounts/%s/sync?wait=true", uuid.New()), &rep); code != fiber.StatusNotFound {
		t.Fatalf("unknown account status = %d", code)
	}
	if rep.StopReason != services.StopNotFound {
		t.Fatalf("report %+v", rep)
	}
}

func TestAccountLifecycle(t *testing.T) {
	env := newTestEnv(t, 4)
	base := fmt.Sprintf("/accounts/%s", env.accountID)
	env.do(t, "POST", base+"/sync?wait=true", nil)

	var got struct {
		Account  models.Account `json:"account"`
		Listings int64          `json:"listings"`
	}
	if code := env.do(t, "GET", base, &got); code != fiber.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if got.Account.ID != env.accountID || got.Listings != 4 || got.Account.LastSyncAt == nil {
		t.Fatalf("account %+v", got)
	}

	if code := env.do(t, "POST", base+"/deactivate", nil); code != fiber.StatusNoContent {
		t.Fatalf("deactivate status = %d", code)
	}
	var rep services.Report
	if code := env.do(t, "POST", base+"/sync?wait=true&force=true", &rep); code != fiber.StatusConflict || rep.StopReason != services.StopInactive {
		t.Fatalf("sync after deactivate: %d %+v", code, rep)
	}

	if code := env.do(t, "GET", fmt.Sprintf("/accounts/%s", uuid.New()), nil); code != fiber.StatusNotFound {
		t.Fatalf("unknown account status = %d", code)
	}
}

func TestTriggerBulkSyncWait(t *testing.T) {
	env := newTestEnv(t, 12)

	var rep services.Report
	if code := env.do(t, "POST", fmt.Sprintf("/accounts/%s/bulk-sync?wait=true", env.accountID), &rep); code != fiber.StatusOK {
		t.Fatalf("status = %d, report %+v", code, rep)
	}
	if rep.Status != models.RunCompleted || rep.SyncType != models.SyncTypeFeed || rep.ItemsSynced != 12 || rep.APICalls != 3 {
		t.Fatalf("report %+v", rep)
	}
}

func TestQuotaReset(t *testing.T) {
	env := newTestEnv(t, 5)
	env.do(t, "POST", fmt.Sprintf("/accounts/%s/sync?wait=true", env.accountID), nil)

	var usage quota.Usage
	if code := env.do(t, "POST", "/quota/reset", &usage); code != fiber.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if usage.Used != 0 || usage.Limit != 1000 {
		t.Fatalf("usage after reset %+v", usage)
	}
}

// seedTwoDays stores listings with snapshots on day-1 and day.
func seedTwoDays(t *testing.T, db *gorm.DB, accountID uuid.UUID, day time.Time, views map[string][2]int) {
	t.Helper()
	ctx := context.Background()
	listings := repository.NewListingRepository(db)
	metrics := repository.NewMetricRepository(db)
	for itemID, v := range views {
		err := listings.UpsertByExternalID(ctx, []models.Listing{{AccountID: accountID, ExternalItemID: itemID, Title: "Title " + itemID, IsActive: true}}, repository.DetailListingColumns)
		if err != nil {
			t.Fatalf("upsert listing: %v", err)
		}
		ids, _ := listings.IDsByExternalID(ctx, accountID, []string{itemID})
		rows := []models.MetricSnapshot{
			{ListingID: ids[itemID], SnapshotDate: day.AddDate(0, 0, -1), ViewCount: v[0], CurrentPrice: decimal.NewFromInt(10)},
			{ListingID: ids[itemID], SnapshotDate: day, ViewCount: v[1], CurrentPrice: decimal.NewFromInt(10)},
		}
		if err := metrics.UpsertByListingAndDate(ctx, rows, repository.DetailSnapshotColumns); err != nil {
			t.Fatalf("upsert snapshots: %v", err)
		}
	}
}

func TestScoreAndTrendingEndpoints(t *testing.T) {
	env := newTestEnv(t, 1)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	// view growth 100% -> 40, 50% -> 20
	seedTwoDays(t, env.db, env.accountID, day, map[string][2]int{"HOT": {10, 20}, "WARM": {10, 15}})

	var summary services.ScoreSummary
	if code := env.do(t, "POST", fmt.Sprintf("/accounts/%s/score?date=2024-03-10", env.accountID), &summary); code != fiber.StatusOK {
		t.Fatalf("score status = %d", code)
	}
	if summary.Scored != 2 || summary.Trending != 1 {
		t.Fatalf("summary %+v", summary)
	}

	var top struct {
		Date   string              `json:"date"`
		Scores []models.TrendScore `json:"scores"`
	}
	env.do(t, "GET", fmt.Sprintf("/accounts/%s/trending?date=2024-03-10", env.accountID), &top)
	if top.Date != "2024-03-10" || len(top.Scores) != 1 || top.Scores[0].Score != 40 || top.Scores[0].Listing.ExternalItemID != "HOT" {
		t.Fatalf("trending %+v", top)
	}

	var all struct {
		Scores []models.TrendScore `json:"scores"`
	}
	env.do(t, "GET", fmt.Sprintf("/accounts/%s/trending?date=2024-03-10&all=true", env.accountID), &all)
	if len(all.Scores) != 2 || all.Scores[1].Score != 20 {
		t.Fatalf("leaderboard %+v", all)
	}

	if code := env.do(t, "GET", fmt.Sprintf("/accounts/%s/trending?date=10-03-2024", env.accountID), nil); code != fiber.StatusBadRequest {
		t.Fatalf("bad date status = %d", code)
	}

	resp, err := env.app.Test(httptest.NewRequest("GET", fmt.Sprintf("/accounts/%s/trending/export?date=2024-03-10", env.accountID), nil), 10_000)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != xlsxContentType {
		t.Fatalf("content type %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(report.SheetName)
	if len(rows) != 3 || rows[1][1] != "HOT" || rows[2][1] != "WARM" {
		t.Fatalf("workbook rows %v", rows)
	}
}

func TestStreamRunEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	handler := NewEventsHandler(services.NewRunEventHub(hubCtx, redisClient))

	app := fiber.New()
	app.Get("/api/v1/events", handler.StreamRunEvents)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	defer func() { _ = app.ShutdownWithTimeout(time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+ln.Addr().String()+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to call SSE endpoint: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	runID := uuid.New()
	published := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read SSE line: %v", err)
		}
		if strings.HasPrefix(line, ": connected") && !published {
			published = true
			services.NewEventPublisher(redisClient).Publish(context.Background(), services.RunEvent{
				Type:      services.EventRunFinished,
				AccountID: uuid.New(),
				RunID:     runID,
				Status:    models.RunCompleted,
			})
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if !strings.Contains(line, runID.String()) {
				t.Fatalf("unexpected SSE payload: %s", line)
			}
			return
		}
	}
}

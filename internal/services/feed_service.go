/**
 * @description
 * Bulk feed adapter: requests an inventory export from the marketplace,
 * polls it to completion, and streams the gzip TSV payload row by row into
 * the batch committer.
 *
 * @dependencies
 * - backend/internal/marketplace (ExportAPI)
 * - backend/internal/scheduler (retry policy, dead letter)
 * - standard "encoding/csv", "compress/gzip"
 *
 * @notes
 * - Feed rows carry no watch or bid counts; the committer's feed column set
 *   keeps same-day values written by a detail sync.
 * - The export path spends a fixed three calls and reserves them up front.
 */

package services

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/credentials"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/marketplace"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/quota"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/scheduler"
	"github.com/sellerpulse/backend/internal/syncerr"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	feedCallsPerExport = 3
	DeadLetterFeedKey  = "deadletter:feed"
)

// IngestStats summarizes one parsed payload.
type IngestStats struct {
	Rows      int      `json:"rows"`
	Ingested  int      `json:"ingested"`
	Failed    int      `json:"failed"`
	Committed int      `json:"committed"`
	Flushes   int      `json:"flushes"`
	HighWater int      `json:"high_water"`
	Errors    []string `json:"errors"`
}

// FeedService runs bulk export syncs.
type FeedService struct {
	DB *gorm.DB

	exports    marketplace.ExportAPI
	gate       *credentials.Gate
	quota      *quota.Governor
	accounts   *repository.AccountRepository
	runs       *repository.RunRepository
	guard      *RunGuard
	events     *EventPublisher
	deadLetter scheduler.DeadLetter

	cfg       config.FeedConfig
	batchSize int
	maxErrors int
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewFeedService(db *gorm.DB, rdb *redis.Client, exports marketplace.ExportAPI, gate *credentials.Gate, governor *quota.Governor, cfg config.FeedConfig, syncCfg config.SyncConfig) *FeedService {
	return &FeedService{
		DB:         db,
		exports:    exports,
		gate:       gate,
		quota:      governor,
		accounts:   repository.NewAccountRepository(db),
		runs:       repository.NewRunRepository(db),
		guard:      NewRunGuard(rdb, syncCfg.LockTTL),
		events:     NewEventPublisher(rdb),
		deadLetter: scheduler.NewRedisDeadLetter(rdb, DeadLetterFeedKey),
		cfg:        cfg,
		batchSize:  syncCfg.BatchSize,
		maxErrors:  syncCfg.MaxErrors,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// SetClock replaces the time source and the sleep used while polling.
func (f *FeedService) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	f.now = now
	if sleep != nil {
		f.sleep = sleep
	}
}

// CreateExportTask asks the marketplace to build an inventory export.
func (f *FeedService) CreateExportTask(ctx context.Context, cred *models.Credential) (string, error) {
	taskID, err := f.exports.CreateTask(ctx, cred.AccessToken, f.cfg.ReportType)
	if err != nil {
		return "", err
	}
	if taskID == "" {
		return "", syncerr.New(syncerr.KindTaskFailed, "export task created without an id")
	}
	return taskID, nil
}

// PollStatus waits until the task completes, fails, or MaxWait elapses.
func (f *FeedService) PollStatus(ctx context.Context, cred *models.Credential, taskID string) (marketplace.TaskStatus, error) {
	deadline := f.now().Add(f.cfg.MaxWait)
	for {
		status, err := f.exports.GetTaskStatus(ctx, cred.AccessToken, taskID)
		if err != nil {
			return marketplace.TaskStatus{}, err
		}

		switch status.Status {
		case marketplace.TaskCompleted:
			if status.ResultLocation == "" {
				return status, syncerr.New(syncerr.KindTaskFailed, "export task "+taskID+" completed without a result")
			}
			return status, nil
		case marketplace.TaskFailed:
			return status, syncerr.New(syncerr.KindTaskFailed, "export task "+taskID+" failed remotely")
		}

		if !f.now().Add(f.cfg.PollInterval).Before(deadline) {
			return status, syncerr.New(syncerr.KindTaskTimeout, fmt.Sprintf("export task %s still %s after %s", taskID, status.Status, f.cfg.MaxWait))
		}
		if err := f.sleep(ctx, f.cfg.PollInterval); err != nil {
			return status, err
		}
	}
}

// Download opens the export payload.
func (f *FeedService) Download(ctx context.Context, cred *models.Credential, location string) (io.ReadCloser, error) {
	return f.exports.Download(ctx, cred.AccessToken, location)
}

// ParseAndIngest decodes a TSV payload, gzip-compressed or plain, and
// commits its rows for day. Rows that do not parse are counted and skipped.
func (f *FeedService) ParseAndIngest(ctx context.Context, accountID uuid.UUID, r io.Reader, day time.Time) (stats IngestStats, err error) {
	stats.Errors = []string{}
	committer := NewCommitter(f.DB, accountID, f.batchSize, models.SourceFeed)
	committer.SetClock(f.now)
	defer func() {
		stats.Committed = committer.Committed()
		stats.Flushes = committer.Flushes()
		stats.HighWater = committer.HighWater()
	}()

	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return stats, syncerr.Wrap(syncerr.KindInvalidRecord, "open gzip payload", err)
		}
		defer gz.Close()
		src = gz
	}

	tsv := csv.NewReader(src)
	tsv.Comma = '\t'
	tsv.LazyQuotes = true
	tsv.FieldsPerRecord = -1
	tsv.ReuseRecord = true

	header, err := tsv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		return stats, syncerr.Wrap(syncerr.KindInvalidRecord, "read feed header", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	if _, ok := cols["itemId"]; !ok {
		return stats, syncerr.New(syncerr.KindInvalidRecord, "feed header has no itemId column")
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		row, err := tsv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return stats, syncerr.Wrap(syncerr.KindTransient, "read feed payload", err)
			}
			stats.Rows++
			f.rowFailed(&stats, fmt.Sprintf("row %d: %v", stats.Rows, err))
			continue
		}
		stats.Rows++

		rec, views, hasViews, perr := parseFeedRow(cols, row)
		if perr != nil {
			f.rowFailed(&stats, fmt.Sprintf("row %d: %v", stats.Rows, perr))
			continue
		}

		ref := committer.UpsertListing(rec)
		if hasViews {
			committer.UpsertSnapshot(ref, day, SnapshotMetrics{Views: views, Price: rec.Price})
		}
		stats.Ingested++
		if committer.Pending() >= f.batchSize {
			if err := committer.Flush(ctx); err != nil {
				return stats, err
			}
		}
	}

	if err := committer.Flush(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

func (f *FeedService) rowFailed(stats *IngestStats, msg string) {
	stats.Failed++
	limit := f.maxErrors
	if limit <= 0 {
		limit = 10
	}
	if len(stats.Errors) < limit {
		stats.Errors = append(stats.Errors, msg)
	}
}

func parseFeedRow(cols map[string]int, row []string) (marketplace.ItemRecord, int, bool, error) {
	get := func(name string) string {
		if i, ok := cols[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	atoi := func(name string) (int, error) {
		v := get(name)
		if v == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad %s %q", name, v)
		}
		return n, nil
	}

	rec := marketplace.ItemRecord{
		ItemID:       get("itemId"),
		Title:        get("title"),
		Currency:     get("currency"),
		CategoryID:   get("categoryId"),
		CategoryName: get("categoryName"),
		Status:       get("listingStatus"),
		ImageURL:     get("imageUrl"),
	}
	if rec.ItemID == "" {
		return rec, 0, false, errors.New("missing itemId")
	}
	if p := get("price"); p != "" {
		price, err := decimal.NewFromString(p)
		if err != nil || price.IsNegative() {
			return rec, 0, false, fmt.Errorf("bad price %q", p)
		}
		rec.Price = price
	}

	var err error
	if rec.Quantity, err = atoi("quantity"); err != nil {
		return rec, 0, false, err
	}
	if rec.QuantitySold, err = atoi("quantitySold"); err != nil {
		return rec, 0, false, err
	}

	if get("viewCount") == "" {
		return rec, 0, false, nil
	}
	views, err := atoi("viewCount")
	if err != nil {
		return rec, 0, false, err
	}
	return rec, views, true, nil
}

// BulkSync runs one export-based sync. The returned error is non-nil when
// the run did not complete, carrying the kind that decides retries.
func (f *FeedService) BulkSync(ctx context.Context, accountID uuid.UUID) (Report, error) {
	report := Report{AccountID: accountID, SyncType: models.SyncTypeFeed, Errors: []string{}}

	account, err := f.accounts.Get(ctx, accountID)
	if err != nil {
		report.Status = models.RunFailed
		report.StopReason = StopNotFound
		report.Errors = append(report.Errors, err.Error())
		return report, err
	}
	if !account.IsActive {
		report.Status = models.RunFailed
		report.StopReason = StopInactive
		return report, syncerr.New(syncerr.KindAuth, "account is deactivated")
	}

	start := f.now()
	startedAt := start.UTC()
	run := &models.SyncRun{AccountID: accountID, SyncType: models.SyncTypeFeed, Status: models.RunPending, StartedAt: &startedAt}
	if err := f.runs.Create(ctx, run); err != nil {
		report.Status = models.RunFailed
		report.StopReason = StopStorage
		report.Errors = append(report.Errors, err.Error())
		return report, syncerr.Wrap(syncerr.KindStorage, "create run", err)
	}

	release, err := f.guard.Acquire(ctx, accountID)
	if err != nil {
		run.Status, run.StopReason = models.RunCancelled, StopLocked
		if !errors.Is(err, ErrLockBusy) {
			run.Status, run.StopReason = models.RunFailed, StopTransport
		}
		return f.finish(ctx, run, models.RunPending, start, IngestStats{}, 0, []string{err.Error()}), err
	}
	defer release()

	if err := f.runs.UpdateStatus(ctx, run.ID, models.RunPending, models.RunRunning); err != nil {
		run.Status, run.StopReason = models.RunFailed, StopStorage
		return f.finish(ctx, run, models.RunPending, start, IngestStats{}, 0, []string{err.Error()}), syncerr.Wrap(syncerr.KindStorage, "start run", err)
	}
	run.Status = models.RunRunning
	f.events.Publish(ctx, RunEvent{Type: EventRunStarted, AccountID: accountID, RunID: run.ID, SyncType: run.SyncType, Status: run.Status, At: f.now().UTC()})

	log := logger.With("feed account=%s run=%s", accountID, run.ID)
	log.Info("📦 Starting bulk feed sync")

	stats, calls, err := f.export(ctx, accountID, models.Day(start))
	errs := append([]string{}, stats.Errors...)
	if err != nil {
		run.Status = models.RunFailed
		run.StopReason = feedStopReason(err)
		errs = append(errs, err.Error())
	} else {
		run.Status = models.RunCompleted
	}
	rep := f.finish(ctx, run, models.RunRunning, start, stats, calls, errs)
	if err != nil {
		rep.Retryable = syncerr.IsRetryable(err)
		log.Warn("Bulk feed sync failed: %v", err)
		return rep, err
	}
	log.Info("✅ Bulk feed sync completed: %d rows, %d ingested, %d failed", stats.Rows, stats.Ingested, stats.Failed)
	return rep, nil
}

func (f *FeedService) export(ctx context.Context, accountID uuid.UUID, day time.Time) (IngestStats, int, error) {
	stats := IngestStats{Errors: []string{}}
	if err := f.quota.ForceReserve(ctx, feedCallsPerExport); err != nil {
		return stats, 0, err
	}

	cred, err := f.gate.GetValidCredential(ctx, accountID)
	if err != nil {
		return stats, 0, err
	}

	calls := 1
	taskID, err := f.CreateExportTask(ctx, cred)
	if err != nil {
		return stats, calls, err
	}
	calls++
	status, err := f.PollStatus(ctx, cred, taskID)
	if err != nil {
		return stats, calls, err
	}

	calls++
	body, err := f.Download(ctx, cred, status.ResultLocation)
	if err != nil {
		return stats, calls, err
	}
	defer body.Close()

	stats, err = f.ParseAndIngest(ctx, accountID, body, day)
	return stats, calls, err
}

func (f *FeedService) finish(ctx context.Context, run *models.SyncRun, from models.RunStatus, start time.Time, stats IngestStats, calls int, errs []string) Report {
	ctx = context.WithoutCancel(ctx)
	finished := f.now().UTC()

	run.ItemsSynced = stats.Committed
	run.ItemsFailed = stats.Failed
	run.Flushes = stats.Flushes
	run.APICalls = calls
	run.FinishedAt = &finished
	run.DurationSeconds = finished.Sub(start).Seconds()
	limit := f.maxErrors
	if limit <= 0 {
		limit = 10
	}
	if len(errs) > limit {
		errs = errs[:limit]
	}
	raw, _ := json.Marshal(errs)
	run.Errors = datatypes.JSON(raw)

	if err := f.runs.Finish(ctx, run, from); err != nil {
		logger.Error("failed to record end of feed run %s: %v", run.ID, err)
	}
	f.events.Publish(ctx, RunEvent{
		Type: EventRunFinished, AccountID: run.AccountID, RunID: run.ID, SyncType: run.SyncType,
		Status: run.Status, ItemsSynced: run.ItemsSynced, ItemsFailed: run.ItemsFailed,
		Flushes: run.Flushes, StopReason: run.StopReason, At: finished,
	})

	id := run.ID
	return Report{
		AccountID:   run.AccountID,
		RunID:       &id,
		SyncType:    run.SyncType,
		Status:      run.Status,
		ItemsSynced: run.ItemsSynced,
		ItemsFailed: run.ItemsFailed,
		APICalls:    run.APICalls,
		Flushes:     run.Flushes,
		SyncTime:    run.DurationSeconds,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Errors:      errs,
		StopReason:  run.StopReason,
	}
}

func feedStopReason(err error) string {
	switch syncerr.KindOf(err) {
	case syncerr.KindTaskFailed:
		return "task_failed"
	case syncerr.KindTaskTimeout:
		return "task_timeout"
	case syncerr.KindAuth:
		return StopAuth
	case syncerr.KindStorage:
		return StopStorage
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StopInterrupted
	}
	return StopTransport
}

// RunBulkWithRetry runs BulkSync under the feed retry policy. A run that
// still fails after the last attempt is pushed to the dead letter list.
func (f *FeedService) RunBulkWithRetry(ctx context.Context, accountID uuid.UUID) Report {
	var last Report
	job := scheduler.RetryingJob{
		Job: scheduler.FuncJob{
			JobKey: accountID.String(),
			Desc:   "bulk feed sync " + accountID.String(),
			Run: func(ctx context.Context) error {
				var err error
				last, err = f.BulkSync(ctx, accountID)
				return err
			},
		},
		Policy:     f.RetryPolicy(),
		DeadLetter: f.deadLetter,
		Now:        f.now,
	}
	if err := job.Execute(ctx); err != nil {
		logger.Error("%v", err)
	}
	return last
}

// RetryPolicy is the scheduler-level policy for export runs.
func (f *FeedService) RetryPolicy() scheduler.RetryPolicy {
	return scheduler.RetryPolicy{
		MaxAttempts: f.cfg.RetryAttempts,
		Backoff:     f.cfg.RetryBackoff,
		MaxDelay:    f.cfg.RetryMaxDelay,
		Sleep:       f.sleep,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

/**
 * @description
 * Sync orchestrator: drives one account's catalog sync end to end.
 * Pages through the remote catalog, enriches each summary with its detail
 * record and hands it to the batch committer, while the quota governor and
 * credential gate guard every remote call.
 *
 * @dependencies
 * - backend/internal/credentials
 * - backend/internal/quota
 * - backend/internal/repository
 * - backend/internal/scheduler (retry policy, worker pool)
 * - github.com/redis/go-redis/v9 (run lock, synced marker, events)
 *
 * @notes
 * - Every path ends with a terminal run record and a Report; SyncAccount
 *   never returns a bare error.
 * - Per-item failures, including a detail call that stays unavailable
 *   after its retries, are counted and the loop continues. Storage errors,
 *   a second auth rejection and exhausted list-page retries end the run.
 */

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Stop reasons recorded on runs that end early.
const (
	StopLocked        = "locked"
	StopQuotaExceeded = "quota_exceeded"
	StopSoftDeadline  = "soft_deadline"
	StopHardDeadline  = "hard_deadline"
	StopInterrupted   = "interrupted"
	StopAuth          = "auth"
	StopTransport     = "transport"
	StopStorage       = "storage"
	StopNotFound      = "account_not_found"
	StopInactive      = "account_inactive"
	StopNotStarted    = "not_started"
)

// SyncOptions tunes a single run.
type SyncOptions struct {
	// Force runs even if the account already synced today.
	Force bool
	// FailFastQuota stops at the first refused reservation instead of
	// waiting for budget.
	FailFastQuota bool
}

// Report is the caller-facing summary of one run.
type Report struct {
	AccountID    uuid.UUID        `json:"account_id"`
	RunID        *uuid.UUID       `json:"run_id,omitempty"`
	SyncType     models.SyncType  `json:"sync_type"`
	Status       models.RunStatus `json:"status"`
	ItemsSynced  int              `json:"items_synced"`
	ItemsFailed  int              `json:"items_failed"`
	ItemsPending int              `json:"items_pending"`
	PagesPending int              `json:"pages_pending,omitempty"`
	APICalls     int              `json:"api_calls"`
	Flushes      int              `json:"flushes"`
	SyncTime     float64          `json:"sync_time"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Errors       []string         `json:"errors"`
	Cached       bool             `json:"cached"`
	StopReason   string           `json:"stop_reason,omitempty"`
	Retryable    bool             `json:"retryable"`
}

// SyncService orchestrates catalog sync runs.
type SyncService struct {
	DB    *gorm.DB
	Redis *redis.Client

	accounts *repository.AccountRepository
	runs     *repository.RunRepository
	gate     *credentials.Gate
	quota    *quota.Governor
	fetcher  *Fetcher
	guard    *RunGuard
	events   *EventPublisher

	cfg   config.SyncConfig
	retry scheduler.RetryPolicy
	now   func() time.Time
}

func NewSyncService(db *gorm.DB, rdb *redis.Client, catalog marketplace.CatalogAPI, gate *credentials.Gate, governor *quota.Governor, cfg config.SyncConfig) *SyncService {
	return &SyncService{
		DB:       db,
		Redis:    rdb,
		accounts: repository.NewAccountRepository(db),
		runs:     repository.NewRunRepository(db),
		gate:     gate,
		quota:    governor,
		fetcher:  NewFetcher(catalog, cfg.PageSize),
		guard:    NewRunGuard(rdb, cfg.LockTTL),
		events:   NewEventPublisher(rdb),
		cfg:      cfg,
		retry: scheduler.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			Backoff:     cfg.RetryBackoff,
			MaxDelay:    time.Minute,
			Retryable:   func(err error) bool { return syncerr.KindOf(err) == syncerr.KindTransient },
		},
		now: time.Now,
	}
}

// SetClock replaces the time source for deadlines, timestamps and the
// snapshot date.
func (s *SyncService) SetClock(now func() time.Time) {
	s.now = now
}

// SetRetrySleep replaces the sleep used between transport retries.
func (s *SyncService) SetRetrySleep(sleep func(ctx context.Context, d time.Duration) error) {
	s.retry.Sleep = sleep
}

// SyncAccount runs one catalog sync for accountID.
func (s *SyncService) SyncAccount(ctx context.Context, accountID uuid.UUID, opts SyncOptions) Report {
	report := Report{AccountID: accountID, SyncType: models.SyncTypeCatalog, Errors: []string{}}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		report.Status = models.RunFailed
		report.StopReason = StopNotFound
		if syncerr.KindOf(err) != syncerr.KindNotFound {
			report.StopReason = StopStorage
			report.Retryable = true
		}
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	if !account.IsActive {
		report.Status = models.RunFailed
		report.StopReason = StopInactive
		return report
	}

	start := s.now()
	day := models.Day(start)

	if !opts.Force {
		synced, err := s.guard.SyncedOn(ctx, accountID, day)
		if err != nil {
			logger.Warn("synced marker unavailable for %s: %v", accountID, err)
		}
		if synced {
			return s.cachedReport(ctx, report, day)
		}
	}

	startedAt := start.UTC()
	run := &models.SyncRun{AccountID: accountID, SyncType: models.SyncTypeCatalog, Status: models.RunPending, StartedAt: &startedAt}
	if err := s.runs.Create(ctx, run); err != nil {
		report.Status = models.RunFailed
		report.StopReason = StopStorage
		report.Retryable = true
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	report.RunID = &run.ID

	release, err := s.guard.Acquire(ctx, accountID)
	if err != nil {
		run.Status = models.RunCancelled
		run.StopReason = StopLocked
		if !errors.Is(err, ErrLockBusy) {
			run.Status = models.RunFailed
			run.StopReason = StopTransport
		}
		r := &runState{s: s, run: run, start: start, errors: []string{err.Error()}}
		return r.finish(ctx, models.RunPending)
	}
	defer release()

	r := &runState{
		s:         s,
		run:       run,
		accountID: accountID,
		start:     start,
		day:       day,
		governor:  s.quota,
		log:       logger.With("sync account=%s run=%s", accountID, run.ID),
	}
	if opts.FailFastQuota {
		r.governor = s.quota.WithPolicy(quota.PolicyFail)
	}

	if err := s.runs.UpdateStatus(ctx, run.ID, models.RunPending, models.RunRunning); err != nil {
		run.Status = models.RunFailed
		run.StopReason = StopStorage
		r.addError(err.Error())
		return r.finish(ctx, models.RunPending)
	}
	run.Status = models.RunRunning
	s.events.Publish(ctx, r.event(EventRunStarted))
	r.log.Info("🔄 Starting catalog sync")

	var hardCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.HardTimeout > 0 {
		hardCtx, cancel = context.WithTimeout(ctx, s.cfg.HardTimeout)
	} else {
		hardCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	r.execute(hardCtx, ctx)
	rep := r.finish(ctx, models.RunRunning)

	if rep.Status == models.RunCompleted {
		if err := s.guard.MarkSynced(context.WithoutCancel(ctx), accountID, day, run.ID); err != nil {
			r.log.Warn("failed to set synced marker: %v", err)
		}
		if err := s.accounts.MarkSynced(context.WithoutCancel(ctx), accountID, s.now().UTC()); err != nil {
			r.log.Warn("failed to update last sync time: %v", err)
		}
	}
	return rep
}

// SyncAll syncs every active account on the worker pool.
func (s *SyncService) SyncAll(ctx context.Context, opts SyncOptions) ([]Report, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]Report, len(accounts))
	jobs := make([]scheduler.Job, len(accounts))
	for i, acct := range accounts {
		i, id := i, acct.ID
		reports[i] = Report{AccountID: id, SyncType: models.SyncTypeCatalog, Status: models.RunCancelled, StopReason: StopNotStarted, Errors: []string{}}
		jobs[i] = scheduler.FuncJob{
			JobKey: id.String(),
			Desc:   "catalog sync " + id.String(),
			Run: func(ctx context.Context) error {
				reports[i] = s.SyncAccount(ctx, id, opts)
				if reports[i].Status == models.RunFailed {
					return fmt.Errorf("sync %s failed: %s", id, reports[i].StopReason)
				}
				return nil
			},
		}
	}

	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	scheduler.RunAll(ctx, workers, jobs)
	return reports, nil
}

func (s *SyncService) cachedReport(ctx context.Context, report Report, day time.Time) Report {
	report.Cached = true
	report.Status = models.RunCompleted
	last, err := s.runs.LatestCompletedSince(ctx, report.AccountID, models.SyncTypeCatalog, day)
	if err != nil {
		return report
	}
	report.RunID = &last.ID
	report.ItemsSynced = last.ItemsSynced
	report.ItemsFailed = last.ItemsFailed
	report.APICalls = last.APICalls
	report.Flushes = last.Flushes
	report.SyncTime = last.DurationSeconds
	report.StartedAt = last.StartedAt
	report.FinishedAt = last.FinishedAt
	_ = json.Unmarshal(last.Errors, &report.Errors)
	return report
}

// runState is the mutable bookkeeping of one run.
type runState struct {
	s         *SyncService
	run       *models.SyncRun
	accountID uuid.UUID
	start     time.Time
	day       time.Time
	governor  *quota.Governor
	committer *Committer
	log       *logger.Scoped

	apiCalls     int
	itemsFailed  int
	itemsPending int
	pagesPending int
	errors       []string
	retryable    bool
}

// itemResult is the outcome of processing one catalog item.
type itemResult struct {
	itemID string
	err    error
	// remote is set when err came from the marketplace call itself rather
	// than the quota counter or the credential store.
	remote bool
	// staged is set once the record sits in the committer's buffer.
	staged bool
}

func (res itemResult) skippable() bool {
	switch syncerr.KindOf(res.err) {
	case syncerr.KindNotFound, syncerr.KindInvalidRecord:
		return true
	case syncerr.KindTransient:
		return res.remote
	}
	return false
}

func (r *runState) addError(msg string) {
	if len(r.errors) < r.maxErrors() {
		r.errors = append(r.errors, msg)
	}
}

func (r *runState) maxErrors() int {
	if r.s.cfg.MaxErrors > 0 {
		return r.s.cfg.MaxErrors
	}
	return 10
}

func (r *runState) softDeadlinePassed() bool {
	return r.s.cfg.SoftTimeout > 0 && r.s.now().Sub(r.start) >= r.s.cfg.SoftTimeout
}

// execute runs the page loop and leaves the outcome on r.run.
func (r *runState) execute(ctx, parent context.Context) {
	r.committer = NewCommitter(r.s.DB, r.accountID, r.s.cfg.BatchSize, models.SourceDetail)
	r.committer.SetClock(r.s.now)
	r.committer.OnFlush = func(int) {
		r.s.events.Publish(parent, r.event(EventRunFlushed))
	}

	totalPages := 0
	for page := 1; ; page++ {
		if r.softDeadlinePassed() {
			r.pagesPending = remainingPages(totalPages, page)
			r.stop(ctx, models.RunCancelled, StopSoftDeadline, nil)
			return
		}

		var pg marketplace.Page
		_, err := r.call(ctx, func(ctx context.Context, token string) error {
			var err error
			pg, err = r.s.fetcher.ListPage(ctx, token, page)
			return err
		})
		if err != nil {
			r.pagesPending = remainingPages(totalPages, page)
			r.fail(ctx, parent, err)
			return
		}
		totalPages = pg.TotalPages

		for i, summary := range pg.Items {
			if r.softDeadlinePassed() {
				r.itemsPending = len(pg.Items) - i
				r.pagesPending = remainingPages(totalPages, page+1)
				r.stop(ctx, models.RunCancelled, StopSoftDeadline, nil)
				return
			}

			res := r.processItem(ctx, summary.ItemID)
			if res.err == nil {
				continue
			}
			if ctx.Err() == nil && res.skippable() {
				r.itemsFailed++
				r.addError(fmt.Sprintf("%s: %v", res.itemID, res.err))
				continue
			}
			r.itemsPending = len(pg.Items) - i
			if res.staged {
				r.itemsPending--
			}
			r.pagesPending = remainingPages(totalPages, page+1)
			r.fail(ctx, parent, res.err)
			return
		}

		if err := r.committer.Flush(ctx); err != nil {
			r.pagesPending = remainingPages(totalPages, page+1)
			r.fail(ctx, parent, err)
			return
		}
		if len(pg.Items) == 0 || page >= pg.TotalPages {
			break
		}
	}

	r.run.Status = models.RunCompleted
}

func (r *runState) processItem(ctx context.Context, itemID string) itemResult {
	var rec marketplace.ItemRecord
	remote, err := r.call(ctx, func(ctx context.Context, token string) error {
		var err error
		rec, err = r.s.fetcher.GetDetail(ctx, token, itemID)
		return err
	})
	if err != nil {
		return itemResult{itemID: itemID, err: err, remote: remote}
	}

	err = r.committer.Stage(ctx, rec, r.day, SnapshotMetrics{
		Views:   rec.ViewCount,
		Watches: rec.WatchCount,
		Bids:    rec.BidCount,
		Price:   rec.Price,
	})
	return itemResult{itemID: itemID, err: err, staged: true}
}

// call performs one remote call: reserve quota, obtain a token, invoke fn.
// An auth rejection triggers one credential refresh and a single retry;
// transient failures follow the run's retry policy. remote reports whether
// the final error was returned by fn.
func (r *runState) call(ctx context.Context, fn func(ctx context.Context, token string) error) (remote bool, err error) {
	authRetried := false
	_, err = r.s.retry.Do(ctx, func(ctx context.Context) error {
		for {
			remote = false
			if err := r.governor.Reserve(ctx, 1); err != nil {
				return err
			}
			r.apiCalls++

			cred, err := r.s.gate.GetValidCredential(ctx, r.accountID)
			if err != nil {
				return err
			}
			err = fn(ctx, cred.AccessToken)
			remote = err != nil
			if syncerr.KindOf(err) == syncerr.KindAuth && !authRetried {
				authRetried = true
				r.log.Warn("access token rejected, refreshing")
				r.s.gate.Invalidate(r.accountID, cred.AccessToken)
				continue
			}
			return err
		}
	})
	return remote, err
}

// stop ends the run early after committing what is buffered.
func (r *runState) stop(ctx context.Context, status models.RunStatus, reason string, cause error) {
	if err := r.committer.Flush(context.WithoutCancel(ctx)); err != nil {
		r.retryable = true
		r.itemsPending += r.committer.Pending()
		status, reason, cause = models.RunFailed, StopStorage, err
	}
	r.run.Status = status
	r.run.StopReason = reason
	if cause != nil {
		r.addError(cause.Error())
	}
}

// fail classifies a run-ending error. Everything but a storage failure
// still commits what is buffered.
func (r *runState) fail(ctx, parent context.Context, err error) {
	switch {
	case parent.Err() != nil:
		r.stop(ctx, models.RunCancelled, StopInterrupted, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.retryable = true
		r.stop(ctx, models.RunFailed, StopHardDeadline, err)
	case syncerr.KindOf(err) == syncerr.KindQuotaExceeded:
		r.retryable = true
		r.stop(ctx, models.RunCancelled, StopQuotaExceeded, err)
	case syncerr.KindOf(err) == syncerr.KindAuth:
		r.stop(ctx, models.RunFailed, StopAuth, err)
	case syncerr.KindOf(err) == syncerr.KindStorage:
		r.retryable = true
		r.itemsPending += r.committer.Pending()
		r.run.Status = models.RunFailed
		r.run.StopReason = StopStorage
		r.addError(err.Error())
	default:
		r.retryable = true
		r.stop(ctx, models.RunFailed, StopTransport, fmt.Errorf("unrecoverable transport failure: %w", err))
	}
}

// finish persists the terminal state and builds the report.
func (r *runState) finish(ctx context.Context, from models.RunStatus) Report {
	ctx = context.WithoutCancel(ctx)
	finished := r.s.now().UTC()

	run := r.run
	if r.committer != nil {
		run.ItemsSynced = r.committer.Committed()
		run.Flushes = r.committer.Flushes()
	}
	run.ItemsFailed = r.itemsFailed
	run.ItemsPending = r.itemsPending
	run.APICalls = r.apiCalls
	run.FinishedAt = &finished
	run.DurationSeconds = finished.Sub(r.start).Seconds()
	if r.errors == nil {
		r.errors = []string{}
	}
	errs, _ := json.Marshal(r.errors)
	run.Errors = datatypes.JSON(errs)

	if err := r.s.runs.Finish(ctx, run, from); err != nil {
		logger.Error("failed to record end of run %s: %v", run.ID, err)
	}
	r.s.events.Publish(ctx, r.event(EventRunFinished))

	if r.log != nil {
		msg := fmt.Sprintf("Catalog sync %s: %d synced, %d failed, %d pending, %d calls, %d flushes",
			run.Status, run.ItemsSynced, run.ItemsFailed, run.ItemsPending, run.APICalls, run.Flushes)
		switch run.Status {
		case models.RunCompleted:
			r.log.Info("✅ %s", msg)
		case models.RunCancelled:
			r.log.Warn("%s (%s)", msg, run.StopReason)
		default:
			r.log.Error("❌ %s (%s)", msg, run.StopReason)
		}
	}

	id := run.ID
	return Report{
		AccountID:    run.AccountID,
		RunID:        &id,
		SyncType:     run.SyncType,
		Status:       run.Status,
		ItemsSynced:  run.ItemsSynced,
		ItemsFailed:  run.ItemsFailed,
		ItemsPending: run.ItemsPending,
		PagesPending: r.pagesPending,
		APICalls:     run.APICalls,
		Flushes:      run.Flushes,
		SyncTime:     run.DurationSeconds,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Errors:       r.errors,
		StopReason:   run.StopReason,
		Retryable:    r.retryable,
	}
}

func (r *runState) event(kind string) RunEvent {
	ev := RunEvent{
		Type:        kind,
		AccountID:   r.run.AccountID,
		RunID:       r.run.ID,
		SyncType:    r.run.SyncType,
		Status:      r.run.Status,
		ItemsFailed: r.itemsFailed,
		StopReason:  r.run.StopReason,
		At:          r.s.now().UTC(),
	}
	if r.committer != nil {
		ev.ItemsSynced = r.committer.Committed()
		ev.Flushes = r.committer.Flushes()
	}
	return ev
}

func remainingPages(total, from int) int {
	if total == 0 || from > total {
		return 0
	}
	return total - from + 1
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/syncerr"
	"github.com/sellerpulse/backend/internal/trend"
	"gorm.io/gorm"
)

// ErrInsufficientHistory means the listing lacks a snapshot for the scoring
// day or the day before it.
var ErrInsufficientHistory = errors.New("insufficient snapshot history")

const scoreChunkSize = 500

// ScoreSummary describes one account's scoring pass.
type ScoreSummary struct {
	AccountID uuid.UUID `json:"account_id"`
	Date      string    `json:"date"`
	Scored    int       `json:"scored"`
	Skipped   int       `json:"skipped"`
	Trending  int       `json:"trending"`
	Error     string    `json:"error,omitempty"`
}

// TrendService turns stored snapshots into daily scores and ranks.
type TrendService struct {
	DB *gorm.DB

	accounts *repository.AccountRepository
	listings *repository.ListingRepository
	metrics  *repository.MetricRepository
	trends   *repository.TrendRepository
	topN     int
}

func NewTrendService(db *gorm.DB, cfg config.TrendConfig) *TrendService {
	return &TrendService{
		DB:       db,
		accounts: repository.NewAccountRepository(db),
		listings: repository.NewListingRepository(db),
		metrics:  repository.NewMetricRepository(db),
		trends:   repository.NewTrendRepository(db),
		topN:     cfg.TopN,
	}
}

// Score computes and stores one listing's score for date. The stored rank is
// left untouched; ranks are only assigned by ScoreAccount.
func (s *TrendService) Score(ctx context.Context, listingID uuid.UUID, date time.Time) (*models.TrendScore, error) {
	day := models.Day(date)
	listing, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return nil, err
	}

	rows, err := s.metrics.Window(ctx, []uuid.UUID{listingID}, day.AddDate(0, 0, -(trend.WindowDays-1)), day)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStorage, "load snapshots", err)
	}
	res, err := trend.Compute(day, toTrendSnapshots(rows))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientHistory, err)
	}

	row := scoreRow(listing.AccountID, listingID, day, res)
	if err := s.trends.UpsertByListingAndDate(ctx, []models.TrendScore{row}, repository.ScoreColumns); err != nil {
		return nil, syncerr.Wrap(syncerr.KindStorage, "store trend score", err)
	}
	return s.trends.Get(ctx, listingID, day)
}

// ScoreAccount scores every active listing of the account for date, ranks
// them, and replaces the account's rows for that day.
func (s *TrendService) ScoreAccount(ctx context.Context, accountID uuid.UUID, date time.Time) (ScoreSummary, error) {
	day := models.Day(date)
	summary := ScoreSummary{AccountID: accountID, Date: models.DayKey(day)}
	from := day.AddDate(0, 0, -(trend.WindowDays - 1))

	var entries []trend.Entry
	results := make(map[uuid.UUID]trend.Result)

	after := uuid.Nil
	for {
		ids, err := s.listings.ActiveIDsAfter(ctx, accountID, after, scoreChunkSize)
		if err != nil {
			return summary, syncerr.Wrap(syncerr.KindStorage, "page listings", err)
		}
		if len(ids) == 0 {
			break
		}
		after = ids[len(ids)-1]

		rows, err := s.metrics.Window(ctx, ids, from, day)
		if err != nil {
			return summary, syncerr.Wrap(syncerr.KindStorage, "load snapshots", err)
		}
		byListing := make(map[uuid.UUID][]models.MetricSnapshot, len(ids))
		for _, r := range rows {
			byListing[r.ListingID] = append(byListing[r.ListingID], r)
		}

		for _, id := range ids {
			res, err := trend.Compute(day, toTrendSnapshots(byListing[id]))
			if err != nil {
				summary.Skipped++
				continue
			}
			results[id] = res
			entries = append(entries, trend.Entry{ListingID: id, Score: res.Score})
		}
		if len(ids) < scoreChunkSize {
			break
		}
	}

	ranked := trend.Rank(entries, s.topN)
	rows := make([]models.TrendScore, 0, len(ranked))
	for _, r := range ranked {
		row := scoreRow(accountID, r.ListingID, day, results[r.ListingID])
		rank := r.Rank
		row.Rank = &rank
		row.IsTrending = r.Trending
		if r.Trending {
			summary.Trending++
		}
		rows = append(rows, row)
	}

	err := repository.WithRetry(ctx, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			trends := s.trends.WithTx(tx)
			if err := trends.DeleteForAccountDate(ctx, accountID, day); err != nil {
				return err
			}
			return trends.UpsertByListingAndDate(ctx, rows, repository.RankedColumns)
		})
	})
	if err != nil {
		return summary, syncerr.Wrap(syncerr.KindStorage, "store ranked scores", err)
	}

	summary.Scored = len(rows)
	logger.Info("📈 Scored account %s for %s: %d scored, %d skipped, %d trending",
		accountID, summary.Date, summary.Scored, summary.Skipped, summary.Trending)
	return summary, nil
}

// ScoreAll scores every active account. A failing account is recorded in
// its summary and does not stop the others.
func (s *TrendService) ScoreAll(ctx context.Context, date time.Time) ([]ScoreSummary, error) {
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ScoreSummary, 0, len(accounts))
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		summary, err := s.ScoreAccount(ctx, acct.ID, date)
		if err != nil {
			logger.Error("Failed to score account %s: %v", acct.ID, err)
			summary.Error = err.Error()
		}
		out = append(out, summary)
	}
	return out, nil
}

// TopTrending returns the account's trending listings for date, best first.
func (s *TrendService) TopTrending(ctx context.Context, accountID uuid.UUID, date time.Time, limit int) ([]models.TrendScore, error) {
	return s.trends.ForAccountDate(ctx, accountID, date, limit, true)
}

// Leaderboard returns the account's ranked scores for date, best first.
func (s *TrendService) Leaderboard(ctx context.Context, accountID uuid.UUID, date time.Time, limit int) ([]models.TrendScore, error) {
	return s.trends.ForAccountDate(ctx, accountID, date, limit, false)
}

func toTrendSnapshots(rows []models.MetricSnapshot) []trend.Snapshot {
	out := make([]trend.Snapshot, len(rows))
	for i, r := range rows {
		price, _ := r.CurrentPrice.Float64()
		out[i] = trend.Snapshot{Date: r.SnapshotDate, Views: r.ViewCount, Watches: r.WatchCount, Price: price}
	}
	return out
}

func scoreRow(accountID, listingID uuid.UUID, day time.Time, res trend.Result) models.TrendScore {
	return models.TrendScore{
		ListingID:       listingID,
		AccountID:       accountID,
		ScoreDate:       day,
		ViewGrowthRate:  res.ViewGrowth,
		WatchGrowthRate: res.WatchGrowth,
		View7DayAvg:     res.View7DayAvg,
		Watch7DayAvg:    res.Watch7DayAvg,
		PriceMomentum:   res.PriceMomentum,
		Score:           res.Score,
	}
}

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/scheduler"
	"github.com/sellerpulse/backend/internal/services"
)

// DailyResult is what one daily pass produced.
type DailyResult struct {
	Day     time.Time
	Reports []services.Report
	Scores  []services.ScoreSummary
}

// RunDaily syncs every active account and then scores the day the pass
// started on. Scoring runs even when some accounts failed to sync.
func (s *Stack) RunDaily(ctx context.Context, now time.Time, opts services.SyncOptions) (DailyResult, error) {
	res := DailyResult{Day: models.Day(now)}

	reports, err := s.Sync.SyncAll(ctx, opts)
	if err != nil {
		return res, fmt.Errorf("sync accounts: %w", err)
	}
	res.Reports = reports

	failed := 0
	for _, rep := range reports {
		if rep.Status == models.RunFailed {
			failed++
		}
	}
	logger.Info("🔄 Daily sync finished: %d accounts, %d failed", len(reports), failed)

	scores, err := s.Trend.ScoreAll(ctx, res.Day)
	if err != nil {
		return res, fmt.Errorf("score accounts: %w", err)
	}
	res.Scores = scores
	return res, nil
}

// DailyJob adapts RunDaily to the scheduler.
func (s *Stack) DailyJob(now func() time.Time) scheduler.Job {
	return scheduler.FuncJob{
		JobKey: "all",
		Desc:   "daily catalog sync and trend scoring",
		Run: func(ctx context.Context) error {
			_, err := s.RunDaily(ctx, now(), services.SyncOptions{})
			return err
		},
	}
}

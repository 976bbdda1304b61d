package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/scheduler"
)

// TokenRefreshResult summarizes one proactive refresh pass.
type TokenRefreshResult struct {
	Refreshed int      `json:"tokens_refreshed"`
	Failed    int      `json:"tokens_failed"`
	Errors    []string `json:"errors"`
}

// RefreshExpiringTokens refreshes every valid credential whose access token
// expires within horizon of now. A failed account is counted and the pass
// moves on.
func (s *Stack) RefreshExpiringTokens(ctx context.Context, now time.Time, horizon time.Duration) (TokenRefreshResult, error) {
	res := TokenRefreshResult{Errors: []string{}}

	creds, err := repository.NewCredentialRepository(s.DB).ExpiringBefore(ctx, now.Add(horizon))
	if err != nil {
		return res, err
	}
	logger.Info("🔑 Found %d credentials expiring within %s", len(creds), horizon)

	for _, cred := range creds {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if _, err := s.Gate.GetCredentialValidFor(ctx, cred.AccountID, horizon); err != nil {
			res.Failed++
			msg := fmt.Sprintf("refresh token for account %s: %v", cred.AccountID, err)
			logger.Error("%s", msg)
			if len(res.Errors) < 10 {
				res.Errors = append(res.Errors, msg)
			}
			continue
		}
		res.Refreshed++
	}

	logger.Info("🔑 Token refresh finished: %d refreshed, %d failed", res.Refreshed, res.Failed)
	return res, nil
}

// TokenRefreshJob adapts RefreshExpiringTokens to the scheduler.
func (s *Stack) TokenRefreshJob(now func() time.Time, horizon time.Duration) scheduler.Job {
	return scheduler.FuncJob{
		JobKey: "tokens",
		Desc:   "proactive credential refresh",
		Run: func(ctx context.Context) error {
			_, err := s.RefreshExpiringTokens(ctx, now(), horizon)
			return err
		},
	}
}

// HourlySchedule fires at minute 0 of every hour.
func HourlySchedule() []string {
	times := make([]string, 0, 24)
	for h := 0; h < 24; h++ {
		times = append(times, fmt.Sprintf("%02d:00", h))
	}
	return times
}

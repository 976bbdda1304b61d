/**
 * @description
 * Quota governor for the remote marketplace's daily call budget.
 * The counter lives in Redis under a key that embeds the UTC date, so every
 * process shares one budget and a new day starts from zero.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: counter storage and the reserve script
 *
 * @notes
 * - Reservation is a single Lua script (read, compare, increment), so
 *   concurrent callers can never push the day's total past the cap.
 * - Redis failures are returned as TRANSIENT errors; the governor never
 *   lets a call through without a successful reservation.
 */

package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/syncerr"
)

// Policy decides what Reserve does when the day's budget is exhausted.
type Policy int

const (
	// PolicyBlock waits for capacity (or the next UTC day) up to MaxWait.
	PolicyBlock Policy = iota
	// PolicyFail returns QUOTA_EXCEEDED immediately.
	PolicyFail
)

// reserveScript returns {1, used} on success or {0, used} when n would not fit.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
if used + n > cap then
  return {0, used}
end
used = redis.call('INCRBY', KEYS[1], n)
redis.call('EXPIREAT', KEYS[1], ARGV[3])
return {1, used}
`)

// Usage is a point-in-time view of the day's budget.
type Usage struct {
	Scope     string    `json:"scope"`
	Date      string    `json:"date"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// Options configures a Governor.
type Options struct {
	DailyCap     int
	Scope        string
	WarnRatio    float64
	PollInterval time.Duration
	MaxWait      time.Duration
	Policy       Policy

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// OptionsFromConfig maps the quota configuration onto governor options.
func OptionsFromConfig(cfg config.QuotaConfig, policy Policy) Options {
	return Options{
		DailyCap:     cfg.DailyCap,
		Scope:        cfg.Scope,
		WarnRatio:    cfg.WarnRatio,
		PollInterval: cfg.PollInterval,
		MaxWait:      cfg.MaxWait,
		Policy:       policy,
	}
}

// Governor hands out reservations against the shared daily cap.
type Governor struct {
	rdb  *redis.Client
	opts Options

	warnMu     *sync.Mutex
	warnedDays map[string]bool
}

// NewGovernor creates a governor over the given Redis client.
func NewGovernor(rdb *redis.Client, opts Options) *Governor {
	if opts.Scope == "" {
		opts.Scope = "marketplace"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Governor{
		rdb:        rdb,
		opts:       opts,
		warnMu:     &sync.Mutex{},
		warnedDays: make(map[string]bool),
	}
}

// WithPolicy returns a governor sharing the same counter with another policy.
func (g *Governor) WithPolicy(p Policy) *Governor {
	clone := *g
	clone.opts.Policy = p
	return &clone
}

// DailyCap returns the configured cap.
func (g *Governor) DailyCap() int {
	return g.opts.DailyCap
}

// Key returns the counter key for the UTC day containing t.
func (g *Governor) Key(t time.Time) string {
	return fmt.Sprintf("quota:%s:%s", g.opts.Scope, models.DayKey(t))
}

// Reserve atomically claims n calls from today's budget.
func (g *Governor) Reserve(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if n > g.opts.DailyCap {
		return syncerr.New(syncerr.KindQuotaExceeded, fmt.Sprintf("reservation of %d exceeds the daily cap of %d", n, g.opts.DailyCap))
	}

	start := g.opts.Now()
	for {
		now := g.opts.Now()
		ok, used, err := g.tryReserve(ctx, now, n)
		if err != nil {
			return err
		}
		if ok {
			g.maybeWarn(now, used)
			return nil
		}

		untilReset := endOfDay(now).Sub(now)
		exceeded := &syncerr.Error{
			Kind:       syncerr.KindQuotaExceeded,
			Message:    fmt.Sprintf("daily quota exhausted (%d/%d used)", used, g.opts.DailyCap),
			RetryAfter: untilReset,
		}
		if g.opts.Policy == PolicyFail {
			return exceeded
		}

		wait := g.opts.PollInterval
		if untilReset < wait {
			wait = untilReset
		}
		if now.Add(wait).Sub(start) > g.opts.MaxWait {
			return exceeded
		}
		if err := g.opts.Sleep(ctx, wait); err != nil {
			exceeded.Cause = err
			return exceeded
		}
	}
}

// ForceReserve increments the counter without checking the cap. It is meant
// for the rare bulk export path, which always spends its few calls.
func (g *Governor) ForceReserve(ctx context.Context, n int) error {
	now := g.opts.Now()
	key := g.Key(now)
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, int64(n))
		pipe.ExpireAt(ctx, key, endOfDay(now))
		return nil
	})
	if err != nil {
		return syncerr.Wrap(syncerr.KindTransient, "quota counter unavailable", err)
	}
	return nil
}

// Usage reports today's consumption.
func (g *Governor) Usage(ctx context.Context) (Usage, error) {
	now := g.opts.Now()
	used, err := g.rdb.Get(ctx, g.Key(now)).Int()
	if err != nil && err != redis.Nil {
		return Usage{}, syncerr.Wrap(syncerr.KindTransient, "quota counter unavailable", err)
	}
	remaining := g.opts.DailyCap - used
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		Scope:     g.opts.Scope,
		Date:      models.DayKey(now),
		Used:      used,
		Remaining: remaining,
		Limit:     g.opts.DailyCap,
		ResetAt:   endOfDay(now),
	}, nil
}

// Reset clears today's counter.
func (g *Governor) Reset(ctx context.Context) error {
	if err := g.rdb.Del(ctx, g.Key(g.opts.Now())).Err(); err != nil {
		return syncerr.Wrap(syncerr.KindTransient, "quota counter unavailable", err)
	}
	return nil
}

func (g *Governor) tryReserve(ctx context.Context, now time.Time, n int) (bool, int, error) {
	res, err := reserveScript.Run(ctx, g.rdb,
		[]string{g.Key(now)},
		n, g.opts.DailyCap, endOfDay(now).Unix(),
	).Int64Slice()
	if err != nil {
		return false, 0, syncerr.Wrap(syncerr.KindTransient, "quota counter unavailable", err)
	}
	if len(res) != 2 {
		return false, 0, syncerr.New(syncerr.KindTransient, "unexpected quota script reply")
	}
	return res[0] == 1, int(res[1]), nil
}

func (g *Governor) maybeWarn(now time.Time, used int) {
	if g.opts.WarnRatio <= 0 || float64(used) < float64(g.opts.DailyCap)*g.opts.WarnRatio {
		return
	}
	day := models.DayKey(now)

	g.warnMu.Lock()
	defer g.warnMu.Unlock()
	if g.warnedDays[day] {
		return
	}
	g.warnedDays[day] = true
	logger.Warn("Marketplace quota at %d/%d calls for %s", used, g.opts.DailyCap, day)
}

func endOfDay(t time.Time) time.Time {
	return models.Day(t).AddDate(0, 0, 1)
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

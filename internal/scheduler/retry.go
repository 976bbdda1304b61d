package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/syncerr"
)

// RetryPolicy retries an operation with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxDelay    time.Duration

	// Retryable decides whether an error is worth another attempt.
	// Defaults to syncerr.IsRetryable.
	Retryable func(error) bool
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Delay is the wait after the given failed attempt (1-based):
// Backoff, 2*Backoff, 4*Backoff, ... capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is used up. It returns the number of attempts made and the
// last error. A remote Retry-After hint longer than the backoff wins.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = syncerr.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if !retryable(err) || attempt == maxAttempts {
			return attempt, err
		}

		delay := p.Delay(attempt)
		if hint := syncerr.RetryAfterOf(err); hint > delay {
			delay = hint
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		if serr := sleep(ctx, delay); serr != nil {
			return attempt, err
		}
	}
	return maxAttempts, err
}

// DeadLetter records jobs that exhausted their retries.
type DeadLetter interface {
	Push(ctx context.Context, entry DeadLetterEntry) error
}

// DeadLetterEntry is one exhausted job.
type DeadLetterEntry struct {
	Key         string    `json:"key"`
	Description string    `json:"description"`
	Error       string    `json:"error"`
	Kind        string    `json:"kind,omitempty"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failed_at"`
}

// RedisDeadLetter keeps entries on a redis list, newest first.
type RedisDeadLetter struct {
	rdb *redis.Client
	key string
}

func NewRedisDeadLetter(rdb *redis.Client, key string) *RedisDeadLetter {
	return &RedisDeadLetter{rdb: rdb, key: key}
}

func (d *RedisDeadLetter) Push(ctx context.Context, entry DeadLetterEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := d.rdb.LPush(ctx, d.key, payload).Err(); err != nil {
		return fmt.Errorf("push dead letter: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (d *RedisDeadLetter) List(ctx context.Context, limit int64) ([]DeadLetterEntry, error) {
	raw, err := d.rdb.LRange(ctx, d.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]DeadLetterEntry, 0, len(raw))
	for _, r := range raw {
		var e DeadLetterEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// RetryingJob wraps a job with a retry policy and parks it on the dead
// letter list once the policy gives up.
type RetryingJob struct {
	Job
	Policy     RetryPolicy
	DeadLetter DeadLetter
	Now        func() time.Time
}

func (j RetryingJob) Execute(ctx context.Context) error {
	attempts, err := j.Policy.Do(ctx, j.Job.Execute)
	if err == nil {
		return nil
	}
	if j.DeadLetter != nil && ctx.Err() == nil {
		now := time.Now
		if j.Now != nil {
			now = j.Now
		}
		entry := DeadLetterEntry{
			Key:         j.Key(),
			Description: j.Description(),
			Error:       err.Error(),
			Kind:        string(syncerr.KindOf(err)),
			Attempts:    attempts,
			FailedAt:    now().UTC(),
		}
		if dlErr := j.DeadLetter.Push(context.WithoutCancel(ctx), entry); dlErr != nil {
			logger.Error("failed to dead-letter %s: %v", j.Description(), dlErr)
		} else {
			logger.Warn("%s dead-lettered after %d attempts: %v", j.Description(), attempts, err)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", j.Description(), attempts, err)
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

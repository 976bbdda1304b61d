package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/syncerr"
)

// ErrLockBusy means another run of the same account holds the lock.
var ErrLockBusy = errors.New("account sync already in progress")

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RunGuard serializes runs per account across processes and remembers
// which accounts already completed a sync today.
type RunGuard struct {
	rdb      *redis.Client
	ttl      time.Duration
	attempts int
}

func NewRunGuard(rdb *redis.Client, ttl time.Duration) *RunGuard {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RunGuard{rdb: rdb, ttl: ttl, attempts: 3}
}

func lockKey(accountID uuid.UUID) string {
	return fmt.Sprintf("lock:sync:%s", accountID)
}

func syncedKey(accountID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("synced:%s:%s", accountID, models.DayKey(day))
}

// Acquire takes the account lock, retrying briefly. The returned func
// releases it.
func (g *RunGuard) Acquire(ctx context.Context, accountID uuid.UUID) (func(), error) {
	key := lockKey(accountID)
	token := uuid.NewString()

	for attempt := 1; attempt <= g.attempts; attempt++ {
		ok, err := g.rdb.SetNX(ctx, key, token, g.ttl).Result()
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindTransient, "acquire sync lock", err)
		}
		if ok {
			return func() {
				if err := releaseScript.Run(context.Background(), g.rdb, []string{key}, token).Err(); err != nil {
					logger.Error("failed to release sync lock %s: %v", key, err)
				}
			}, nil
		}
		if attempt == g.attempts {
			break
		}

		backoff := time.Duration(100+rand.Intn(150)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, ErrLockBusy
}

// SyncedOn reports whether the account completed a sync on day.
func (g *RunGuard) SyncedOn(ctx context.Context, accountID uuid.UUID, day time.Time) (bool, error) {
	n, err := g.rdb.Exists(ctx, syncedKey(accountID, day)).Result()
	if err != nil {
		return false, syncerr.Wrap(syncerr.KindTransient, "read synced marker", err)
	}
	return n > 0, nil
}

// MarkSynced records a completed sync for day; the marker expires when the
// UTC day ends.
func (g *RunGuard) MarkSynced(ctx context.Context, accountID uuid.UUID, day time.Time, runID uuid.UUID) error {
	key := syncedKey(accountID, day)
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, runID.String(), 0)
		pipe.ExpireAt(ctx, key, models.Day(day).AddDate(0, 0, 1))
		return nil
	})
	if err != nil {
		return syncerr.Wrap(syncerr.KindTransient, "write synced marker", err)
	}
	return nil
}

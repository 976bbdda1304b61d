/**
 * @description
 * GORM-backed repositories for accounts, credentials, listings, metric
 * snapshots, trend scores and sync runs.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/jackc/pgx/v5/pgconn: Postgres error codes for retry decisions
 *
 * @notes
 * - Upserts are keyed on the natural unique keys, never on generated ids.
 * - Missing rows surface as syncerr NOT_FOUND so callers can branch on kind.
 */

package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sellerpulse/backend/internal/syncerr"
	"gorm.io/gorm"
)

const maxCommitRetries = 5

func lookupError(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return syncerr.Wrap(syncerr.KindNotFound, what+" not found", err)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// IsRetryable reports whether err is a Postgres deadlock or serialization
// failure that a fresh attempt of the same transaction may clear.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01" || pgErr.Code == "40001"
	}
	return false
}

// WithRetry runs fn, retrying deadlocks and serialization failures with a
// jittered linear backoff.
func WithRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxCommitRetries; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}

		backoff := time.Duration(attempt*100+rand.Intn(100)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

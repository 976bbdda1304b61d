/**
 * @description
 * Credential gate: hands out access tokens that stay valid for at least a
 * safety margin, refreshing them against the marketplace token endpoint when
 * needed. Refreshes are serialized per account so a refresh token is never
 * spent twice by concurrent callers.
 *
 * @dependencies
 * - backend/internal/marketplace (TokenAPI)
 * - backend/internal/models
 */

package credentials

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/marketplace"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/syncerr"
	"gorm.io/datatypes"
)

// Store loads and persists the single live credential of an account.
type Store interface {
	Load(ctx context.Context, accountID uuid.UUID) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
	MarkInvalid(ctx context.Context, accountID uuid.UUID) error
}

// Gate supplies valid credentials.
type Gate struct {
	store  Store
	tokens marketplace.TokenAPI
	margin time.Duration
	now    func() time.Time

	mu       sync.Mutex
	locks    map[uuid.UUID]*sync.Mutex
	rejected map[uuid.UUID]string // access token the remote side refused
}

// NewGate creates a gate. margin is how long a token must still be valid to
// be handed out without a refresh.
func NewGate(store Store, tokens marketplace.TokenAPI, margin time.Duration) *Gate {
	return &Gate{
		store:    store,
		tokens:   tokens,
		margin:   margin,
		now:      time.Now,
		locks:    make(map[uuid.UUID]*sync.Mutex),
		rejected: make(map[uuid.UUID]string),
	}
}

// SetClock replaces the time source.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// GetValidCredential returns a credential usable for at least the safety
// margin. A permanently unusable refresh token yields an AUTH error.
func (g *Gate) GetValidCredential(ctx context.Context, accountID uuid.UUID) (*models.Credential, error) {
	return g.GetCredentialValidFor(ctx, accountID, g.margin)
}

// GetCredentialValidFor is GetValidCredential with a longer horizon, used to
// refresh tokens ahead of the runs that will need them. A horizon shorter
// than the safety margin is raised to it.
func (g *Gate) GetCredentialValidFor(ctx context.Context, accountID uuid.UUID, horizon time.Duration) (*models.Credential, error) {
	if horizon < g.margin {
		horizon = g.margin
	}
	cred, err := g.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !g.needsRefresh(cred, horizon) {
		return cred, nil
	}

	lock := g.lockFor(accountID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited for the lock
	cred, err = g.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !g.needsRefresh(cred, horizon) {
		return cred, nil
	}
	return g.refresh(ctx, cred)
}

// Invalidate records that the remote side rejected accessToken, forcing the
// next GetValidCredential to refresh even if the token looks unexpired.
func (g *Gate) Invalidate(accountID uuid.UUID, accessToken string) {
	g.mu.Lock()
	g.rejected[accountID] = accessToken
	g.mu.Unlock()
}

func (g *Gate) load(ctx context.Context, accountID uuid.UUID) (*models.Credential, error) {
	cred, err := g.store.Load(ctx, accountID)
	if err != nil {
		if syncerr.KindOf(err) == syncerr.KindNotFound {
			return nil, syncerr.Wrap(syncerr.KindAuth, "account has no credential", err)
		}
		return nil, syncerr.Wrap(syncerr.KindStorage, "load credential", err)
	}
	if !cred.IsValid {
		return nil, syncerr.New(syncerr.KindAuth, "credential revoked; seller must re-authorize")
	}
	return cred, nil
}

func (g *Gate) needsRefresh(cred *models.Credential, horizon time.Duration) bool {
	g.mu.Lock()
	rejected, ok := g.rejected[cred.AccountID]
	g.mu.Unlock()
	if ok && rejected == cred.AccessToken {
		return true
	}
	return cred.ExpiresWithin(g.now(), horizon)
}

func (g *Gate) refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	now := g.now()
	if cred.RefreshExpired(now) {
		g.markInvalid(ctx, cred.AccountID)
		return nil, syncerr.New(syncerr.KindAuth, "refresh token expired; seller must re-authorize")
	}

	grant, err := g.tokens.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if syncerr.KindOf(err) == syncerr.KindAuth {
			g.markInvalid(ctx, cred.AccountID)
		}
		return nil, err
	}

	updated := *cred
	updated.AccessToken = grant.AccessToken
	updated.AccessExpiresAt = now.Add(time.Duration(grant.ExpiresIn) * time.Second)
	if grant.RefreshToken != "" {
		updated.RefreshToken = grant.RefreshToken
		if grant.RefreshTokenExpiresIn > 0 {
			exp := now.Add(time.Duration(grant.RefreshTokenExpiresIn) * time.Second)
			updated.RefreshExpiresAt = &exp
		}
	}
	if grant.Scope != "" {
		scopes, _ := json.Marshal(strings.Fields(grant.Scope))
		updated.Scopes = datatypes.JSON(scopes)
	}

	if err := g.store.Save(ctx, &updated); err != nil {
		return nil, syncerr.Wrap(syncerr.KindStorage, "save refreshed credential", err)
	}

	g.mu.Lock()
	delete(g.rejected, cred.AccountID)
	g.mu.Unlock()

	logger.Info("🔑 Refreshed credential for account %s (expires %s)", cred.AccountID, updated.AccessExpiresAt.Format(time.RFC3339))
	return &updated, nil
}

func (g *Gate) markInvalid(ctx context.Context, accountID uuid.UUID) {
	if err := g.store.MarkInvalid(ctx, accountID); err != nil {
		logger.Error("failed to mark credential of %s invalid: %v", accountID, err)
	}
}

func (g *Gate) lockFor(accountID uuid.UUID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[accountID] = lock
	}
	return lock
}

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL matches the seven day lifetime of the browser session.
const DefaultTTL = 7 * 24 * time.Hour

// IdentityFetcher resolves a bearer token to the account it belongs to.
type IdentityFetcher interface {
	FetchIdentity(ctx context.Context, token string) (Identity, error)
}

// Manager restores and ends sessions. It is the only place credentials are created.
type Manager struct {
	store   Store
	fetcher IdentityFetcher
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewManager(store Store, fetcher IdentityFetcher, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, fetcher: fetcher, ttl: ttl, logger: logger, now: time.Now}
}

// Restore returns the credential for token. A cached credential is used when present;
// otherwise the identity is fetched and cached. Any identity failure yields ErrNoSession.
func (m *Manager) Restore(ctx context.Context, token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrNoSession
	}

	cred, err := m.store.Lookup(ctx, token)
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, ErrNotFound) {
		m.logger.Warn("credential lookup failed, fetching identity", zap.Error(err))
	}

	identity, err := m.fetcher.FetchIdentity(ctx, token)
	if err != nil {
		m.logger.Info("identity fetch failed, treating as signed out", zap.Error(err))
		return Credential{}, ErrNoSession
	}
	if strings.TrimSpace(identity.Login) == "" {
		return Credential{}, ErrNoSession
	}

	cred = Credential{
		Token:     token,
		Identity:  identity,
		ExpiresAt: m.now().Add(m.ttl),
	}
	if err := m.store.Save(ctx, cred); err != nil {
		m.logger.Warn("credential save failed", zap.String("login", identity.Login), zap.Error(err))
	}
	return cred, nil
}

// Logout forgets the credential for token.
func (m *Manager) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := m.store.Remove(ctx, token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Package session holds the bearer credential of a signed-in contributor.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound  = errors.New("credential not found or expired")
	ErrNoSession = errors.New("no session")
)

// Identity is the account the bearer token acts for.
type Identity struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Credential is the token plus the identity it resolved to.
type Credential struct {
	Token     string    `json:"-"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the credential carries a token and a known identity.
func (c Credential) Valid() bool {
	return strings.TrimSpace(c.Token) != "" && strings.TrimSpace(c.Identity.Login) != ""
}

// Store persists credentials keyed by token until they expire.
type Store interface {
	Save(ctx context.Context, cred Credential) error
	Lookup(ctx context.Context, token string) (Credential, error)
	Remove(ctx context.Context, token string) error
}

// MemoryStore keeps credentials in process. Used when Redis is not configured.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Credential
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Credential), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[cred.Token] = cred
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.items[token]
	if !ok {
		return Credential{}, ErrNotFound
	}
	if !cred.ExpiresAt.IsZero() && !s.now().Before(cred.ExpiresAt) {
		delete(s.items, token)
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

func (s *MemoryStore) Remove(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, token)
	return nil
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pecademic/api/internal/auth"

	"github.com/redis/go-redis/v9"
)

// credentialData is what gets stored per token. The token itself is only used as the key hash.
type credentialData struct {
	Login     string    `json:"login"`
	AvatarURL string    `json:"avatar_url"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore implements Store with one expiring key per token.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "credential:",
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + auth.HashToken(token)
}

// Save stores the credential until its ExpiresAt.
func (s *RedisStore) Save(ctx context.Context, cred Credential) error {
	data := credentialData{
		Login:     cred.Identity.Login,
		AvatarURL: cred.Identity.AvatarURL,
		ExpiresAt: cred.ExpiresAt,
		CreatedAt: time.Now(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	ttl := time.Until(cred.ExpiresAt)
	if cred.ExpiresAt.IsZero() || ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := s.client.Set(ctx, s.key(cred.Token), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Lookup returns the credential for token, or ErrNotFound.
func (s *RedisStore) Lookup(ctx context.Context, token string) (Credential, error) {
	jsonData, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("lookup credential: %w", err)
	}

	var data credentialData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return Credential{}, fmt.Errorf("unmarshal credential: %w", err)
	}

	return Credential{
		Token:     token,
		Identity:  Identity{Login: data.Login, AvatarURL: data.AvatarURL},
		ExpiresAt: data.ExpiresAt,
	}, nil
}

// Remove deletes the credential. Removing an unknown token is not an error.
func (s *RedisStore) Remove(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

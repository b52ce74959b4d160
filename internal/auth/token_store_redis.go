package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Refresh tokens stay valid long after the access token expires.
const refreshTokenLifetime = 60 * 24 * time.Hour

// RedisTokenStore implements TokenStore using Redis
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	return &RedisTokenStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisTokenStore) key() string {
	return fmt.Sprintf("%s:token", s.prefix)
}

func (s *RedisTokenStore) SaveToken(ctx context.Context, state TokenState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	ttl := time.Until(state.ExpiresAt) + refreshTokenLifetime
	if ttl <= 0 {
		ttl = refreshTokenLifetime
	}

	if err := s.client.Set(ctx, s.key(), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) LoadToken(ctx context.Context) (TokenState, error) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return TokenState{}, ErrTokenNotFound
		}
		return TokenState{}, fmt.Errorf("failed to get token: %w", err)
	}

	var state TokenState
	if err := json.Unmarshal(data, &state); err != nil {
		return TokenState{}, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return state, nil
}

func (s *RedisTokenStore) DeleteToken(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

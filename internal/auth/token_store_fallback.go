package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"xero-sync-service/internal/logger"
)

// FallbackTokenStore wraps a primary store with a circuit breaker and a local
// copy. While the primary is unavailable, reads are served from the copy and
// writes only update the copy.
type FallbackTokenStore struct {
	primary TokenStore
	breaker *gobreaker.CircuitBreaker

	mu    sync.RWMutex
	local *TokenState
}

func NewFallbackTokenStore(primary TokenStore) *FallbackTokenStore {
	settings := gobreaker.Settings{
		Name:        "token-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log.Warn("Token store circuit changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &FallbackTokenStore{
		primary: primary,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *FallbackTokenStore) LoadToken(ctx context.Context) (TokenState, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		state, err := s.primary.LoadToken(ctx)
		if errors.Is(err, ErrTokenNotFound) {
			// An empty store is a healthy answer.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return state, nil
	})
	if err == nil {
		if result == nil {
			s.setLocal(nil)
			return TokenState{}, ErrTokenNotFound
		}
		state := result.(TokenState)
		s.setLocal(&state)
		return state, nil
	}

	logger.Log.Warn("Failed to load token from primary store, using local copy", zap.Error(err))

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.local == nil {
		return TokenState{}, fmt.Errorf("token store unavailable: %w", err)
	}
	return *s.local, nil
}

func (s *FallbackTokenStore) SaveToken(ctx context.Context, state TokenState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	s.setLocal(&state)

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.primary.SaveToken(ctx, state)
	})
	if err != nil {
		logger.Log.Warn("Failed to save token to primary store", zap.Error(err))
	}
	return nil
}

func (s *FallbackTokenStore) DeleteToken(ctx context.Context) error {
	s.setLocal(nil)

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.primary.DeleteToken(ctx)
	})
	if err != nil {
		logger.Log.Warn("Failed to delete token from primary store", zap.Error(err))
	}
	return nil
}

// State reports the breaker state for status endpoints.
func (s *FallbackTokenStore) State() string {
	return s.breaker.State().String()
}

func (s *FallbackTokenStore) setLocal(state *TokenState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state == nil {
		s.local = nil
		return
	}
	copied := *state
	s.local = &copied
}

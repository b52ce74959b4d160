package auth

import (
	"context"
	"encoding/json"
	"fmt"
)

// TokenStore persists the TokenState. LoadToken returns ErrTokenNotFound when
// nothing is stored.
type TokenStore interface {
	LoadToken(ctx context.Context) (TokenState, error)
	SaveToken(ctx context.Context, state TokenState) error
	DeleteToken(ctx context.Context) error
}

// KeyValue is the slice of the ledger used for token persistence.
type KeyValue interface {
	GetValue(ctx context.Context, key string) ([]byte, error)
	PutValue(ctx context.Context, key string, value []byte) error
	DeleteValue(ctx context.Context, key string) error
}

const tokenKey = "xero.token"

// KVTokenStore keeps the token as JSON in the state database.
type KVTokenStore struct {
	kv KeyValue
}

func NewKVTokenStore(kv KeyValue) *KVTokenStore {
	return &KVTokenStore{kv: kv}
}

func (s *KVTokenStore) LoadToken(ctx context.Context) (TokenState, error) {
	data, err := s.kv.GetValue(ctx, tokenKey)
	if err != nil {
		return TokenState{}, fmt.Errorf("failed to get token: %w", err)
	}
	if data == nil {
		return TokenState{}, ErrTokenNotFound
	}

	var state TokenState
	if err := json.Unmarshal(data, &state); err != nil {
		return TokenState{}, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return state, nil
}

func (s *KVTokenStore) SaveToken(ctx context.Context, state TokenState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := s.kv.PutValue(ctx, tokenKey, data); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *KVTokenStore) DeleteToken(ctx context.Context) error {
	if err := s.kv.DeleteValue(ctx, tokenKey); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNoTenant      = errors.New("no tenant connected to this authorization")
	ErrInvalidState  = errors.New("invalid or expired oauth state")
	ErrNotConnected  = errors.New("not connected to xero")
	ErrTokenNotFound = errors.New("token not found")
)

// AuthError reports a failed exchange, refresh or tenant lookup.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

package xero

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrRateLimitExceeded = errors.New("xero rate limit exceeded")

// RateLimitError is returned once the retry budget for throttled calls is
// spent.
type RateLimitError struct {
	Attempts   int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v after %d attempts (retry after %s)", ErrRateLimitExceeded, e.Attempts, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// APIError carries an error reported by Xero. Message and Validation hold the
// remote text verbatim.
type APIError struct {
	StatusCode  int
	ErrorNumber int
	Type        string
	Message     string
	Validation  []string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "xero api error (status %d", e.StatusCode)
	if e.ErrorNumber != 0 {
		fmt.Fprintf(&b, ", number %d", e.ErrorNumber)
	}
	b.WriteString(")")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Validation) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Validation, "; "))
	}
	return b.String()
}

// TransportError wraps a failure to reach Xero at all.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("xero %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound reports a 404 from Xero.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/metrics"
)

const (
	stateTTL          = 10 * time.Minute
	stateCacheSize    = 256
	defaultTokenLife  = 30 * time.Minute
	defaultTimeout    = 30 * time.Second
	defaultRefreshGap = 300 * time.Second
)

// Session owns the single authorized connection: code exchange, tenant
// discovery, transparent refresh and revocation.
type Session struct {
	cfg        config.XeroConfig
	oauth      *oauth2.Config
	store      TokenStore
	httpClient *http.Client
	timeout    time.Duration
	margin     time.Duration
	now        func() time.Time

	states    *expirable.LRU[string, time.Time]
	refreshes singleflight.Group

	// commitMu serializes writes of the token state so that a refresh
	// finishing after Disconnect cannot resurrect the connection.
	commitMu sync.Mutex
	mu       sync.RWMutex
	state    TokenState
}

type SessionOption func(*Session)

// WithHTTPClient sets the client used for token, connection and revocation calls.
func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) { s.httpClient = c }
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func NewSession(cfg config.XeroConfig, store TokenStore, opts ...SessionOption) (*Session, error) {
	cred := CredentialFromConfig(cfg)
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			RedirectURL:  cred.RedirectURL,
			Scopes:       cred.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:   store,
		timeout: cfg.Timeout,
		margin:  cfg.RefreshMargin,
		now:     time.Now,
		states:  expirable.NewLRU[string, time.Time](stateCacheSize, nil, stateTTL),
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.margin <= 0 {
		s.margin = defaultRefreshGap
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: s.timeout}
	}
	return s, nil
}

// Load restores the persisted state. An empty store leaves the session
// disconnected.
func (s *Session) Load(ctx context.Context) error {
	state, err := s.store.LoadToken(ctx)
	if errors.Is(err, ErrTokenNotFound) {
		s.set(TokenState{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load token state: %w", err)
	}
	s.set(state)
	if state.Connected() {
		logger.Log.Info("Restored Xero connection",
			zap.String("tenant_id", state.TenantID),
			zap.Time("expires_at", state.ExpiresAt))
	}
	return nil
}

// AuthorizationURL returns the consent URL and the one-time state it carries.
func (s *Session) AuthorizationURL() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)
	s.states.Add(state, s.now())

	return s.oauth.AuthCodeURL(state), state, nil
}

// VerifyState consumes a state issued by AuthorizationURL. Each state is
// accepted at most once.
func (s *Session) VerifyState(state string) error {
	if state == "" {
		return ErrInvalidState
	}
	if _, ok := s.states.Get(state); !ok {
		return ErrInvalidState
	}
	if !s.states.Remove(state) {
		return ErrInvalidState
	}
	return nil
}

// ExchangeCode trades an authorization code for tokens, resolves the tenant
// and persists the result. The first tenant returned is selected.
func (s *Session) ExchangeCode(ctx context.Context, code string) (TokenState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tok, err := s.oauth.Exchange(s.clientContext(ctx), code)
	if err != nil {
		return TokenState{}, &AuthError{Op: "exchange", Err: err}
	}

	tenants, err := s.listTenants(ctx, tok.AccessToken)
	if err != nil {
		return TokenState{}, &AuthError{Op: "connections", Err: err}
	}
	if len(tenants) == 0 {
		return TokenState{}, &AuthError{Op: "connections", Err: ErrNoTenant}
	}

	state := TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    s.expiry(tok),
		TenantID:     tenants[0].TenantID,
		TenantName:   tenants[0].TenantName,
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := s.store.SaveToken(ctx, state); err != nil {
		return TokenState{}, fmt.Errorf("failed to save token: %w", err)
	}
	s.set(state)

	logger.Log.Info("Connected to Xero",
		zap.String("tenant_id", state.TenantID),
		zap.String("tenant_name", state.TenantName),
		zap.Int("tenants", len(tenants)))
	return state, nil
}

// EnsureFresh returns a usable token state, refreshing it when it is within
// the refresh margin of expiry. Concurrent callers share one refresh.
func (s *Session) EnsureFresh(ctx context.Context) (TokenState, error) {
	current := s.Current()
	if !current.Connected() {
		return TokenState{}, ErrNotConnected
	}
	if !s.needsRefresh(current) {
		return current, nil
	}

	ch := s.refreshes.DoChan("refresh", func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return TokenState{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return TokenState{}, res.Err
		}
		return res.Val.(TokenState), nil
	}
}

func (s *Session) refresh(ctx context.Context) (TokenState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	current := s.Current()
	if !current.Connected() {
		return TokenState{}, ErrNotConnected
	}
	if !s.needsRefresh(current) {
		return current, nil
	}

	src := s.oauth.TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		if s.irrecoverable(err, current) {
			logger.Log.Error("Refresh token rejected, clearing Xero connection", zap.Error(err))
			s.clear(ctx, current)
		} else {
			logger.Log.Warn("Token refresh failed", zap.Error(err))
		}
		return TokenState{}, &AuthError{Op: "refresh", Err: err}
	}

	next := TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    s.expiry(tok),
		TenantID:     current.TenantID,
		TenantName:   current.TenantName,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if s.Current().RefreshToken != current.RefreshToken {
		// Disconnected or reconnected while the refresh was in flight.
		return TokenState{}, ErrNotConnected
	}

	// The old refresh token is spent once the server has answered, so the
	// new state is kept in memory even if persisting it fails.
	s.set(next)
	if err := s.store.SaveToken(ctx, next); err != nil {
		return TokenState{}, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	logger.Log.Debug("Refreshed Xero access token", zap.Time("expires_at", next.ExpiresAt))
	return next, nil
}

// Disconnect revokes the grant when possible and always clears local state.
// Only a failure to clear the token store is returned.
func (s *Session) Disconnect(ctx context.Context) error {
	current := s.Current()

	token := current.RefreshToken
	if token == "" {
		token = current.AccessToken
	}
	if token != "" {
		if err := s.revoke(ctx, token); err != nil {
			logger.Log.Warn("Token revocation failed, clearing local state anyway", zap.Error(err))
		}
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.set(TokenState{})
	if err := s.store.DeleteToken(ctx); err != nil {
		return fmt.Errorf("failed to clear token state: %w", err)
	}

	logger.Log.Info("Disconnected from Xero", zap.String("tenant_id", current.TenantID))
	return nil
}

// IsConnected does not check expiry.
func (s *Session) IsConnected() bool {
	return s.Current().Connected()
}

func (s *Session) Current() TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Status() ConnectionStatus {
	current := s.Current()
	if !current.Connected() {
		return ConnectionStatus{}
	}
	expiresAt := current.ExpiresAt
	return ConnectionStatus{
		Connected:  true,
		TenantID:   current.TenantID,
		TenantName: current.TenantName,
		ExpiresAt:  &expiresAt,
		Expired:    !s.now().Before(current.ExpiresAt),
	}
}

func (s *Session) set(state TokenState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) clear(ctx context.Context, expected TokenState) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if s.Current().RefreshToken != expected.RefreshToken {
		return
	}
	s.set(TokenState{})
	if err := s.store.DeleteToken(ctx); err != nil {
		logger.Log.Error("Failed to clear token state", zap.Error(err))
	}
}

func (s *Session) needsRefresh(state TokenState) bool {
	return !s.now().Before(state.ExpiresAt.Add(-s.margin))
}

// irrecoverable reports a refresh that can never succeed: the grant was
// rejected and the current access token is already unusable.
func (s *Session) irrecoverable(err error, state TokenState) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	rejected := re.ErrorCode == "invalid_grant" ||
		(re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized))
	return rejected && !s.now().Before(state.ExpiresAt)
}

func (s *Session) expiry(tok *oauth2.Token) time.Time {
	if tok.Expiry.IsZero() {
		return s.now().Add(defaultTokenLife)
	}
	return tok.Expiry
}

func (s *Session) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

func (s *Session) listTenants(ctx context.Context, accessToken string) ([]Tenant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.ConnectionsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create connections request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connections request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read connections response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("connections request failed with status %d: %s", resp.StatusCode, body)
	}

	var tenants []Tenant
	if err := json.Unmarshal(body, &tenants); err != nil {
		return nil, fmt.Errorf("failed to parse connections response: %w", err)
	}
	return tenants, nil
}

func (s *Session) revoke(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data := url.Values{}
	data.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.oauth.ClientID, s.oauth.ClientSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("revoke request failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"xero-sync-service/internal/config"
)

// fakeIdentity serves the token, connections and revocation endpoints.
type fakeIdentity struct {
	tenants      []Tenant
	tokenStatus  int
	tokenBody    string
	revokeStatus int
	tokenDelay   time.Duration

	exchanges   atomic.Int32
	refreshes   atomic.Int32
	revocations atomic.Int32
	lastBearer  atomic.Value
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		tenants:      []Tenant{{ID: "conn-1", TenantID: "tenant-1", TenantType: "ORGANISATION", TenantName: "Demo Company"}},
		tokenStatus:  http.StatusOK,
		revokeStatus: http.StatusOK,
	}
}

func (f *fakeIdentity) start(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Form.Get("grant_type") == "refresh_token" {
			f.refreshes.Add(1)
		} else {
			f.exchanges.Add(1)
		}
		if f.tokenDelay > 0 {
			time.Sleep(f.tokenDelay)
		}
		w.Header().Set("Content-Type", "application/json")
		if f.tokenStatus != http.StatusOK {
			w.WriteHeader(f.tokenStatus)
			body := f.tokenBody
			if body == "" {
				body = `{"error":"server_error"}`
			}
			w.Write([]byte(body))
			return
		}
		n := f.exchanges.Load() + f.refreshes.Load()
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-" + string(rune('0'+n)),
			"refresh_token": "refresh-" + string(rune('0'+n)),
			"token_type":    "Bearer",
			"expires_in":    1800,
		})
	})
	mux.HandleFunc("/connections", func(w http.ResponseWriter, r *http.Request) {
		f.lastBearer.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.tenants)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		f.revocations.Add(1)
		w.WriteHeader(f.revokeStatus)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testXeroConfig(baseURL string) config.XeroConfig {
	return config.XeroConfig{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		RedirectURL:    "http://localhost:8080/auth/callback",
		AuthURL:        baseURL + "/authorize",
		TokenURL:       baseURL + "/token",
		RevokeURL:      baseURL + "/revoke",
		ConnectionsURL: baseURL + "/connections",
		APIBaseURL:     baseURL + "/api.xro/2.0",
		Timeout:        5 * time.Second,
		RefreshMargin:  300 * time.Second,
	}
}

// memoryTokenStore records every write.
type memoryTokenStore struct {
	mu      sync.Mutex
	state   *TokenState
	saves   int
	deletes int
	saveErr error
}

func (m *memoryTokenStore) LoadToken(ctx context.Context) (TokenState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return TokenState{}, ErrTokenNotFound
	}
	return *m.state, nil
}

func (m *memoryTokenStore) SaveToken(ctx context.Context, state TokenState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.state = &state
	return nil
}

func (m *memoryTokenStore) DeleteToken(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	m.state = nil
	return nil
}

func (m *memoryTokenStore) stored() *TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

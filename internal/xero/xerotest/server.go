// Package xerotest provides an in-memory accounting API for tests.
package xerotest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
)

// Call is one request received by the server.
type Call struct {
	Method   string
	Path     string
	Query    string
	TenantID string
}

var (
	idFields  = map[string]string{"Items": "ItemID", "Contacts": "ContactID", "Invoices": "InvoiceID"}
	idPrefix  = map[string]string{"Items": "i", "Contacts": "c", "Invoices": "inv"}
	whereExpr = regexp.MustCompile(`^(\w+)=="((?:[^"\\]|\\.)*)"$`)
)

// Server keeps Items, Contacts and Invoices in memory and speaks enough of the
// REST surface for the client: list with a where filter, get, create with
// PUT and update with POST.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	resources  map[string]map[string]map[string]any
	order      map[string][]string
	counters   map[string]int
	calls      []Call
	throttle   int
	retryAfter string
	rejects    map[string]string
	Accounts   []map[string]any
	TaxRates   []map[string]any
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		resources: map[string]map[string]map[string]any{},
		order:     map[string][]string{},
		counters:  map[string]int{},
		rejects:   map[string]string{},
		Accounts: []map[string]any{
			{"AccountID": "a-200", "Code": "200", "Name": "Sales", "Type": "REVENUE", "Status": "ACTIVE"},
			{"AccountID": "a-300", "Code": "300", "Name": "Purchases", "Type": "DIRECTCOSTS", "Status": "ACTIVE"},
		},
		TaxRates: []map[string]any{
			{"Name": "Tax on Sales", "TaxType": "OUTPUT", "Status": "ACTIVE", "EffectiveRate": 15.0},
			{"Name": "Tax Exempt", "TaxType": "NONE", "Status": "ACTIVE", "EffectiveRate": 0.0},
		},
	}
	for plural := range idFields {
		s.resources[plural] = map[string]map[string]any{}
	}
	s.Server = httptest.NewServer(s)
	t.Cleanup(s.Close)
	return s
}

// Throttle answers the next n requests with 429. A negative n throttles
// every request.
func (s *Server) Throttle(n int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttle = n
	s.retryAfter = retryAfter
}

// Reject fails every write to plural with a validation error carrying msg.
// An empty msg clears the rejection.
func (s *Server) Reject(plural, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == "" {
		delete(s.rejects, plural)
		return
	}
	s.rejects[plural] = msg
}

// Seed stores v as if it had been created remotely and returns its id.
func (s *Server) Seed(plural string, v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(plural, obj)
}

func (s *Server) Get(plural, id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[plural][id]
}

func (s *Server) Delete(plural, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources[plural], id)
}

func (s *Server) Count(plural string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resources[plural])
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts requests with method whose path starts with /plural.
func (s *Server) CallCount(method, plural string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, "/"+plural) {
			n++
		}
	}
	return n
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant := r.Header.Get("Xero-tenant-id")
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, TenantID: tenant})

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") || tenant == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"Title": "Unauthorized", "Status": 401, "Detail": "AuthenticationUnsuccessful"})
		return
	}

	if s.throttle != 0 {
		if s.throttle > 0 {
			s.throttle--
		}
		if s.retryAfter != "" {
			w.Header().Set("Retry-After", s.retryAfter)
		}
		w.Header().Set("X-Rate-Limit-Problem", "minute")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	plural := parts[0]

	switch plural {
	case "Accounts":
		writeJSON(w, http.StatusOK, map[string]any{"Status": "OK", "Accounts": s.Accounts})
		return
	case "TaxRates":
		writeJSON(w, http.StatusOK, map[string]any{"Status": "OK", "TaxRates": s.TaxRates})
		return
	}

	if _, ok := idFields[plural]; !ok || len(parts) > 2 {
		http.Error(w, "The resource you're looking for cannot be found", http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		s.list(w, r, plural)
	case r.Method == http.MethodGet:
		obj, ok := s.resources[plural][parts[1]]
		if !ok {
			http.Error(w, "The resource you're looking for cannot be found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"Status": "OK", plural: []any{obj}})
	case r.Method == http.MethodPut && len(parts) == 1:
		s.write(w, r, plural, "")
	case r.Method == http.MethodPost && len(parts) == 2:
		if _, ok := s.resources[plural][parts[1]]; !ok {
			http.Error(w, "The resource you're looking for cannot be found", http.StatusNotFound)
			return
		}
		s.write(w, r, plural, parts[1])
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, plural string) {
	field, value := "", ""
	if where := r.URL.Query().Get("where"); where != "" {
		m := whereExpr.FindStringSubmatch(where)
		if m == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ErrorNumber": 16, "Type": "QueryParseException", "Message": "unsupported where clause"})
			return
		}
		field, value = m[1], strings.ReplaceAll(m[2], `\"`, `"`)
	}

	matches := []any{}
	for _, id := range s.order[plural] {
		obj, ok := s.resources[plural][id]
		if !ok {
			continue
		}
		if field != "" && fmt.Sprint(obj[field]) != value {
			continue
		}
		matches = append(matches, obj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"Status": "OK", plural: matches})
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, plural, id string) {
	if msg, ok := s.rejects[plural]; ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ErrorNumber": 10,
			"Type":        "ValidationException",
			"Message":     "A validation exception occurred",
			"Elements": []any{map[string]any{
				"ValidationErrors": []any{map[string]any{"Message": msg}},
			}},
		})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var env map[string][]map[string]any
	if err := json.Unmarshal(body, &env); err != nil || len(env[plural]) != 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return
	}

	obj := env[plural][0]
	if id != "" {
		obj[idFields[plural]] = id
	}
	id = s.store(plural, obj)
	writeJSON(w, http.StatusOK, map[string]any{"Status": "OK", plural: []any{s.resources[plural][id]}})
}

// store assigns an id when obj has none. Callers hold mu.
func (s *Server) store(plural string, obj map[string]any) string {
	field := idFields[plural]
	id, _ := obj[field].(string)
	if id == "" {
		s.counters[plural]++
		id = fmt.Sprintf("%s-%d", idPrefix[plural], s.counters[plural])
		obj[field] = id
	}
	if _, exists := s.resources[plural][id]; !exists {
		s.order[plural] = append(s.order[plural], id)
	}
	s.resources[plural][id] = obj
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package sync

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/config"
	"xero-sync-service/internal/mapping"
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/store"
	"xero-sync-service/internal/xero"
	"xero-sync-service/internal/xero/xerotest"
)

type fakeCatalog struct {
	mu        sync.Mutex
	products  map[int64]shop.Product
	customers map[int64]shop.Customer
	orders    map[int64]shop.Order

	// err is returned by every getter; panicMsg makes every getter panic.
	err      error
	panicMsg string

	// hold, when set, blocks GetCustomer until closed; entered is signalled
	// first.
	hold    chan struct{}
	entered chan struct{}
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:  map[int64]shop.Product{},
		customers: map[int64]shop.Customer{},
		orders:    map[int64]shop.Order{},
	}
}

func (c *fakeCatalog) addProduct(p shop.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *fakeCatalog) addCustomer(cu shop.Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers[cu.ID] = cu
}

func (c *fakeCatalog) addOrder(o shop.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[o.ID] = o
}

func (c *fakeCatalog) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeCatalog) setPanic(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panicMsg = msg
}

// broken is called with mu held.
func (c *fakeCatalog) broken() error {
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	return c.err
}

func (c *fakeCatalog) GetProduct(ctx context.Context, id int64) (*shop.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.broken(); err != nil {
		return nil, err
	}
	if p, ok := c.products[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (c *fakeCatalog) GetCustomer(ctx context.Context, id int64) (*shop.Customer, error) {
	if c.hold != nil {
		c.entered <- struct{}{}
		<-c.hold
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.broken(); err != nil {
		return nil, err
	}
	if cu, ok := c.customers[id]; ok {
		return &cu, nil
	}
	return nil, nil
}

func (c *fakeCatalog) GetOrder(ctx context.Context, id int64) (*shop.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.broken(); err != nil {
		return nil, err
	}
	if o, ok := c.orders[id]; ok {
		return &o, nil
	}
	return nil, nil
}

func (c *fakeCatalog) ListIDs(ctx context.Context, entityType shop.EntityType, f shop.ListFilter) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []int64
	switch entityType {
	case shop.EntityProduct:
		for id := range c.products {
			ids = append(ids, id)
		}
	case shop.EntityCustomer:
		for id := range c.customers {
			ids = append(ids, id)
		}
	case shop.EntityOrder:
		for id, o := range c.orders {
			if len(f.Statuses) == 0 || contains(f.Statuses, o.Status) {
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var page []int64
	for _, id := range ids {
		if id > f.AfterID && (f.Limit == 0 || len(page) < f.Limit) {
			page = append(page, id)
		}
	}
	return page, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type tokens struct{}

func (tokens) EnsureFresh(ctx context.Context) (auth.TokenState, error) {
	return auth.TokenState{AccessToken: "access", TenantID: "tenant-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type connection struct {
	connected atomic.Bool
}

func (c *connection) IsConnected() bool {
	return c.connected.Load()
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Synced(ctx context.Context, e Event) {
	m.Called(e)
}

func (m *mockNotifier) Failed(ctx context.Context, e Event) {
	m.Called(e)
}

type harness struct {
	engine   *Engine
	server   *xerotest.Server
	client   *xero.Client
	ledger   store.Store
	catalog  *fakeCatalog
	conn     *connection
	taxes    *mapping.TaxTable
	settings config.MappingConfig
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		AutoSync:        config.AutoSyncConfig{Products: true, Customers: true, Orders: true},
		Workers:         2,
		QueueSize:       16,
		BatchSize:       4,
		BulkPageSize:    50,
		InvoiceStatuses: []string{"processing", "completed"},
	}
}

func newHarness(t *testing.T, cfg config.SyncConfig, notifier Notifier) *harness {
	t.Helper()

	srv := xerotest.NewServer(t)
	client := xero.NewClient(config.XeroConfig{
		APIBaseURL: srv.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryCap:   time.Second,
	}, tokens{}, xero.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))

	ledger, err := store.OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	conn := &connection{}
	conn.connected.Store(true)

	catalog := newFakeCatalog()
	settings := config.MappingConfig{
		SalesAccount:     "200",
		PurchaseAccount:  "300",
		InventoryAccount: "120",
		ShippingAccount:  "201",
		FeesAccount:      "200",
		InvoicePrefix:    "WC-",
		DueDays:          30,
		TaxRates:         []config.TaxRateConfig{{Class: "standard", Rate: 15}, {Class: "reduced-rate", Rate: 5}},
	}
	mapper := mapping.NewMapper(mapping.SettingsFromConfig(settings))
	taxes := mapping.NewTaxTable(mapping.LocalRatesFromConfig(settings.TaxRates))
	taxes.Register(mapper)

	return &harness{
		engine:   NewEngine(cfg, catalog, client, conn, ledger, mapper, notifier),
		server:   srv,
		client:   client,
		ledger:   ledger,
		catalog:  catalog,
		conn:     conn,
		taxes:    taxes,
		settings: settings,
	}
}

func (h *harness) reference() *ReferenceData {
	return NewReferenceData(h.settings, h.client, h.conn, h.ledger, h.taxes)
}

func (h *harness) link(t *testing.T, entityType shop.EntityType, id int64) *store.SyncLink {
	t.Helper()
	link, err := h.ledger.GetLink(context.Background(), string(entityType), id)
	require.NoError(t, err)
	return link
}

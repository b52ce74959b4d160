package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/store"
)

func customer42() shop.Customer {
	return shop.Customer{ID: 42, Email: "ann@example.com", FirstName: "Ann", LastName: "Lee"}
}

func TestSyncCustomerCreatesThenUpdates(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	ctx := context.Background()

	first := h.engine.Sync(ctx, shop.EntityCustomer, 42)
	require.NoError(t, first.Err)
	assert.Equal(t, OutcomeSynced, first.Outcome)
	assert.Equal(t, ActionCreated, first.Action)
	assert.Equal(t, "c-1", first.RemoteID)

	link := h.link(t, shop.EntityCustomer, 42)
	require.NotNil(t, link)
	assert.Equal(t, "c-1", link.RemoteID)
	assert.Equal(t, "ann@example.com", link.NaturalKey)
	assert.NotEmpty(t, link.PayloadHash)
	assert.True(t, link.LastSyncedAt.Valid)
	assert.False(t, link.LastError.Valid)

	second := h.engine.Sync(ctx, shop.EntityCustomer, 42)
	require.NoError(t, second.Err)
	assert.Equal(t, OutcomeSynced, second.Outcome)
	assert.Equal(t, ActionUpdated, second.Action)
	assert.Equal(t, "c-1", second.RemoteID)

	assert.Equal(t, 1, h.server.Count("Contacts"))
	assert.Equal(t, 1, h.server.CallCount("PUT", "Contacts"))
	assert.Equal(t, 1, h.server.CallCount("POST", "Contacts/c-1"))
	// the second sync uses the link and does not search again
	assert.Equal(t, 1, h.server.CallCount("GET", "Contacts"))
}

func TestSyncAdoptsRemoteMatch(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	id := h.server.Seed("Contacts", map[string]any{"Name": " Ann Lee ", "EmailAddress": "ann@example.com"})

	res := h.engine.Sync(context.Background(), shop.EntityCustomer, 42)
	require.NoError(t, res.Err)
	assert.Equal(t, ActionUpdated, res.Action)
	assert.Equal(t, id, res.RemoteID)
	assert.Equal(t, 0, h.server.CallCount("PUT", "Contacts"))
	assert.Equal(t, 1, h.server.Count("Contacts"))
}

func TestSyncIgnoresRemoteMatchWithDifferentName(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addProduct(shop.Product{ID: 7, SKU: "SKU-1", Name: "Widget", Price: 10})
	seeded := h.server.Seed("Items", map[string]any{"Code": "SKU-1", "Name": "Something else"})

	res := h.engine.Sync(context.Background(), shop.EntityProduct, 7)
	require.NoError(t, res.Err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.NotEqual(t, seeded, res.RemoteID)
	assert.Equal(t, 2, h.server.Count("Items"))
	assert.Equal(t, "Something else", h.server.Get("Items", seeded)["Name"])
}

func TestSyncRecordsFailureOnStubLink(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	h.server.Reject("Contacts", "Email address must be valid.")

	res := h.engine.Sync(context.Background(), shop.EntityCustomer, 42)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Error(t, res.Err)

	link := h.link(t, shop.EntityCustomer, 42)
	require.NotNil(t, link)
	assert.Empty(t, link.RemoteID)
	assert.True(t, link.LastError.Valid)
	assert.Contains(t, link.LastError.String, "Email address must be valid.")
}

func TestSyncFailureKeepsRemoteID(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	ctx := context.Background()

	require.Equal(t, OutcomeSynced, h.engine.Sync(ctx, shop.EntityCustomer, 42).Outcome)

	h.server.Reject("Contacts", "Contact name already assigned.")
	res := h.engine.Sync(ctx, shop.EntityCustomer, 42)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "c-1", res.RemoteID)

	link := h.link(t, shop.EntityCustomer, 42)
	assert.Equal(t, "c-1", link.RemoteID)
	assert.Contains(t, link.LastError.String, "Contact name already assigned.")

	h.server.Reject("Contacts", "")
	require.Equal(t, OutcomeSynced, h.engine.Sync(ctx, shop.EntityCustomer, 42).Outcome)
	assert.False(t, h.link(t, shop.EntityCustomer, 42).LastError.Valid)
}

func TestSyncLoadFailureKeepsLink(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	ctx := context.Background()
	require.Equal(t, "c-1", h.engine.Sync(ctx, shop.EntityCustomer, 42).RemoteID)

	h.catalog.setErr(errors.New("shop database unavailable"))
	res := h.engine.Sync(ctx, shop.EntityCustomer, 42)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "c-1", res.RemoteID)

	link := h.link(t, shop.EntityCustomer, 42)
	require.NotNil(t, link)
	assert.Equal(t, "c-1", link.RemoteID)
	assert.Equal(t, "ann@example.com", link.NaturalKey)
	assert.NotEmpty(t, link.PayloadHash)
	assert.True(t, link.LastSyncedAt.Valid)
	assert.Equal(t, "shop database unavailable", link.LastError.String)

	h.catalog.setErr(nil)
	renamed := customer42()
	renamed.FirstName = "Annie"
	h.catalog.addCustomer(renamed)

	again := h.engine.Sync(ctx, shop.EntityCustomer, 42)
	require.NoError(t, again.Err)
	assert.Equal(t, ActionUpdated, again.Action)
	assert.Equal(t, "c-1", again.RemoteID)
	assert.Equal(t, 1, h.server.Count("Contacts"))
	assert.Equal(t, "Annie", h.server.Get("Contacts", "c-1")["FirstName"])
}

func TestSyncPanicKeepsLink(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addProduct(shop.Product{ID: 7, SKU: "SKU-1", Name: "Widget", Price: 10})
	ctx := context.Background()
	require.Equal(t, "i-1", h.engine.Sync(ctx, shop.EntityProduct, 7).RemoteID)

	h.catalog.setPanic("corrupt row")
	res := h.engine.Sync(ctx, shop.EntityProduct, 7)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "corrupt row")
	assert.Equal(t, 0, h.engine.guard.Len())

	link := h.link(t, shop.EntityProduct, 7)
	assert.Equal(t, "i-1", link.RemoteID)
	assert.Equal(t, "SKU-1", link.NaturalKey)
	assert.Contains(t, link.LastError.String, "corrupt row")
}

func TestSyncUnknownEntityTypeNotifiesFailure(t *testing.T) {
	notifier := &mockNotifier{}
	notifier.On("Failed", mock.MatchedBy(func(e Event) bool {
		return e.EntityType == "refund" && e.Error != ""
	})).Once()
	h := newHarness(t, testSyncConfig(), notifier)

	res := h.engine.Sync(context.Background(), shop.EntityType("refund"), 1)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Error(t, res.Err)
	assert.Nil(t, h.link(t, shop.EntityType("refund"), 1))
	notifier.AssertExpectations(t)
}

func TestSyncSkipsWhenNotConnected(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	h.conn.connected.Store(false)

	res := h.engine.Sync(context.Background(), shop.EntityCustomer, 42)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "not connected", res.Reason)
	assert.Empty(t, h.server.Calls())
	assert.Nil(t, h.link(t, shop.EntityCustomer, 42))
}

func TestSyncSkipsMissingEntity(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)

	res := h.engine.Sync(context.Background(), shop.EntityProduct, 404)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Nil(t, h.link(t, shop.EntityProduct, 404))
}

func TestSyncIsNotReentrant(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	h.catalog.hold = make(chan struct{})
	h.catalog.entered = make(chan struct{}, 1)

	done := make(chan Result)
	go func() {
		done <- h.engine.Sync(context.Background(), shop.EntityCustomer, 42)
	}()
	<-h.catalog.entered

	second := h.engine.Sync(context.Background(), shop.EntityCustomer, 42)
	assert.Equal(t, OutcomeSkipped, second.Outcome)
	assert.Equal(t, "sync already in flight", second.Reason)

	close(h.catalog.hold)
	first := <-done
	assert.Equal(t, OutcomeSynced, first.Outcome)
	assert.Equal(t, 1, h.server.Count("Contacts"))
	assert.Equal(t, 0, h.engine.guard.Len())
}

func TestSyncOrderLinksCustomerFirst(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	h.catalog.addOrder(shop.Order{
		ID:         1001,
		Number:     "1001",
		CustomerID: 42,
		Status:     "processing",
		Currency:   "NZD",
		Items:      []shop.OrderItem{{ProductID: 7, SKU: "SKU-1", Name: "Widget", Quantity: 2, Total: 20, TotalTax: 3}},
		CreatedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	})

	res := h.engine.Sync(context.Background(), shop.EntityOrder, 1001)
	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeSynced, res.Outcome)
	assert.Equal(t, "inv-1", res.RemoteID)

	invoice := h.server.Get("Invoices", "inv-1")
	require.NotNil(t, invoice)
	assert.Equal(t, "WC-1001", invoice["Reference"])
	contact, ok := invoice["Contact"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "c-1", contact["ContactID"])

	assert.Equal(t, "c-1", h.link(t, shop.EntityCustomer, 42).RemoteID)
	assert.Equal(t, "WC-1001", h.link(t, shop.EntityOrder, 1001).NaturalKey)
}

func TestSyncOrderWarnsWhenCustomerSyncInFlight(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })

	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	h.catalog.addOrder(shop.Order{
		ID:         1001,
		CustomerID: 42,
		Status:     "processing",
		Billing:    shop.Billing{FirstName: "Ann", LastName: "Lee", Email: "ann@example.com"},
		Items:      []shop.OrderItem{{Name: "Widget", Quantity: 1, Total: 10}},
		CreatedAt:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	h.catalog.hold = make(chan struct{})
	h.catalog.entered = make(chan struct{}, 1)

	done := make(chan Result)
	go func() {
		done <- h.engine.Sync(context.Background(), shop.EntityCustomer, 42)
	}()
	<-h.catalog.entered

	res := h.engine.Sync(context.Background(), shop.EntityOrder, 1001)
	require.NoError(t, res.Err)
	contact, ok := h.server.Get("Invoices", res.RemoteID)["Contact"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, contact["ContactID"])
	assert.Equal(t, "Ann Lee", contact["Name"])

	entries := logs.FilterMessage("Customer sync in flight, invoicing with billing contact").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "sync already in flight", entries[0].ContextMap()["reason"])
	assert.Equal(t, int64(42), entries[0].ContextMap()["customer_id"])

	close(h.catalog.hold)
	assert.Equal(t, OutcomeSynced, (<-done).Outcome)
}

func TestSyncOrderOutsideInvoicedStatuses(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addOrder(shop.Order{ID: 5, Status: "pending", CreatedAt: time.Now()})

	res := h.engine.Sync(context.Background(), shop.EntityOrder, 5)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, h.server.Calls())
}

func TestSyncRecreatesMissingLinkedResource(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addProduct(shop.Product{ID: 7, SKU: "SKU-1", Name: "Widget", Price: 10})
	ctx := context.Background()

	require.Equal(t, "i-1", h.engine.Sync(ctx, shop.EntityProduct, 7).RemoteID)
	h.server.Delete("Items", "i-1")

	res := h.engine.Sync(ctx, shop.EntityProduct, 7)
	require.NoError(t, res.Err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, "i-2", res.RemoteID)
	assert.Equal(t, "i-2", h.link(t, shop.EntityProduct, 7).RemoteID)
}

func TestSyncNotifies(t *testing.T) {
	notifier := &mockNotifier{}
	notifier.On("Synced", mock.MatchedBy(func(e Event) bool {
		return e.RemoteID == "c-1" && e.Action == ActionCreated
	})).Once()
	notifier.On("Failed", mock.MatchedBy(func(e Event) bool {
		return e.LocalID == 43 && e.Error != ""
	})).Once()

	h := newHarness(t, testSyncConfig(), notifier)
	h.catalog.addCustomer(customer42())
	h.catalog.addCustomer(shop.Customer{ID: 43, Email: "bob@example.com", FirstName: "Bob"})
	ctx := context.Background()

	h.engine.Sync(ctx, shop.EntityCustomer, 42)
	h.server.Reject("Contacts", "Rejected.")
	h.engine.Sync(ctx, shop.EntityCustomer, 43)

	notifier.AssertExpectations(t)
}

func TestOnEntityUpdatedRespectsAutoSync(t *testing.T) {
	cfg := testSyncConfig()
	cfg.AutoSync.Products = false
	h := newHarness(t, cfg, nil)
	h.catalog.addProduct(shop.Product{ID: 7, SKU: "SKU-1", Name: "Widget"})
	h.catalog.addCustomer(customer42())
	ctx := context.Background()

	res := h.engine.OnEntityUpdated(ctx, shop.EntityProduct, 7)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, "auto-sync disabled", res.Reason)

	res = h.engine.OnEntityCreated(ctx, shop.EntityCustomer, 42)
	assert.Equal(t, OutcomeSynced, res.Outcome)
}

func TestSyncAllSkipsLinkedUnlessForced(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	for id := int64(1); id <= 3; id++ {
		h.catalog.addProduct(shop.Product{ID: id, Name: "Product", Price: 1})
	}
	ctx := context.Background()
	require.Equal(t, OutcomeSynced, h.engine.Sync(ctx, shop.EntityProduct, 2).Outcome)

	summary, err := h.engine.SyncAll(ctx, shop.EntityProduct, BulkOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Considered)
	assert.Equal(t, 2, summary.Synced)
	assert.Equal(t, TriggerManual, summary.Trigger)
	assert.Equal(t, 3, h.server.Count("Items"))

	forced, err := h.engine.SyncAll(ctx, shop.EntityProduct, BulkOptions{Force: true, Trigger: TriggerScheduled})
	require.NoError(t, err)
	assert.Equal(t, 3, forced.Considered)
	assert.Equal(t, 3, forced.Synced)
	assert.Equal(t, 3, h.server.Count("Items"))

	runs, err := h.ledger.GetSyncRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, store.RunStatusCompleted, run.Status)
		assert.True(t, run.CompletedAt.Valid)
	}
}

func TestSyncAllPagesPastLinkedEntities(t *testing.T) {
	cfg := testSyncConfig()
	cfg.BulkPageSize = 2
	h := newHarness(t, cfg, nil)
	for id := int64(1); id <= 5; id++ {
		h.catalog.addProduct(shop.Product{ID: id, Name: "Product", Price: 1})
	}
	ctx := context.Background()
	h.engine.Sync(ctx, shop.EntityProduct, 1)
	h.engine.Sync(ctx, shop.EntityProduct, 2)

	summary, err := h.engine.SyncAll(ctx, shop.EntityProduct, BulkOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Considered)
	assert.Equal(t, 2, summary.Synced)
	assert.NotNil(t, h.link(t, shop.EntityProduct, 3))
	assert.NotNil(t, h.link(t, shop.EntityProduct, 4))
	assert.Nil(t, h.link(t, shop.EntityProduct, 5))
}

func TestSyncAllCountsFailures(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	h.catalog.addCustomer(shop.Customer{ID: 43, Email: "bob@example.com", FirstName: "Bob"})
	h.server.Reject("Contacts", "Rejected.")

	summary, err := h.engine.SyncAll(context.Background(), shop.EntityCustomer, BulkOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Synced)
}

func TestSyncAllRetriesLinkedEntitiesThatFailed(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	h.catalog.addCustomer(shop.Customer{ID: 43, Email: "bob@example.com", FirstName: "Bob"})
	ctx := context.Background()
	require.Equal(t, OutcomeSynced, h.engine.Sync(ctx, shop.EntityCustomer, 42).Outcome)
	require.Equal(t, "c-2", h.engine.Sync(ctx, shop.EntityCustomer, 43).RemoteID)

	h.server.Reject("Contacts", "Rejected.")
	require.Equal(t, OutcomeFailed, h.engine.Sync(ctx, shop.EntityCustomer, 43).Outcome)
	h.server.Reject("Contacts", "")

	summary, err := h.engine.SyncAll(ctx, shop.EntityCustomer, BulkOptions{Trigger: TriggerScheduled})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Considered)
	assert.Equal(t, 1, summary.Synced)

	link := h.link(t, shop.EntityCustomer, 43)
	assert.Equal(t, "c-2", link.RemoteID)
	assert.False(t, link.LastError.Valid)
	assert.Equal(t, 2, h.server.Count("Contacts"))
}

func TestSyncAllRequiresConnection(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.conn.connected.Store(false)

	_, err := h.engine.SyncAll(context.Background(), shop.EntityProduct, BulkOptions{})
	assert.True(t, errors.Is(err, auth.ErrNotConnected))
}

func TestHandleRemoteDeleteResetsLink(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addCustomer(customer42())
	ctx := context.Background()
	require.Equal(t, "c-1", h.engine.Sync(ctx, shop.EntityCustomer, 42).RemoteID)

	h.server.Delete("Contacts", "c-1")
	err := h.engine.HandleRemoteChange(ctx, RemoteChange{ResourceType: "CONTACT", ResourceID: "c-1", EventType: "DELETE"})
	require.NoError(t, err)

	link := h.link(t, shop.EntityCustomer, 42)
	assert.Empty(t, link.RemoteID)
	assert.Equal(t, "remote resource deleted", link.LastError.String)

	res := h.engine.Sync(ctx, shop.EntityCustomer, 42)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, "c-2", res.RemoteID)
}

func TestHandleRemoteChangeIgnoresUpdatesAndUnknownIDs(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	ctx := context.Background()

	assert.NoError(t, h.engine.HandleRemoteChange(ctx, RemoteChange{ResourceType: "INVOICE", ResourceID: "inv-9", EventType: "UPDATE"}))
	assert.NoError(t, h.engine.HandleRemoteChange(ctx, RemoteChange{ResourceType: "INVOICE", ResourceID: "inv-9", EventType: "DELETE"}))
	assert.Error(t, h.engine.HandleRemoteChange(ctx, RemoteChange{ResourceType: "BANKTRANSACTION", ResourceID: "b-1", EventType: "DELETE"}))
}

func TestOnDisconnectResetsLinksWhenConfigured(t *testing.T) {
	cfg := testSyncConfig()
	cfg.ResetLinksOnDisconnect = true
	h := newHarness(t, cfg, nil)
	h.catalog.addCustomer(customer42())
	ctx := context.Background()
	h.engine.Sync(ctx, shop.EntityCustomer, 42)

	require.NoError(t, h.engine.OnDisconnect(ctx))
	assert.Nil(t, h.link(t, shop.EntityCustomer, 42))
}

func TestVerifyLink(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.catalog.addProduct(shop.Product{ID: 7, SKU: "SKU-1", Name: "Widget", Price: 10})
	h.catalog.addCustomer(customer42())
	ctx := context.Background()
	require.Equal(t, "i-1", h.engine.Sync(ctx, shop.EntityProduct, 7).RemoteID)
	require.Equal(t, "c-1", h.engine.Sync(ctx, shop.EntityCustomer, 42).RemoteID)

	check, err := h.engine.VerifyLink(ctx, shop.EntityProduct, 7)
	require.NoError(t, err)
	assert.True(t, check.Exists)
	assert.False(t, check.Reset)
	assert.Equal(t, 1, h.server.CallCount("GET", "Items/i-1"))

	h.server.Delete("Contacts", "c-1")
	check, err = h.engine.VerifyLink(ctx, shop.EntityCustomer, 42)
	require.NoError(t, err)
	assert.False(t, check.Exists)
	assert.True(t, check.Reset)
	assert.Equal(t, "c-1", check.RemoteID)

	link := h.link(t, shop.EntityCustomer, 42)
	assert.Empty(t, link.RemoteID)
	assert.Equal(t, "remote resource deleted", link.LastError.String)
}

func TestVerifyLinkRequiresLinkAndConnection(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	ctx := context.Background()

	_, err := h.engine.VerifyLink(ctx, shop.EntityOrder, 1001)
	assert.True(t, errors.Is(err, ErrNotLinked))

	h.conn.connected.Store(false)
	_, err = h.engine.VerifyLink(ctx, shop.EntityOrder, 1001)
	assert.True(t, errors.Is(err, auth.ErrNotConnected))
	assert.Empty(t, h.server.Calls())
}

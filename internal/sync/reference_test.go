package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/mapping"
	"xero-sync-service/internal/shop"
)

func TestRefreshTaxRatesAppliesToPayloads(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.server.TaxRates = []map[string]any{
		{"Name": "GST on Income", "TaxType": "TAX015", "Status": "ACTIVE", "EffectiveRate": 15.0},
		{"Name": "Reduced", "TaxType": "TAX005", "Status": "ACTIVE", "EffectiveRate": 5.0},
	}
	ctx := context.Background()

	mappings, err := h.reference().RefreshTaxRates(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"standard": "TAX015", "reduced-rate": "TAX005"}, mappings)

	raw, err := h.ledger.GetValue(ctx, taxMappingsKey)
	require.NoError(t, err)
	var saved map[string]string
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, mappings, saved)

	h.catalog.addProduct(shop.Product{ID: 7, SKU: "SKU-1", Name: "Tea", Price: 4, TaxStatus: "taxable", TaxClass: "reduced-rate"})
	res := h.engine.Sync(ctx, shop.EntityProduct, 7)
	require.NoError(t, res.Err)
	sales, ok := h.server.Get("Items", res.RemoteID)["SalesDetails"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "TAX005", sales["TaxType"])
}

func TestReferenceLoadRestoresSavedMappings(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	ctx := context.Background()
	_, err := h.reference().RefreshTaxRates(ctx)
	require.NoError(t, err)

	h.settings.TaxMappings = map[string]string{"zero-rate": "EXEMPTOUTPUT"}
	fresh := mapping.NewTaxTable(mapping.LocalRatesFromConfig(h.settings.TaxRates))
	ref := NewReferenceData(h.settings, h.client, h.conn, h.ledger, fresh)

	require.NoError(t, ref.Load(ctx))
	assert.Equal(t, map[string]string{"standard": "OUTPUT", "zero-rate": "EXEMPTOUTPUT"}, ref.TaxMappings())
}

func TestReferenceRequiresConnection(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.conn.connected.Store(false)
	ref := h.reference()

	_, err := ref.RefreshTaxRates(context.Background())
	assert.True(t, errors.Is(err, auth.ErrNotConnected))
	_, err = ref.CheckAccounts(context.Background())
	assert.True(t, errors.Is(err, auth.ErrNotConnected))
	assert.Empty(t, h.server.Calls())
}

func TestCheckAccounts(t *testing.T) {
	h := newHarness(t, testSyncConfig(), nil)
	h.server.Accounts = append(h.server.Accounts,
		map[string]any{"AccountID": "a-120", "Code": "120", "Name": "Inventory", "Type": "INVENTORY", "Status": "ARCHIVED"})

	check, err := h.reference().CheckAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"200", "300", "120", "201"}, check.Checked)
	assert.Equal(t, []string{"201"}, check.Missing)
	assert.Equal(t, []string{"120"}, check.Inactive)
	assert.False(t, check.OK())
}

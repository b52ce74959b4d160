package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xero-sync-service/internal/config"
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/xero"
)

var remoteRates = []xero.TaxRate{
	{Name: "Old GST", TaxType: "INPUT", Status: "DELETED", EffectiveRate: 15},
	{Name: "GST on Income", TaxType: "OUTPUT2", Status: "ACTIVE", EffectiveRate: 15},
	{Name: "Reduced", TaxType: "TAX001", Status: "ACTIVE", EffectiveRate: 5},
	{Name: "Zero Rated", TaxType: "ZERORATEDOUTPUT", Status: "ACTIVE", EffectiveRate: 0},
}

func TestLocalRatesFromConfig(t *testing.T) {
	rates := LocalRatesFromConfig([]config.TaxRateConfig{{Class: " Reduced-Rate ", Rate: 5}, {Class: "", Rate: 15}})
	assert.Equal(t, []LocalRate{{Class: "reduced-rate", Rate: 5}, {Class: StandardTaxClass, Rate: 15}}, rates)
}

func TestMatchTaxRates(t *testing.T) {
	local := []LocalRate{
		{Class: "standard", Rate: 15},
		{Class: "reduced-rate", Rate: 5},
		{Class: "luxury", Rate: 25},
	}

	got := MatchTaxRates(local, remoteRates, nil, nil)
	assert.Equal(t, map[string]string{"standard": "OUTPUT2", "reduced-rate": "TAX001"}, got)
}

func TestMatchTaxRatesKeepsActivePreviousAndPinned(t *testing.T) {
	local := []LocalRate{{Class: "standard", Rate: 15}, {Class: "reduced-rate", Rate: 5}}
	previous := map[string]string{"standard": "TAX001", "reduced-rate": "INPUT"}
	pinned := map[string]string{"Zero-Rate": "EXEMPTOUTPUT", "blank": ""}

	got := MatchTaxRates(local, remoteRates, previous, pinned)
	assert.Equal(t, map[string]string{
		"standard":     "TAX001",
		"reduced-rate": "TAX001",
		"zero-rate":    "EXEMPTOUTPUT",
	}, got)
}

func TestTaxTableForRate(t *testing.T) {
	table := NewTaxTable([]LocalRate{{Class: "standard", Rate: 15}, {Class: "zero-rate", Rate: 0}})
	table.Set(map[string]string{"standard": "OUTPUT2"})

	tt, ok := table.ForRate(14.99)
	require.True(t, ok)
	assert.Equal(t, "OUTPUT2", tt)

	_, ok = table.ForRate(0)
	assert.False(t, ok, "zero-rate has no mapping")
	_, ok = table.ForRate(12.5)
	assert.False(t, ok)
}

func TestTaxTableTransforms(t *testing.T) {
	table := NewTaxTable([]LocalRate{{Class: "standard", Rate: 15}, {Class: "reduced-rate", Rate: 5}})
	table.Set(map[string]string{"": "OUTPUT2", "reduced-rate": "TAX001"})

	m := NewMapper(testSettings)
	table.Register(m)

	item := m.Item(shop.Product{ID: 1, Name: "Tea", Price: 4, TaxStatus: "taxable", TaxClass: "reduced-rate"})
	assert.Equal(t, "TAX001", item.SalesDetails.TaxType)
	assert.Equal(t, "TAX001", item.PurchaseDetails.TaxType)

	exempt := m.Item(shop.Product{ID: 2, Name: "Gift card", TaxStatus: "none"})
	assert.Equal(t, xero.TaxTypeNone, exempt.SalesDetails.TaxType)

	inv := m.Invoice(shop.Order{
		ID:            9,
		Items:         []shop.OrderItem{{Name: "Tea", Quantity: 2, Total: 20, TotalTax: 1}},
		ShippingTotal: 6.67,
		ShippingTax:   1,
		CreatedAt:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}, "c-1")
	require.Len(t, inv.LineItems, 2)
	assert.Equal(t, "TAX001", inv.LineItems[0].TaxType)
	assert.Equal(t, "OUTPUT2", inv.LineItems[1].TaxType)
}

func TestTaxTableWithoutMappingsLeavesPayloads(t *testing.T) {
	plain := NewMapper(testSettings)
	withTable := NewMapper(testSettings)
	NewTaxTable([]LocalRate{{Class: "standard", Rate: 15}}).Register(withTable)

	p := shop.Product{ID: 3, Name: "Mug", Price: 9, TaxStatus: "taxable"}
	assert.Equal(t, plain.Item(p), withTable.Item(p))
}

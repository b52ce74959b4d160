package mapping

import (
	"math"
	"sort"
	"strings"
	"sync"

	"xero-sync-service/internal/config"
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/xero"
)

// StandardTaxClass names the shop's default tax class, stored as "".
const StandardTaxClass = "standard"

const (
	// rateTolerance bounds the difference, in percentage points, between a
	// shop rate and a remote rate that match.
	rateTolerance = 0.01
	// lineRateTolerance is wider because line tax amounts are rounded to
	// cents before the rate is derived from them.
	lineRateTolerance = 0.1
)

// LocalRate is a shop tax class and its percentage rate.
type LocalRate struct {
	Class string
	Rate  float64
}

func LocalRatesFromConfig(rates []config.TaxRateConfig) []LocalRate {
	out := make([]LocalRate, 0, len(rates))
	for _, r := range rates {
		out = append(out, LocalRate{Class: NormalizeTaxClass(r.Class), Rate: r.Rate})
	}
	return out
}

// NormalizeTaxClass lowercases class and names the empty class.
func NormalizeTaxClass(class string) string {
	class = strings.ToLower(strings.TrimSpace(class))
	if class == "" {
		return StandardTaxClass
	}
	return class
}

// MatchTaxRates maps each local class to a remote tax type. Pinned entries
// always win. A previous mapping is kept while its tax type is still active
// remotely; other classes take the first active remote rate whose
// EffectiveRate equals the class rate.
func MatchTaxRates(local []LocalRate, remote []xero.TaxRate, previous, pinned map[string]string) map[string]string {
	active := make(map[string]bool, len(remote))
	for _, r := range remote {
		if strings.EqualFold(r.Status, "ACTIVE") {
			active[r.TaxType] = true
		}
	}

	out := make(map[string]string, len(local)+len(pinned))
	for _, l := range local {
		if tt, ok := previous[l.Class]; ok && active[tt] {
			out[l.Class] = tt
			continue
		}
		for _, r := range remote {
			if active[r.TaxType] && math.Abs(r.EffectiveRate-l.Rate) < rateTolerance {
				out[l.Class] = r.TaxType
				break
			}
		}
	}
	for class, tt := range pinned {
		if tt != "" {
			out[NormalizeTaxClass(class)] = tt
		}
	}
	return out
}

// TaxTable holds the current class to tax type mappings. It is read by the
// mapper transforms while a refresh may replace it.
type TaxTable struct {
	mu      sync.RWMutex
	rates   []LocalRate
	byClass map[string]string
}

func NewTaxTable(rates []LocalRate) *TaxTable {
	sorted := append([]LocalRate(nil), rates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rate < sorted[j].Rate })
	return &TaxTable{rates: sorted, byClass: map[string]string{}}
}

func (t *TaxTable) Rates() []LocalRate {
	return append([]LocalRate(nil), t.rates...)
}

func (t *TaxTable) Set(mappings map[string]string) {
	next := make(map[string]string, len(mappings))
	for class, tt := range mappings {
		next[NormalizeTaxClass(class)] = tt
	}
	t.mu.Lock()
	t.byClass = next
	t.mu.Unlock()
}

// Mappings returns a copy of the current mappings.
func (t *TaxTable) Mappings() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.byClass))
	for class, tt := range t.byClass {
		out[class] = tt
	}
	return out
}

func (t *TaxTable) ForClass(class string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tt, ok := t.byClass[NormalizeTaxClass(class)]
	return tt, ok
}

// ForRate finds the local class whose rate is closest to rate and returns its
// mapped tax type.
func (t *TaxTable) ForRate(rate float64) (string, bool) {
	best, found := LocalRate{}, false
	for _, l := range t.rates {
		d := math.Abs(l.Rate - rate)
		if d < lineRateTolerance && (!found || d < math.Abs(best.Rate-rate)) {
			best, found = l, true
		}
	}
	if !found {
		return "", false
	}
	return t.ForClass(best.Class)
}

// Register adds the item and invoice transforms that apply the table.
func (t *TaxTable) Register(m *Mapper) {
	m.AddItemTransform(t.applyToItem)
	m.AddInvoiceTransform(t.applyToInvoice)
}

func (t *TaxTable) applyToItem(p shop.Product, item xero.Item) xero.Item {
	if p.TaxStatus != "taxable" {
		return item
	}
	tt, ok := t.ForClass(p.TaxClass)
	if !ok {
		return item
	}
	if item.SalesDetails != nil {
		sales := *item.SalesDetails
		sales.TaxType = tt
		item.SalesDetails = &sales
	}
	if item.PurchaseDetails != nil {
		purchase := *item.PurchaseDetails
		purchase.TaxType = tt
		item.PurchaseDetails = &purchase
	}
	return item
}

// applyToInvoice derives each line's rate from its tax and net amounts.
func (t *TaxTable) applyToInvoice(_ shop.Order, inv xero.Invoice) xero.Invoice {
	lines := make([]xero.LineItem, len(inv.LineItems))
	for i, line := range inv.LineItems {
		if net := line.Quantity * line.UnitAmount; net != 0 {
			if tt, ok := t.ForRate(line.TaxAmount / net * 100); ok {
				line.TaxType = tt
			}
		}
		lines[i] = line
	}
	inv.LineItems = lines
	return inv
}

package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"xero-sync-service/internal/auth"
	"xero-sync-service/internal/config"
	"xero-sync-service/internal/logger"
	"xero-sync-service/internal/mapping"
	"xero-sync-service/internal/store"
	"xero-sync-service/internal/xero"
)

const taxMappingsKey = "tax_mappings"

// SettingsSource reads the organisation settings the mapping depends on.
type SettingsSource interface {
	ListAccounts(ctx context.Context) ([]xero.Account, error)
	ListTaxRates(ctx context.Context) ([]xero.TaxRate, error)
}

// AccountCheck lists configured account codes the organisation lacks or has
// archived.
type AccountCheck struct {
	Checked  []string `json:"checked"`
	Missing  []string `json:"missing"`
	Inactive []string `json:"inactive"`
}

func (c AccountCheck) OK() bool {
	return len(c.Missing) == 0 && len(c.Inactive) == 0
}

// ReferenceData keeps the tax table in step with the organisation's tax rates
// and checks the configured account codes.
type ReferenceData struct {
	source   SettingsSource
	conn     Connection
	ledger   store.Store
	taxes    *mapping.TaxTable
	pinned   map[string]string
	accounts []string
}

func NewReferenceData(cfg config.MappingConfig, source SettingsSource, conn Connection, ledger store.Store, taxes *mapping.TaxTable) *ReferenceData {
	return &ReferenceData{
		source:   source,
		conn:     conn,
		ledger:   ledger,
		taxes:    taxes,
		pinned:   cfg.TaxMappings,
		accounts: accountCodes(cfg),
	}
}

// accountCodes returns the distinct non-empty codes in a stable order.
func accountCodes(cfg config.MappingConfig) []string {
	seen := map[string]bool{}
	var codes []string
	for _, code := range []string{cfg.SalesAccount, cfg.PurchaseAccount, cfg.InventoryAccount, cfg.ShippingAccount, cfg.FeesAccount} {
		code = strings.TrimSpace(code)
		if code != "" && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	return codes
}

// Load restores the mappings of the last refresh, with pinned entries on top.
func (r *ReferenceData) Load(ctx context.Context) error {
	saved, err := r.saved(ctx)
	if err != nil {
		return err
	}
	for class, tt := range r.pinned {
		if tt != "" {
			saved[mapping.NormalizeTaxClass(class)] = tt
		}
	}
	r.taxes.Set(saved)
	return nil
}

func (r *ReferenceData) saved(ctx context.Context) (map[string]string, error) {
	raw, err := r.ledger.GetValue(ctx, taxMappingsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read tax mappings: %w", err)
	}
	saved := map[string]string{}
	if raw == nil {
		return saved, nil
	}
	if err := json.Unmarshal(raw, &saved); err != nil {
		return nil, fmt.Errorf("failed to decode tax mappings: %w", err)
	}
	return saved, nil
}

// TaxMappings returns the mappings in use.
func (r *ReferenceData) TaxMappings() map[string]string {
	return r.taxes.Mappings()
}

// RefreshTaxRates matches the shop tax classes against the organisation's
// tax rates, persists the result and swaps it into the table.
func (r *ReferenceData) RefreshTaxRates(ctx context.Context) (map[string]string, error) {
	if !r.conn.IsConnected() {
		return nil, auth.ErrNotConnected
	}
	remote, err := r.source.ListTaxRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tax rates: %w", err)
	}
	previous, err := r.saved(ctx)
	if err != nil {
		return nil, err
	}

	mappings := mapping.MatchTaxRates(r.taxes.Rates(), remote, previous, r.pinned)
	raw, err := json.Marshal(mappings)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.PutValue(ctx, taxMappingsKey, raw); err != nil {
		return nil, fmt.Errorf("failed to save tax mappings: %w", err)
	}
	r.taxes.Set(mappings)

	for _, l := range r.taxes.Rates() {
		if _, ok := mappings[l.Class]; !ok {
			logger.Log.Warn("No tax type matches shop tax class",
				zap.String("class", l.Class),
				zap.Float64("rate", l.Rate))
		}
	}
	logger.Log.Info("Tax rates refreshed", zap.Int("mappings", len(mappings)))
	return mappings, nil
}

// CheckAccounts verifies the configured account codes against the chart of
// accounts.
func (r *ReferenceData) CheckAccounts(ctx context.Context) (AccountCheck, error) {
	check := AccountCheck{Checked: r.accounts, Missing: []string{}, Inactive: []string{}}
	if !r.conn.IsConnected() {
		return check, auth.ErrNotConnected
	}
	accounts, err := r.source.ListAccounts(ctx)
	if err != nil {
		return check, fmt.Errorf("failed to list accounts: %w", err)
	}

	status := make(map[string]string, len(accounts))
	for _, a := range accounts {
		status[a.Code] = a.Status
	}
	for _, code := range r.accounts {
		st, ok := status[code]
		switch {
		case !ok:
			check.Missing = append(check.Missing, code)
		case !strings.EqualFold(st, "ACTIVE"):
			check.Inactive = append(check.Inactive, code)
		}
	}
	sort.Strings(check.Missing)
	sort.Strings(check.Inactive)

	if !check.OK() {
		logger.Log.Warn("Configured accounts not usable",
			zap.Strings("missing", check.Missing),
			zap.Strings("inactive", check.Inactive))
	}
	return check, nil
}

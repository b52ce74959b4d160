// Package mapping turns shop entities into Xero payloads. Every function is
// pure: the same input always yields the same payload.
package mapping

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"

	"xero-sync-service/internal/config"
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/xero"
)

// Settings are the account codes and invoice options applied by the mapper.
type Settings struct {
	SalesAccount     string
	PurchaseAccount  string
	InventoryAccount string
	ShippingAccount  string
	FeesAccount      string
	InvoicePrefix    string
	DueDays          int
}

func SettingsFromConfig(cfg config.MappingConfig) Settings {
	return Settings{
		SalesAccount:     cfg.SalesAccount,
		PurchaseAccount:  cfg.PurchaseAccount,
		InventoryAccount: cfg.InventoryAccount,
		ShippingAccount:  cfg.ShippingAccount,
		FeesAccount:      cfg.FeesAccount,
		InvoicePrefix:    cfg.InvoicePrefix,
		DueDays:          cfg.DueDays,
	}
}

const dateLayout = "2006-01-02"

// TaxType maps a tax status and class to the Xero tax type.
func TaxType(status, class string) string {
	if status != "taxable" {
		return xero.TaxTypeNone
	}
	switch class {
	case "reduced-rate":
		return xero.TaxTypeOutput2
	case "zero-rate":
		return xero.TaxTypeExemptOutput
	default:
		return xero.TaxTypeOutput
	}
}

func ProductToItem(p shop.Product, s Settings) xero.Item {
	tax := TaxType(p.TaxStatus, p.TaxClass)
	item := xero.Item{
		Code:                 p.Code(),
		Name:                 strings.TrimSpace(p.Name),
		Description:          StripHTML(p.Description),
		PurchaseDescription:  StripHTML(p.ShortDescription),
		IsTrackedAsInventory: p.ManageStock,
		SalesDetails: &xero.PriceDetails{
			UnitPrice:   round(p.Price, 4),
			AccountCode: s.SalesAccount,
			TaxType:     tax,
		},
		PurchaseDetails: &xero.PriceDetails{
			UnitPrice:   round(p.RegularPrice, 4),
			AccountCode: s.PurchaseAccount,
			TaxType:     tax,
		},
	}
	if p.ManageStock {
		qty := p.StockQuantity
		item.InventoryAssetAccountCode = s.InventoryAccount
		item.QuantityOnHand = &qty
	}
	return item
}

func CustomerToContact(c shop.Customer) xero.Contact {
	contact := xero.Contact{
		Name:         ContactName(c),
		FirstName:    strings.TrimSpace(c.FirstName),
		LastName:     strings.TrimSpace(c.LastName),
		EmailAddress: strings.TrimSpace(c.Email),
		IsCustomer:   true,
	}
	if phone := strings.TrimSpace(c.Phone); phone != "" {
		contact.Phones = []xero.Phone{{PhoneType: xero.PhoneTypeDefault, PhoneNumber: phone}}
	}
	if addr, ok := streetAddress(c.Address); ok {
		contact.Addresses = []xero.Address{addr}
	}
	return contact
}

// ContactName is first and last name, falling back to the display name, the
// login and finally the email address.
func ContactName(c shop.Customer) string {
	return firstNonEmpty(
		fullName(c.FirstName, c.LastName),
		c.DisplayName,
		c.Login,
		c.Email,
	)
}

// InvoiceReference is the natural key of an order's invoice.
func InvoiceReference(o shop.Order, s Settings) string {
	return s.InvoicePrefix + o.OrderNumber()
}

// OrderToInvoice builds a receivable invoice. The contact is referenced by id
// when contactID is set and inlined from the billing details otherwise.
func OrderToInvoice(o shop.Order, contactID string, s Settings) xero.Invoice {
	inv := xero.Invoice{
		Type:            xero.InvoiceTypeReceivable,
		Date:            o.CreatedAt.Format(dateLayout),
		DueDate:         o.CreatedAt.AddDate(0, 0, s.DueDays).Format(dateLayout),
		LineAmountTypes: xero.LineAmountTypesExclusive,
		Reference:       InvoiceReference(o, s),
		CurrencyCode:    o.Currency,
		Status:          xero.InvoiceStatusAuthorised,
		LineItems:       []xero.LineItem{},
	}

	if contactID != "" {
		inv.Contact = xero.Contact{ContactID: contactID}
	} else {
		inv.Contact = billingContact(o.Billing)
	}

	for _, it := range o.Items {
		qty, unit := it.Quantity, it.Total
		if qty != 0 {
			unit = it.Total / qty
		} else {
			qty = 1
		}
		line := xero.LineItem{
			Description: it.Name,
			Quantity:    qty,
			UnitAmount:  round(unit, 4),
			TaxAmount:   round(it.TotalTax, 2),
			AccountCode: s.SalesAccount,
		}
		if sku := strings.TrimSpace(it.SKU); sku != "" {
			line.ItemCode = sku
		}
		inv.LineItems = append(inv.LineItems, line)
	}

	if o.ShippingTotal != 0 {
		inv.LineItems = append(inv.LineItems, xero.LineItem{
			Description: "Shipping",
			Quantity:    1,
			UnitAmount:  round(o.ShippingTotal, 4),
			TaxAmount:   round(o.ShippingTax, 2),
			AccountCode: s.ShippingAccount,
		})
	}

	for _, fee := range o.Fees {
		inv.LineItems = append(inv.LineItems, xero.LineItem{
			Description: fee.Name,
			Quantity:    1,
			UnitAmount:  round(fee.Total, 4),
			TaxAmount:   round(fee.TotalTax, 2),
			AccountCode: s.FeesAccount,
		})
	}
	return inv
}

func billingContact(b shop.Billing) xero.Contact {
	contact := xero.Contact{
		Name:         firstNonEmpty(fullName(b.FirstName, b.LastName), b.Company, b.Email),
		FirstName:    strings.TrimSpace(b.FirstName),
		LastName:     strings.TrimSpace(b.LastName),
		EmailAddress: strings.TrimSpace(b.Email),
	}
	if phone := strings.TrimSpace(b.Phone); phone != "" {
		contact.Phones = []xero.Phone{{PhoneType: xero.PhoneTypeDefault, PhoneNumber: phone}}
	}
	if addr, ok := streetAddress(b.Address); ok {
		contact.Addresses = []xero.Address{addr}
	}
	return contact
}

func streetAddress(a shop.Address) (xero.Address, bool) {
	if strings.TrimSpace(a.Line1) == "" {
		return xero.Address{}, false
	}
	return xero.Address{
		AddressType:  xero.AddressTypeStreet,
		AddressLine1: strings.TrimSpace(a.Line1),
		AddressLine2: strings.TrimSpace(a.Line2),
		City:         strings.TrimSpace(a.City),
		Region:       strings.TrimSpace(a.State),
		PostalCode:   strings.TrimSpace(a.Postcode),
		Country:      strings.TrimSpace(a.Country),
	}, true
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// StripHTML removes markup and entities and collapses whitespace.
func StripHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

func fullName(first, last string) string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", strings.TrimSpace(first), strings.TrimSpace(last)))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

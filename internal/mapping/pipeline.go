package mapping

import (
	"xero-sync-service/internal/shop"
	"xero-sync-service/internal/xero"
)

// Transforms run in registration order after the core mapping. Each receives
// the source entity and the payload built so far and returns the payload to
// send. Transforms must be deterministic.
type (
	ItemTransform    func(p shop.Product, item xero.Item) xero.Item
	ContactTransform func(c shop.Customer, contact xero.Contact) xero.Contact
	InvoiceTransform func(o shop.Order, inv xero.Invoice) xero.Invoice
)

// Mapper applies the core mapping followed by registered transforms. Register
// transforms before the mapper is shared between goroutines.
type Mapper struct {
	settings Settings
	items    []ItemTransform
	contacts []ContactTransform
	invoices []InvoiceTransform
}

func NewMapper(s Settings) *Mapper {
	return &Mapper{settings: s}
}

func (m *Mapper) Settings() Settings {
	return m.settings
}

func (m *Mapper) AddItemTransform(fn ItemTransform) {
	m.items = append(m.items, fn)
}

func (m *Mapper) AddContactTransform(fn ContactTransform) {
	m.contacts = append(m.contacts, fn)
}

func (m *Mapper) AddInvoiceTransform(fn InvoiceTransform) {
	m.invoices = append(m.invoices, fn)
}

func (m *Mapper) Item(p shop.Product) xero.Item {
	item := ProductToItem(p, m.settings)
	for _, fn := range m.items {
		item = fn(p, item)
	}
	return item
}

func (m *Mapper) Contact(c shop.Customer) xero.Contact {
	contact := CustomerToContact(c)
	for _, fn := range m.contacts {
		contact = fn(c, contact)
	}
	return contact
}

func (m *Mapper) Invoice(o shop.Order, contactID string) xero.Invoice {
	inv := OrderToInvoice(o, contactID, m.settings)
	for _, fn := range m.invoices {
		inv = fn(o, inv)
	}
	return inv
}

func (m *Mapper) InvoiceReference(o shop.Order) string {
	return InvoiceReference(o, m.settings)
}

package xero

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// whereEquals builds a where filter matching field exactly.
func whereEquals(field, value string) string {
	escaped := strings.ReplaceAll(value, `"`, `\"`)
	return url.Values{"where": {fmt.Sprintf(`%s=="%s"`, field, escaped)}}.Encode()
}

func findPath(plural, field, value string) string {
	return "/" + plural + "?" + whereEquals(field, value)
}

// Items

// FindItemByCode returns nil when no item carries code.
func (c *Client) FindItemByCode(ctx context.Context, code string) (*Item, error) {
	var env itemsEnvelope
	if err := c.Do(ctx, http.MethodGet, findPath("Items", "Code", code), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Items) == 0 {
		return nil, nil
	}
	return &env.Items[0], nil
}

func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	var env itemsEnvelope
	if err := c.Do(ctx, http.MethodGet, "/Items/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Items) == 0 {
		return nil, fmt.Errorf("item %s missing from response", id)
	}
	return &env.Items[0], nil
}

func (c *Client) CreateItem(ctx context.Context, item Item) (*Item, error) {
	item.ItemID = ""
	var env itemsEnvelope
	if err := c.Do(ctx, http.MethodPut, "/Items", itemsEnvelope{Items: []Item{item}}, &env); err != nil {
		return nil, err
	}
	return firstItem(env)
}

func (c *Client) UpdateItem(ctx context.Context, id string, item Item) (*Item, error) {
	item.ItemID = id
	var env itemsEnvelope
	if err := c.Do(ctx, http.MethodPost, "/Items/"+url.PathEscape(id), itemsEnvelope{Items: []Item{item}}, &env); err != nil {
		return nil, err
	}
	return firstItem(env)
}

func firstItem(env itemsEnvelope) (*Item, error) {
	if len(env.Items) == 0 || env.Items[0].ItemID == "" {
		return nil, fmt.Errorf("xero returned no item")
	}
	return &env.Items[0], nil
}

// Contacts

func (c *Client) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	var env contactsEnvelope
	if err := c.Do(ctx, http.MethodGet, findPath("Contacts", "EmailAddress", email), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Contacts) == 0 {
		return nil, nil
	}
	return &env.Contacts[0], nil
}

func (c *Client) GetContact(ctx context.Context, id string) (*Contact, error) {
	var env contactsEnvelope
	if err := c.Do(ctx, http.MethodGet, "/Contacts/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Contacts) == 0 {
		return nil, fmt.Errorf("contact %s missing from response", id)
	}
	return &env.Contacts[0], nil
}

func (c *Client) CreateContact(ctx context.Context, contact Contact) (*Contact, error) {
	contact.ContactID = ""
	var env contactsEnvelope
	if err := c.Do(ctx, http.MethodPut, "/Contacts", contactsEnvelope{Contacts: []Contact{contact}}, &env); err != nil {
		return nil, err
	}
	return firstContact(env)
}

func (c *Client) UpdateContact(ctx context.Context, id string, contact Contact) (*Contact, error) {
	contact.ContactID = id
	var env contactsEnvelope
	if err := c.Do(ctx, http.MethodPost, "/Contacts/"+url.PathEscape(id), contactsEnvelope{Contacts: []Contact{contact}}, &env); err != nil {
		return nil, err
	}
	return firstContact(env)
}

func firstContact(env contactsEnvelope) (*Contact, error) {
	if len(env.Contacts) == 0 || env.Contacts[0].ContactID == "" {
		return nil, fmt.Errorf("xero returned no contact")
	}
	return &env.Contacts[0], nil
}

// Invoices

func (c *Client) FindInvoiceByReference(ctx context.Context, reference string) (*Invoice, error) {
	var env invoicesEnvelope
	if err := c.Do(ctx, http.MethodGet, findPath("Invoices", "Reference", reference), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Invoices) == 0 {
		return nil, nil
	}
	return &env.Invoices[0], nil
}

func (c *Client) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	var env invoicesEnvelope
	if err := c.Do(ctx, http.MethodGet, "/Invoices/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, err
	}
	if len(env.Invoices) == 0 {
		return nil, fmt.Errorf("invoice %s missing from response", id)
	}
	return &env.Invoices[0], nil
}

func (c *Client) CreateInvoice(ctx context.Context, invoice Invoice) (*Invoice, error) {
	invoice.InvoiceID = ""
	var env invoicesEnvelope
	if err := c.Do(ctx, http.MethodPut, "/Invoices", invoicesEnvelope{Invoices: []Invoice{invoice}}, &env); err != nil {
		return nil, err
	}
	return firstInvoice(env)
}

func (c *Client) UpdateInvoice(ctx context.Context, id string, invoice Invoice) (*Invoice, error) {
	invoice.InvoiceID = id
	var env invoicesEnvelope
	if err := c.Do(ctx, http.MethodPost, "/Invoices/"+url.PathEscape(id), invoicesEnvelope{Invoices: []Invoice{invoice}}, &env); err != nil {
		return nil, err
	}
	return firstInvoice(env)
}

func firstInvoice(env invoicesEnvelope) (*Invoice, error) {
	if len(env.Invoices) == 0 || env.Invoices[0].InvoiceID == "" {
		return nil, fmt.Errorf("xero returned no invoice")
	}
	return &env.Invoices[0], nil
}

// Settings

func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var env accountsEnvelope
	if err := c.Do(ctx, http.MethodGet, "/Accounts", nil, &env); err != nil {
		return nil, err
	}
	return env.Accounts, nil
}

func (c *Client) ListTaxRates(ctx context.Context) ([]TaxRate, error) {
	var env taxRatesEnvelope
	if err := c.Do(ctx, http.MethodGet, "/TaxRates", nil, &env); err != nil {
		return nil, err
	}
	return env.TaxRates, nil
}

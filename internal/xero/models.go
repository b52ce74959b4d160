package xero

// Item is an inventory or service item.
type Item struct {
	ItemID                    string        `json:"ItemID,omitempty"`
	Code                      string        `json:"Code"`
	Name                      string        `json:"Name"`
	Description               string        `json:"Description,omitempty"`
	PurchaseDescription       string        `json:"PurchaseDescription,omitempty"`
	IsTrackedAsInventory      bool          `json:"IsTrackedAsInventory"`
	InventoryAssetAccountCode string        `json:"InventoryAssetAccountCode,omitempty"`
	QuantityOnHand            *float64      `json:"QuantityOnHand,omitempty"`
	SalesDetails              *PriceDetails `json:"SalesDetails,omitempty"`
	PurchaseDetails           *PriceDetails `json:"PurchaseDetails,omitempty"`
}

type PriceDetails struct {
	UnitPrice   float64 `json:"UnitPrice"`
	AccountCode string  `json:"AccountCode,omitempty"`
	TaxType     string  `json:"TaxType,omitempty"`
}

type Contact struct {
	ContactID    string    `json:"ContactID,omitempty"`
	Name         string    `json:"Name,omitempty"`
	FirstName    string    `json:"FirstName,omitempty"`
	LastName     string    `json:"LastName,omitempty"`
	EmailAddress string    `json:"EmailAddress,omitempty"`
	IsCustomer   bool      `json:"IsCustomer,omitempty"`
	Phones       []Phone   `json:"Phones,omitempty"`
	Addresses    []Address `json:"Addresses,omitempty"`
}

type Phone struct {
	PhoneType   string `json:"PhoneType"`
	PhoneNumber string `json:"PhoneNumber"`
}

type Address struct {
	AddressType  string `json:"AddressType"`
	AddressLine1 string `json:"AddressLine1,omitempty"`
	AddressLine2 string `json:"AddressLine2,omitempty"`
	City         string `json:"City,omitempty"`
	Region       string `json:"Region,omitempty"`
	PostalCode   string `json:"PostalCode,omitempty"`
	Country      string `json:"Country,omitempty"`
}

// Invoice dates use the yyyy-mm-dd form.
type Invoice struct {
	InvoiceID       string     `json:"InvoiceID,omitempty"`
	InvoiceNumber   string     `json:"InvoiceNumber,omitempty"`
	Type            string     `json:"Type"`
	Contact         Contact    `json:"Contact"`
	Date            string     `json:"Date,omitempty"`
	DueDate         string     `json:"DueDate,omitempty"`
	LineAmountTypes string     `json:"LineAmountTypes,omitempty"`
	LineItems       []LineItem `json:"LineItems"`
	Reference       string     `json:"Reference,omitempty"`
	CurrencyCode    string     `json:"CurrencyCode,omitempty"`
	Status          string     `json:"Status,omitempty"`
}

type LineItem struct {
	Description string  `json:"Description"`
	Quantity    float64 `json:"Quantity"`
	UnitAmount  float64 `json:"UnitAmount"`
	TaxAmount   float64 `json:"TaxAmount"`
	AccountCode string  `json:"AccountCode,omitempty"`
	ItemCode    string  `json:"ItemCode,omitempty"`
	TaxType     string  `json:"TaxType,omitempty"`
}

type Account struct {
	AccountID string `json:"AccountID"`
	Code      string `json:"Code"`
	Name      string `json:"Name"`
	Type      string `json:"Type"`
	Status    string `json:"Status"`
	TaxType   string `json:"TaxType,omitempty"`
}

type TaxRate struct {
	Name          string  `json:"Name"`
	TaxType       string  `json:"TaxType"`
	Status        string  `json:"Status"`
	EffectiveRate float64 `json:"EffectiveRate"`
}

// Invoice and line amount enumerations.
const (
	InvoiceTypeReceivable    = "ACCREC"
	InvoiceStatusAuthorised  = "AUTHORISED"
	LineAmountTypesExclusive = "Exclusive"
	PhoneTypeDefault         = "DEFAULT"
	AddressTypeStreet        = "STREET"
)

// Tax types.
const (
	TaxTypeOutput       = "OUTPUT"
	TaxTypeOutput2      = "OUTPUT2"
	TaxTypeExemptOutput = "EXEMPTOUTPUT"
	TaxTypeNone         = "NONE"
)

type itemsEnvelope struct {
	Items []Item `json:"Items"`
}

type contactsEnvelope struct {
	Contacts []Contact `json:"Contacts"`
}

type invoicesEnvelope struct {
	Invoices []Invoice `json:"Invoices"`
}

type accountsEnvelope struct {
	Accounts []Account `json:"Accounts"`
}

type taxRatesEnvelope struct {
	TaxRates []TaxRate `json:"TaxRates"`
}

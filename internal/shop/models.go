package shop

import (
	"fmt"
	"strings"
	"time"
)

// EntityType names a kind of local record.
type EntityType string

const (
	EntityProduct  EntityType = "product"
	EntityCustomer EntityType = "customer"
	EntityOrder    EntityType = "order"
)

var EntityTypes = []EntityType{EntityProduct, EntityCustomer, EntityOrder}

func ParseEntityType(s string) (EntityType, error) {
	switch t := EntityType(strings.ToLower(strings.TrimSpace(s))); t {
	case EntityProduct, EntityCustomer, EntityOrder:
		return t, nil
	case "products":
		return EntityProduct, nil
	case "customers":
		return EntityCustomer, nil
	case "orders":
		return EntityOrder, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

type Product struct {
	ID               int64
	SKU              string
	Name             string
	Description      string
	ShortDescription string
	Price            float64
	RegularPrice     float64
	TaxStatus        string
	TaxClass         string
	ManageStock      bool
	StockQuantity    float64
}

// Code is the natural key of the product: its SKU, or a code derived from the
// id when the SKU is blank.
func (p Product) Code() string {
	if sku := strings.TrimSpace(p.SKU); sku != "" {
		return sku
	}
	return fmt.Sprintf("wc-%d", p.ID)
}

type Address struct {
	Line1    string
	Line2    string
	City     string
	State    string
	Postcode string
	Country  string
}

type Customer struct {
	ID          int64
	Email       string
	FirstName   string
	LastName    string
	DisplayName string
	Login       string
	Phone       string
	Address     Address
}

type Billing struct {
	FirstName string
	LastName  string
	Company   string
	Email     string
	Phone     string
	Address   Address
}

type OrderItem struct {
	ProductID int64
	SKU       string
	Name      string
	Quantity  float64
	Total     float64 // line total excluding tax
	TotalTax  float64
}

type Fee struct {
	Name     string
	Total    float64
	TotalTax float64
}

type Order struct {
	ID            int64
	Number        string
	CustomerID    int64
	Status        string
	Currency      string
	Billing       Billing
	Items         []OrderItem
	Fees          []Fee
	ShippingTotal float64
	ShippingTax   float64
	CreatedAt     time.Time
}

// OrderNumber falls back to the id when no number was assigned.
func (o Order) OrderNumber() string {
	if o.Number != "" {
		return o.Number
	}
	return fmt.Sprintf("%d", o.ID)
}

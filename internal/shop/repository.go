package shop

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"xero-sync-service/internal/database"
)

// Schema creates the shop tables. Hosts that already own these tables never
// need it.
//
//go:embed schema.sql
var Schema string

// Repository reads products, customers and orders from the shop database.
// Getters return (nil, nil) when the row does not exist.
type Repository struct {
	db *database.Database
}

func NewRepository(db *database.Database) *Repository {
	return &Repository{db: db}
}

// ApplySchema creates any missing shop tables.
func (r *Repository) ApplySchema(ctx context.Context) error {
	if _, err := r.db.DB.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply shop schema: %w", err)
	}
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (*Product, error) {
	query := `SELECT id, sku, name, COALESCE(description, ''), COALESCE(short_description, ''), price, regular_price,
			  tax_status, tax_class, manage_stock, stock_quantity
			  FROM products WHERE id = ?`

	var p Product
	err := r.db.DB.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.Description,
		&p.ShortDescription,
		&p.Price,
		&p.RegularPrice,
		&p.TaxStatus,
		&p.TaxClass,
		&p.ManageStock,
		&p.StockQuantity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product %d: %w", id, err)
	}
	return &p, nil
}

func (r *Repository) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	query := `SELECT id, email, first_name, last_name, display_name, login, phone,
			  address_1, address_2, city, state, postcode, country
			  FROM customers WHERE id = ?`

	var c Customer
	err := r.db.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Email,
		&c.FirstName,
		&c.LastName,
		&c.DisplayName,
		&c.Login,
		&c.Phone,
		&c.Address.Line1,
		&c.Address.Line2,
		&c.Address.City,
		&c.Address.State,
		&c.Address.Postcode,
		&c.Address.Country,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer %d: %w", id, err)
	}
	return &c, nil
}

// GetOrder loads the order with its items and fees in one transaction.
func (r *Repository) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var order *Order
	err := r.db.ReadTx(ctx, func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT id, number, customer_id, status, currency,
			  billing_first_name, billing_last_name, billing_company, billing_email, billing_phone,
			  billing_address_1, billing_address_2, billing_city, billing_state, billing_postcode, billing_country,
			  shipping_total, shipping_tax, created_at
			  FROM orders WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		if o.Items, err = loadItems(ctx, tx, id); err != nil {
			return err
		}
		if o.Fees, err = loadFees(ctx, tx, id); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return order, nil
}

func scanOrder(row *sql.Row) (*Order, error) {
	var o Order
	b := &o.Billing
	err := row.Scan(
		&o.ID,
		&o.Number,
		&o.CustomerID,
		&o.Status,
		&o.Currency,
		&b.FirstName,
		&b.LastName,
		&b.Company,
		&b.Email,
		&b.Phone,
		&b.Address.Line1,
		&b.Address.Line2,
		&b.Address.City,
		&b.Address.State,
		&b.Address.Postcode,
		&b.Address.Country,
		&o.ShippingTotal,
		&o.ShippingTax,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func loadItems(ctx context.Context, tx *sql.Tx, orderID int64) ([]OrderItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT product_id, sku, name, quantity, total, total_tax
			  FROM order_items WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.SKU, &it.Name, &it.Quantity, &it.Total, &it.TotalTax); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func loadFees(ctx context.Context, tx *sql.Tx, orderID int64) ([]Fee, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name, total, total_tax
			  FROM order_fees WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fees []Fee
	for rows.Next() {
		var f Fee
		if err := rows.Scan(&f.Name, &f.Total, &f.TotalTax); err != nil {
			return nil, err
		}
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

// ListFilter selects a page of ids in ascending order.
type ListFilter struct {
	AfterID  int64
	Limit    int
	Statuses []string // orders only
}

func (r *Repository) ListIDs(ctx context.Context, entityType EntityType, f ListFilter) ([]int64, error) {
	var table string
	switch entityType {
	case EntityProduct:
		table = "products"
	case EntityCustomer:
		table = "customers"
	case EntityOrder:
		table = "orders"
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	query := `SELECT id FROM ` + table + ` WHERE id > ?`
	args := []any{f.AfterID}
	if entityType == EntityOrder && len(f.Statuses) > 0 {
		query += ` AND status IN (` + strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",") + `)`
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

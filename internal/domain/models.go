package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultWarehouseID is the warehouse created by the first migration.
const DefaultWarehouseID int64 = 1

type Warehouse struct {
	ID   int64  `db:"id" json:"id"`
	Code string `db:"code" json:"code"`
	Name string `db:"name" json:"name"`
}

// Variant is the catalog's sellable unit. Only the fields the order snapshot
// needs are modelled here.
type Variant struct {
	ID          int64           `db:"id" json:"id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	SKU         string          `db:"sku" json:"sku"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Currency    string          `db:"currency" json:"currency"`
}

type CartStatus string

const (
	CartActive    CartStatus = "active"
	CartConverted CartStatus = "converted"
)

type Cart struct {
	ID        int64      `db:"id" json:"id"`
	SessionID string     `db:"session_id" json:"session_id"`
	Status    CartStatus `db:"status" json:"status"`
	Currency  string     `db:"currency" json:"currency"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	Items     []CartItem `db:"-" json:"items"`
}

type CartItem struct {
	CartID    int64           `db:"cart_id" json:"-"`
	VariantID int64           `db:"product_variant_id" json:"variant_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Currency  string          `db:"currency" json:"currency"`
	Discount  decimal.Decimal `db:"discount" json:"discount"`
}

// Subtotal is the undiscounted line amount.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

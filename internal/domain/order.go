package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderFulfilled      OrderStatus = "fulfilled"
	OrderCancelled      OrderStatus = "cancelled"
	OrderRefunded       OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPendingPayment: {OrderPaid, OrderCancelled},
	OrderPaid:           {OrderFulfilled, OrderRefunded, OrderCancelled},
	OrderFulfilled:      {OrderRefunded},
}

// CanTransition reports whether an order may move from one status to another.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Status history reasons.
const (
	ReasonOrderPlaced        = "Order placed"
	ReasonReservationFailed  = "Stock reservation failed"
	ReasonReservationExpired = "Reservation expired"
	ReasonPaymentSucceeded   = "Payment succeeded"
)

type Order struct {
	ID            int64           `db:"id" json:"id"`
	Number        string          `db:"number" json:"number"`
	CartID        *int64          `db:"cart_id" json:"cart_id,omitempty"`
	SessionID     string          `db:"session_id" json:"-"`
	CustomerName  string          `db:"customer_name" json:"customer_name"`
	CustomerEmail string          `db:"customer_email" json:"customer_email"`
	Status        OrderStatus     `db:"status" json:"status"`
	Currency      string          `db:"currency" json:"currency"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Shipping      decimal.Decimal `db:"shipping" json:"shipping"`
	Tax           decimal.Decimal `db:"tax" json:"tax"`
	Total         decimal.Decimal `db:"total" json:"total"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`

	Lines   []OrderLine    `db:"-" json:"lines,omitempty"`
	History []StatusChange `db:"-" json:"history,omitempty"`
}

// OrderLine is frozen at placement; later catalog edits never touch it.
type OrderLine struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"-"`
	VariantID   int64           `db:"product_variant_id" json:"variant_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	SKU         string          `db:"sku" json:"sku"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Currency    string          `db:"currency" json:"currency"`
	Discount    decimal.Decimal `db:"discount" json:"discount"`
	LineTotal   decimal.Decimal `db:"line_total" json:"line_total"`
}

type StatusChange struct {
	ID        int64        `db:"id" json:"id"`
	OrderID   int64        `db:"order_id" json:"-"`
	From      *OrderStatus `db:"from_status" json:"from"`
	To        OrderStatus  `db:"to_status" json:"to"`
	Reason    string       `db:"reason" json:"reason"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Totals computes max(0, subtotal - discount + shipping + tax).
func Totals(subtotal, discount, shipping, tax decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discount).Add(shipping).Add(tax)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

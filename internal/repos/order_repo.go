package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

type OrderRepo struct{ db *sqlx.DB }

func NewOrderRepo(db *sqlx.DB) *OrderRepo { return &OrderRepo{db: db} }

// OrderSummary is a row of the admin order list.
type OrderSummary struct {
	ID        int64              `db:"id" json:"id"`
	Number    string             `db:"number" json:"number"`
	Status    domain.OrderStatus `db:"status" json:"status"`
	Total     string             `db:"total" json:"total"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
}

const orderCols = `id, number, cart_id, session_id, customer_name, customer_email, status, currency,
	subtotal, discount, shipping, tax, total, created_at, updated_at`

// Create inserts a new order header and fills in its id.
func (r *OrderRepo) Create(ctx context.Context, q sqlx.ExtContext, o *domain.Order) error {
	return sqlx.GetContext(ctx, q, &o.ID, q.Rebind(`
		INSERT INTO orders
		  (number, cart_id, session_id, customer_name, customer_email, status, currency,
		   subtotal, discount, shipping, tax, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), o.Number, o.CartID, o.SessionID, o.CustomerName, o.CustomerEmail, o.Status, o.Currency,
		o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total, o.CreatedAt, o.UpdatedAt)
}

// InsertLine inserts a single line snapshot.
func (r *OrderRepo) InsertLine(ctx context.Context, q sqlx.ExtContext, l *domain.OrderLine) error {
	return sqlx.GetContext(ctx, q, &l.ID, q.Rebind(`
		INSERT INTO order_lines
		  (order_id, product_variant_id, product_name, sku, quantity, unit_price, currency, discount, line_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), l.OrderID, l.VariantID, l.ProductName, l.SKU, l.Quantity, l.UnitPrice, l.Currency, l.Discount, l.LineTotal)
}

func (r *OrderRepo) AppendHistory(ctx context.Context, q sqlx.ExtContext, h *domain.StatusChange) error {
	return sqlx.GetContext(ctx, q, &h.ID, q.Rebind(`
		INSERT INTO order_status_history(order_id, from_status, to_status, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), h.OrderID, h.From, h.To, h.Reason, h.CreatedAt)
}

func (r *OrderRepo) UpdateStatus(ctx context.Context, q sqlx.ExtContext, id int64, status domain.OrderStatus, now time.Time) error {
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`), status, now, id)
	return err
}

// Lock reads an order header inside tx, holding its row lock on postgres.
func (r *OrderRepo) Lock(ctx context.Context, tx *sqlx.Tx, id int64) (domain.Order, error) {
	var o domain.Order
	err := tx.GetContext(ctx, &o, tx.Rebind(`SELECT `+orderCols+` FROM orders WHERE id = ?`+forUpdate(tx)), id)
	if errors.Is(err, sql.ErrNoRows) {
		return o, domain.ErrNotFound
	}
	return o, err
}

// Get loads an order with its lines and status history.
func (r *OrderRepo) Get(ctx context.Context, id int64) (domain.Order, error) {
	var o domain.Order
	err := r.db.GetContext(ctx, &o, r.db.Rebind(`SELECT `+orderCols+` FROM orders WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return o, domain.ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.Lines = []domain.OrderLine{}
	if err := r.db.SelectContext(ctx, &o.Lines, r.db.Rebind(`
		SELECT id, order_id, product_variant_id, product_name, sku, quantity, unit_price, currency, discount, line_total
		FROM order_lines WHERE order_id = ? ORDER BY id
	`), id); err != nil {
		return o, err
	}
	o.History = []domain.StatusChange{}
	err = r.db.SelectContext(ctx, &o.History, r.db.Rebind(`
		SELECT id, order_id, from_status, to_status, reason, created_at
		FROM order_status_history WHERE order_id = ? ORDER BY id
	`), id)
	return o, err
}

func (r *OrderRepo) ListLatest(ctx context.Context, limit int) ([]OrderSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []OrderSummary{}
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT id, number, status, CAST(total AS TEXT) AS total, created_at
		FROM orders
		ORDER BY id DESC
		LIMIT ?
	`), limit)
	return out, err
}

package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

type CartRepo struct{ db *sqlx.DB }

func NewCartRepo(db *sqlx.DB) *CartRepo { return &CartRepo{db: db} }

const cartCols = `id, session_id, status, currency, updated_at`

// ActiveBySession returns the session's open cart or domain.ErrNotFound.
func (r *CartRepo) ActiveBySession(ctx context.Context, q sqlx.ExtContext, sessionID string) (domain.Cart, error) {
	var c domain.Cart
	err := sqlx.GetContext(ctx, q, &c, q.Rebind(`SELECT `+cartCols+` FROM carts
		WHERE session_id = ? AND status = 'active'
		ORDER BY id DESC LIMIT 1`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return c, domain.ErrNotFound
	}
	return c, err
}

// EnsureCart returns the session's active cart, creating one if needed.
func (r *CartRepo) EnsureCart(ctx context.Context, q sqlx.ExtContext, sessionID, currency string, now time.Time) (domain.Cart, error) {
	c, err := r.ActiveBySession(ctx, q, sessionID)
	if err == nil || !errors.Is(err, domain.ErrNotFound) {
		return c, err
	}
	c = domain.Cart{SessionID: sessionID, Status: domain.CartActive, Currency: currency, UpdatedAt: now}
	err = sqlx.GetContext(ctx, q, &c.ID, q.Rebind(`
		INSERT INTO carts(session_id, status, currency, updated_at) VALUES (?, ?, ?, ?)
		RETURNING id
	`), c.SessionID, c.Status, c.Currency, c.UpdatedAt)
	return c, err
}

func (r *CartRepo) Get(ctx context.Context, q sqlx.ExtContext, id int64) (domain.Cart, error) {
	var c domain.Cart
	err := sqlx.GetContext(ctx, q, &c, q.Rebind(`SELECT `+cartCols+` FROM carts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return c, domain.ErrNotFound
	}
	return c, err
}

// UpsertItem adds qty to a cart line, creating it at the given price.
func (r *CartRepo) UpsertItem(ctx context.Context, q sqlx.ExtContext, cartID, variantID int64, qty int, price decimal.Decimal, currency string, now time.Time) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO cart_items(cart_id, product_variant_id, quantity, unit_price, currency, discount)
		VALUES (?, ?, ?, ?, ?, '0')
		ON CONFLICT(cart_id, product_variant_id) DO UPDATE
		SET quantity = cart_items.quantity + excluded.quantity
	`), cartID, variantID, qty, price, currency); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE carts SET updated_at = ? WHERE id = ?`), now, cartID)
	return err
}

func (r *CartRepo) Items(ctx context.Context, q sqlx.ExtContext, cartID int64) ([]domain.CartItem, error) {
	out := []domain.CartItem{}
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(`
		SELECT cart_id, product_variant_id, quantity, unit_price, currency, discount
		FROM cart_items WHERE cart_id = ?
		ORDER BY product_variant_id
	`), cartID)
	return out, err
}

// MarkConverted closes an active cart. It fails with domain.ErrCartNotActive
// when the cart was already converted.
func (r *CartRepo) MarkConverted(ctx context.Context, q sqlx.ExtContext, cartID int64, now time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE carts SET status = 'converted', updated_at = ?
		WHERE id = ? AND status = 'active'
	`), now, cartID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCartNotActive
	}
	return nil
}

package repos

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// CatalogRepo reads products, variants and warehouses. The ledger never
// writes the catalog except through the demo seed.
type CatalogRepo struct{ db *sqlx.DB }

func NewCatalogRepo(db *sqlx.DB) *CatalogRepo { return &CatalogRepo{db: db} }

func (r *CatalogRepo) Variant(ctx context.Context, q sqlx.ExtContext, id int64) (domain.Variant, error) {
	var v domain.Variant
	err := sqlx.GetContext(ctx, q, &v, q.Rebind(`
		SELECT v.id, v.product_id, p.name AS product_name, v.sku, v.price, v.currency
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return v, domain.ErrNotFound
	}
	return v, err
}

func (r *CatalogRepo) Warehouse(ctx context.Context, q sqlx.ExtContext, id int64) (domain.Warehouse, error) {
	var w domain.Warehouse
	err := sqlx.GetContext(ctx, q, &w, q.Rebind(`SELECT id, code, name FROM warehouses WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return w, domain.ErrNotFound
	}
	return w, err
}

func (r *CatalogRepo) CreateProduct(ctx context.Context, q sqlx.ExtContext, name string) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, q.Rebind(`INSERT INTO products(name) VALUES (?) RETURNING id`), name)
	return id, err
}

func (r *CatalogRepo) CreateVariant(ctx context.Context, q sqlx.ExtContext, productID int64, sku string, price decimal.Decimal, currency string) (int64, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, q.Rebind(`
		INSERT INTO product_variants(product_id, sku, price, currency) VALUES (?, ?, ?, ?) RETURNING id
	`), productID, sku, price, currency)
	return id, err
}

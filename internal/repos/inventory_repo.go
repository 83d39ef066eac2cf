package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

type InventoryRepo struct{ db *sqlx.DB }

func NewInventoryRepo(db *sqlx.DB) *InventoryRepo { return &InventoryRepo{db: db} }

// Row used by admin inventory pages
type InventoryRow struct {
	VariantID   int64  `db:"product_variant_id" json:"variant_id"`
	SKU         string `db:"sku" json:"sku"`
	ProductName string `db:"product_name" json:"product_name"`
	WarehouseID int64  `db:"warehouse_id" json:"warehouse_id"`
	Warehouse   string `db:"warehouse_code" json:"warehouse"`
	Quantity    int    `db:"quantity" json:"quantity"`
	SafetyStock int    `db:"safety_stock" json:"safety_stock"`
	Reserved    int    `db:"reserved" json:"reserved"`
}

// StockLevel is the input to the availability formula for one stock row.
type StockLevel struct {
	VariantID   int64 `db:"product_variant_id"`
	WarehouseID int64 `db:"warehouse_id"`
	Quantity    int   `db:"quantity"`
	SafetyStock int   `db:"safety_stock"`
	Reserved    int   `db:"reserved"`
}

const stockCols = `id, product_variant_id, warehouse_id, quantity, safety_stock, updated_at`

const activeReservedSub = `COALESCE((
	SELECT SUM(r.quantity) FROM stock_reservations r
	WHERE r.product_variant_id = si.product_variant_id
	  AND r.warehouse_id = si.warehouse_id
	  AND r.status = 'active'), 0)`

// ListAll returns all stock rows with catalog labels (for /admin/inventory)
func (r *InventoryRepo) ListAll(ctx context.Context) ([]InventoryRow, error) {
	rows := []InventoryRow{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT si.product_variant_id, v.sku, p.name AS product_name,
		       si.warehouse_id, w.code AS warehouse_code,
		       si.quantity, si.safety_stock, `+activeReservedSub+` AS reserved
		FROM stock_items si
		JOIN product_variants v ON v.id = si.product_variant_id
		JOIN products p ON p.id = v.product_id
		JOIN warehouses w ON w.id = si.warehouse_id
		ORDER BY p.name, v.sku, si.warehouse_id
	`)
	return rows, err
}

// Levels reads on-hand, safety stock and active reservations for the given
// variants, optionally restricted to one warehouse. No locks are taken.
func (r *InventoryRepo) Levels(ctx context.Context, q sqlx.ExtContext, variantIDs []int64, warehouseID *int64) ([]StockLevel, error) {
	if len(variantIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT si.product_variant_id, si.warehouse_id, si.quantity, si.safety_stock,
		       ` + activeReservedSub + ` AS reserved
		FROM stock_items si
		WHERE si.product_variant_id IN (?)`
	args := []any{variantIDs}
	if warehouseID != nil {
		query += ` AND si.warehouse_id = ?`
		args = append(args, *warehouseID)
	}
	query += ` ORDER BY si.product_variant_id, si.warehouse_id`
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var out []StockLevel
	err = sqlx.SelectContext(ctx, q, &out, q.Rebind(query), args...)
	return out, err
}

// Get returns one stock row or domain.ErrNotFound.
func (r *InventoryRepo) Get(ctx context.Context, q sqlx.ExtContext, key domain.StockKey) (domain.StockItem, error) {
	var it domain.StockItem
	err := sqlx.GetContext(ctx, q, &it, q.Rebind(`SELECT `+stockCols+` FROM stock_items
		WHERE product_variant_id = ? AND warehouse_id = ?`), key.VariantID, key.WarehouseID)
	if errors.Is(err, sql.ErrNoRows) {
		return it, domain.ErrNotFound
	}
	return it, err
}

// Ensure creates a zero row for key if none exists yet.
func (r *InventoryRepo) Ensure(ctx context.Context, q sqlx.ExtContext, key domain.StockKey, now time.Time) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO stock_items(product_variant_id, warehouse_id, quantity, safety_stock, updated_at)
		VALUES (?, ?, 0, 0, ?)
		ON CONFLICT(product_variant_id, warehouse_id) DO NOTHING
	`), key.VariantID, key.WarehouseID, now)
	return err
}

// Lock takes row locks on the given stock rows in canonical order and returns
// what it found. Missing rows are absent from the map.
func (r *InventoryRepo) Lock(ctx context.Context, tx *sqlx.Tx, keys []domain.StockKey) (map[domain.StockKey]domain.StockItem, error) {
	sorted := make([]domain.StockKey, len(keys))
	copy(sorted, keys)
	domain.SortKeys(sorted)

	out := make(map[domain.StockKey]domain.StockItem, len(sorted))
	query := tx.Rebind(`SELECT ` + stockCols + ` FROM stock_items
		WHERE product_variant_id = ? AND warehouse_id = ?` + forUpdate(tx))
	for i, k := range sorted {
		if i > 0 && sorted[i-1] == k {
			continue
		}
		var it domain.StockItem
		err := tx.GetContext(ctx, &it, query, k.VariantID, k.WarehouseID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = it
	}
	return out, nil
}

func (r *InventoryRepo) UpdateQuantity(ctx context.Context, q sqlx.ExtContext, key domain.StockKey, qty int, now time.Time) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE stock_items SET quantity = ?, updated_at = ?
		WHERE product_variant_id = ? AND warehouse_id = ?
	`), qty, now, key.VariantID, key.WarehouseID)
	return err
}

func (r *InventoryRepo) UpdateSafetyStock(ctx context.Context, q sqlx.ExtContext, key domain.StockKey, safety int, now time.Time) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE stock_items SET safety_stock = ?, updated_at = ?
		WHERE product_variant_id = ? AND warehouse_id = ?
	`), safety, now, key.VariantID, key.WarehouseID)
	return err
}

// InsertMovement appends to the movement log. Rows are never updated.
func (r *InventoryRepo) InsertMovement(ctx context.Context, q sqlx.ExtContext, m *domain.StockMovement) error {
	return sqlx.GetContext(ctx, q, &m.ID, q.Rebind(`
		INSERT INTO stock_movements
		  (product_variant_id, warehouse_id, type, quantity, reason_code, reference_type, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), m.VariantID, m.WarehouseID, m.Type, m.Quantity, m.ReasonCode, m.ReferenceType, m.ReferenceID, m.CreatedAt)
}

// Movements lists the newest movements for one stock row.
func (r *InventoryRepo) Movements(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []domain.StockMovement{}
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT id, product_variant_id, warehouse_id, type, quantity, reason_code,
		       reference_type, reference_id, created_at
		FROM stock_movements
		WHERE product_variant_id = ? AND warehouse_id = ?
		ORDER BY id DESC
		LIMIT ?
	`), key.VariantID, key.WarehouseID, limit)
	return out, err
}

// MovementsByReference lists movements caused by one order, adjustment, etc.
func (r *InventoryRepo) MovementsByReference(ctx context.Context, ref domain.Reference) ([]domain.StockMovement, error) {
	out := []domain.StockMovement{}
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT id, product_variant_id, warehouse_id, type, quantity, reason_code,
		       reference_type, reference_id, created_at
		FROM stock_movements
		WHERE reference_type = ? AND reference_id = ?
		ORDER BY id
	`), ref.Type, ref.ID)
	return out, err
}

// Mismatches returns every stock row whose movement sum differs from its quantity.
func (r *InventoryRepo) Mismatches(ctx context.Context) ([]domain.Mismatch, error) {
	out := []domain.Mismatch{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT si.product_variant_id, si.warehouse_id, si.quantity,
		       COALESCE(m.total, 0) AS movement_sum
		FROM stock_items si
		LEFT JOIN (
			SELECT product_variant_id, warehouse_id, SUM(quantity) AS total
			FROM stock_movements
			GROUP BY product_variant_id, warehouse_id
		) m ON m.product_variant_id = si.product_variant_id AND m.warehouse_id = si.warehouse_id
		WHERE si.quantity <> COALESCE(m.total, 0)
		ORDER BY si.product_variant_id, si.warehouse_id
	`)
	return out, err
}

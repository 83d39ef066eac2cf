package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

type seedVariant struct {
	product string
	sku     string
	price   string
	stock   int
	safety  int
}

var demoCatalog = []seedVariant{
	{"Game Boy Color", "GBC-TEAL", "89.00", 10, 2},
	{"Game Boy Color", "GBC-GRAPE", "89.00", 4, 0},
	{"SNES Controller", "SNES-PAD", "24.50", 25, 5},
	{"N64 Expansion Pak", "N64-EXP", "39.99", 3, 0},
}

// SeedDemo fills an empty catalog with a few variants in the default warehouse.
// Stock enters through "in" movements so the ledger reconciles from the start.
func SeedDemo(ctx context.Context, db *sqlx.DB, now time.Time) error {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM product_variants`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	catalog := NewCatalogRepo(db)
	inv := NewInventoryRepo(db)
	return InTx(ctx, db, func(tx *sqlx.Tx) error {
		products := map[string]int64{}
		for _, s := range demoCatalog {
			pid, ok := products[s.product]
			if !ok {
				var err error
				if pid, err = catalog.CreateProduct(ctx, tx, s.product); err != nil {
					return err
				}
				products[s.product] = pid
			}
			vid, err := catalog.CreateVariant(ctx, tx, pid, s.sku, decimal.RequireFromString(s.price), "USD")
			if err != nil {
				return err
			}
			key := domain.StockKey{VariantID: vid, WarehouseID: domain.DefaultWarehouseID}
			if err := inv.Ensure(ctx, tx, key, now); err != nil {
				return err
			}
			if err := inv.UpdateQuantity(ctx, tx, key, s.stock, now); err != nil {
				return err
			}
			if err := inv.UpdateSafetyStock(ctx, tx, key, s.safety, now); err != nil {
				return err
			}
			if err := inv.InsertMovement(ctx, tx, &domain.StockMovement{
				VariantID:   vid,
				WarehouseID: key.WarehouseID,
				Type:        domain.MovementIn,
				Quantity:    s.stock,
				ReasonCode:  domain.ReasonInitialStock,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

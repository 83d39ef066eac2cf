package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

// Ledger owns on-hand quantity. Every change to stock_items goes through
// adjustTx, which appends movements so that their sum always equals quantity.
type Ledger struct {
	DB      *sqlx.DB
	Inv     *repos.InventoryRepo
	Catalog *repos.CatalogRepo
	Retry   Retrier
	Log     *zap.Logger
	Now     func() time.Time
}

func NewLedger(db *sqlx.DB, inv *repos.InventoryRepo, catalog *repos.CatalogRepo, retry Retrier, log *zap.Logger) *Ledger {
	return &Ledger{DB: db, Inv: inv, Catalog: catalog, Retry: retry, Log: orNop(log), Now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// AdjustQuantity applies a signed delta. A result below zero is clamped to
// zero; the clamp is written as its own movement and logged.
func (l *Ledger) AdjustQuantity(ctx context.Context, key domain.StockKey, delta int, reason string, ref *domain.Reference) (domain.Adjustment, error) {
	if err := validReason(reason); err != nil {
		return domain.Adjustment{}, err
	}
	mt := domain.MovementIn
	if delta < 0 {
		mt = domain.MovementOut
	}
	var adj domain.Adjustment
	err := l.Retry.Do(ctx, "stock.adjust", func() error {
		return repos.InTx(ctx, l.DB, func(tx *sqlx.Tx) error {
			var err error
			adj, err = l.adjustTx(ctx, tx, key, delta, mt, reason, ref, l.Now())
			return err
		})
	})
	return adj, err
}

// SetQuantity assigns an absolute on-hand quantity and records the implied
// delta. Nothing is written when the quantity is already at that value.
func (l *Ledger) SetQuantity(ctx context.Context, key domain.StockKey, qty int, reason string) (domain.Adjustment, error) {
	if qty < 0 {
		return domain.Adjustment{}, domain.ErrInvalidQuantity
	}
	if err := validReason(reason); err != nil {
		return domain.Adjustment{}, err
	}
	var adj domain.Adjustment
	err := l.Retry.Do(ctx, "stock.set", func() error {
		return repos.InTx(ctx, l.DB, func(tx *sqlx.Tx) error {
			now := l.Now()
			cur, err := l.lockOne(ctx, tx, key, now)
			if err != nil {
				return err
			}
			adj, err = l.adjustTx(ctx, tx, key, qty-cur.Quantity, domain.MovementAdjustment, reason, nil, now)
			return err
		})
	})
	return adj, err
}

// SetSafetyStock changes the floor withheld from sale. It does not move stock.
func (l *Ledger) SetSafetyStock(ctx context.Context, key domain.StockKey, safety int) error {
	if safety < 0 {
		return domain.ErrInvalidQuantity
	}
	return l.Retry.Do(ctx, "stock.safety", func() error {
		return repos.InTx(ctx, l.DB, func(tx *sqlx.Tx) error {
			now := l.Now()
			if _, err := l.lockOne(ctx, tx, key, now); err != nil {
				return err
			}
			return l.Inv.UpdateSafetyStock(ctx, tx, key, safety, now)
		})
	})
}

func (l *Ledger) Items(ctx context.Context) ([]repos.InventoryRow, error) {
	return l.Inv.ListAll(ctx)
}

func (l *Ledger) Movements(ctx context.Context, key domain.StockKey, limit int) ([]domain.StockMovement, error) {
	return l.Inv.Movements(ctx, key, limit)
}

// Reconcile reports every stock row whose movements do not add up to its
// quantity. Mismatches are alarms for operators and are never corrected here.
func (l *Ledger) Reconcile(ctx context.Context) ([]domain.Mismatch, error) {
	mm, err := l.Inv.Mismatches(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range mm {
		l.Log.Error("stock.reconcile.mismatch",
			zap.Error(domain.ErrLedgerMismatch),
			zap.Int64("variant_id", m.VariantID),
			zap.Int64("warehouse_id", m.WarehouseID),
			zap.Int("quantity", m.Quantity),
			zap.Int("movement_sum", m.MovementSum))
	}
	return mm, nil
}

// lockOne makes sure the variant and warehouse exist, creates the stock row
// on first touch, and locks it.
func (l *Ledger) lockOne(ctx context.Context, tx *sqlx.Tx, key domain.StockKey, now time.Time) (domain.StockItem, error) {
	if _, err := l.Catalog.Variant(ctx, tx, key.VariantID); err != nil {
		return domain.StockItem{}, fmt.Errorf("variant %d: %w", key.VariantID, err)
	}
	if _, err := l.Catalog.Warehouse(ctx, tx, key.WarehouseID); err != nil {
		return domain.StockItem{}, fmt.Errorf("warehouse %d: %w", key.WarehouseID, err)
	}
	if err := l.Inv.Ensure(ctx, tx, key, now); err != nil {
		return domain.StockItem{}, err
	}
	locked, err := l.Inv.Lock(ctx, tx, []domain.StockKey{key})
	if err != nil {
		return domain.StockItem{}, err
	}
	it, ok := locked[key]
	if !ok {
		return it, domain.ErrNotFound
	}
	return it, nil
}

// adjustTx is the single write path for stock_items.quantity.
func (l *Ledger) adjustTx(ctx context.Context, tx *sqlx.Tx, key domain.StockKey, delta int, mt domain.MovementType, reason string, ref *domain.Reference, now time.Time) (domain.Adjustment, error) {
	cur, err := l.lockOne(ctx, tx, key, now)
	if err != nil {
		return domain.Adjustment{}, err
	}
	adj := domain.Adjustment{
		VariantID:   key.VariantID,
		WarehouseID: key.WarehouseID,
		Requested:   delta,
		Applied:     delta,
		Quantity:    cur.Quantity,
	}
	if delta == 0 {
		return adj, nil
	}
	next := cur.Quantity + delta
	if next < 0 {
		adj.Clamped = true
		adj.Applied = -cur.Quantity
		next = 0
	}
	adj.Quantity = next

	if err := l.Inv.InsertMovement(ctx, tx, movement(key, mt, delta, reason, ref, now)); err != nil {
		return adj, err
	}
	if adj.Clamped {
		if err := l.Inv.InsertMovement(ctx, tx, movement(key, domain.MovementAdjustment, adj.Applied-delta, domain.ReasonNegativeClamp, ref, now)); err != nil {
			return adj, err
		}
		l.Log.Warn("stock.adjust.clamped",
			zap.Int64("variant_id", key.VariantID),
			zap.Int64("warehouse_id", key.WarehouseID),
			zap.Int("on_hand", cur.Quantity),
			zap.Int("requested_delta", delta),
			zap.Int("applied_delta", adj.Applied),
			zap.String("reason_code", reason))
	}
	if err := l.Inv.UpdateQuantity(ctx, tx, key, next, now); err != nil {
		return adj, err
	}
	return adj, nil
}

func movement(key domain.StockKey, mt domain.MovementType, qty int, reason string, ref *domain.Reference, now time.Time) *domain.StockMovement {
	m := &domain.StockMovement{
		VariantID:   key.VariantID,
		WarehouseID: key.WarehouseID,
		Type:        mt,
		Quantity:    qty,
		ReasonCode:  reason,
		CreatedAt:   now,
	}
	if ref != nil {
		t, id := ref.Type, ref.ID
		m.ReferenceType, m.ReferenceID = &t, &id
	}
	return m
}

func validReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return domain.ErrMissingReason
	}
	return nil
}

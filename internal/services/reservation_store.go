package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

// ReservationStore holds claims on stock. All methods run inside the caller's
// transaction; availability checks are the caller's job.
type ReservationStore struct {
	Res    *repos.ReservationRepo
	Inv    *repos.InventoryRepo
	Ledger *Ledger
}

func NewReservationStore(res *repos.ReservationRepo, inv *repos.InventoryRepo, ledger *Ledger) *ReservationStore {
	return &ReservationStore{Res: res, Inv: inv, Ledger: ledger}
}

func (s *ReservationStore) Reserve(ctx context.Context, tx *sqlx.Tx, key domain.StockKey, qty int, src domain.Source, expiresAt *time.Time, now time.Time) (domain.Reservation, error) {
	if qty <= 0 {
		return domain.Reservation{}, domain.ErrInvalidQuantity
	}
	r := domain.Reservation{
		VariantID:   key.VariantID,
		WarehouseID: key.WarehouseID,
		Quantity:    qty,
		SourceType:  src.Type,
		SourceID:    src.ID,
		ExpiresAt:   expiresAt,
		Status:      domain.ReservationActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.Res.Insert(ctx, tx, &r)
	return r, err
}

// ReleaseBySource expires every active reservation of src. Running it again
// changes nothing.
func (s *ReservationStore) ReleaseBySource(ctx context.Context, tx *sqlx.Tx, src domain.Source, now time.Time) (int64, error) {
	held, err := s.Res.LockActiveBySource(ctx, tx, src)
	if err != nil || len(held) == 0 {
		return 0, err
	}
	return s.Res.ExpireBySource(ctx, tx, src, now)
}

// MarkConsumedBySource turns every active reservation of src into a permanent
// deduction with an out movement referencing src. The whole source is handled
// in tx or not at all.
func (s *ReservationStore) MarkConsumedBySource(ctx context.Context, tx *sqlx.Tx, src domain.Source, now time.Time) ([]domain.Reservation, error) {
	held, err := s.Res.LockActiveBySource(ctx, tx, src)
	if err != nil || len(held) == 0 {
		return nil, err
	}
	keys := make([]domain.StockKey, 0, len(held))
	for _, r := range held {
		keys = append(keys, domain.StockKey{VariantID: r.VariantID, WarehouseID: r.WarehouseID})
	}
	if _, err := s.Inv.Lock(ctx, tx, keys); err != nil {
		return nil, err
	}

	ref := &domain.Reference{Type: string(src.Type), ID: src.ID}
	for i := range held {
		r := &held[i]
		ok, err := s.Res.MarkConsumed(ctx, tx, r.ID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: reservation %d left active state", domain.ErrConflict, r.ID)
		}
		key := domain.StockKey{VariantID: r.VariantID, WarehouseID: r.WarehouseID}
		if _, err := s.Ledger.adjustTx(ctx, tx, key, -r.Quantity, domain.MovementOut, domain.ReasonOrderConsumed, ref, now); err != nil {
			return nil, err
		}
		r.Status = domain.ReservationConsumed
		r.UpdatedAt = now
	}
	return held, nil
}

// ExpireStale expires active reservations whose expiry has passed and returns
// the sources that lost them. The update is conditional on status, so it is
// safe alongside itself and every other writer.
func (s *ReservationStore) ExpireStale(ctx context.Context, q sqlx.ExtContext, now time.Time) ([]domain.Source, error) {
	return s.Res.ExpireStale(ctx, q, now)
}

func (s *ReservationStore) BySource(ctx context.Context, q sqlx.ExtContext, src domain.Source) ([]domain.Reservation, error) {
	return s.Res.BySource(ctx, q, src)
}

package services

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
	"storefront/internal/repos"
)

// Availability derives sellable quantity from stock rows and active
// reservations. Nothing is cached and no row is locked.
type Availability struct {
	Inv *repos.InventoryRepo
}

func NewAvailability(inv *repos.InventoryRepo) *Availability {
	return &Availability{Inv: inv}
}

// sellable is what one stock row can still promise. Safety stock and active
// reservations are withheld; the result never goes below zero.
func sellable(l repos.StockLevel) int {
	n := l.Quantity - l.SafetyStock - l.Reserved
	if n < 0 {
		return 0
	}
	return n
}

// Compute answers one result per requested variant, ordered by variant id.
// Without a warehouse the per-row amounts are summed across warehouses, which
// may report stock no single location can ship.
func (a *Availability) Compute(ctx context.Context, q sqlx.ExtContext, requested map[int64]int, warehouseID *int64) ([]domain.AvailabilityResult, error) {
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	levels, err := a.Inv.Levels(ctx, q, ids, warehouseID)
	if err != nil {
		return nil, err
	}
	avail := make(map[int64]int, len(ids))
	for _, l := range levels {
		avail[l.VariantID] += sellable(l)
	}

	out := make([]domain.AvailabilityResult, 0, len(ids))
	for _, id := range ids {
		r := domain.AvailabilityResult{
			VariantID:    id,
			RequestedQty: requested[id],
			AvailableQty: avail[id],
			WarehouseID:  warehouseID,
		}
		r.IsAvailable = r.AvailableQty >= r.RequestedQty
		out = append(out, r)
	}
	return out, nil
}

// ForKey is the sellable quantity of a single stock row; a missing row has none.
func (a *Availability) ForKey(ctx context.Context, q sqlx.ExtContext, key domain.StockKey) (int, error) {
	wh := key.WarehouseID
	levels, err := a.Inv.Levels(ctx, q, []int64{key.VariantID}, &wh)
	if err != nil || len(levels) == 0 {
		return 0, err
	}
	return sellable(levels[0]), nil
}

// Shortages turns failed results into the error payload callers report.
func Shortages(results []domain.AvailabilityResult) []domain.Shortage {
	var out []domain.Shortage
	for _, r := range results {
		if !r.IsAvailable {
			out = append(out, domain.Shortage{
				VariantID:   r.VariantID,
				WarehouseID: r.WarehouseID,
				Requested:   r.RequestedQty,
				Available:   r.AvailableQty,
			})
		}
	}
	return out
}

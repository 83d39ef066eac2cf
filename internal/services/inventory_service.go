package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/repos"
)

// InventoryService is the public face of the stock core: availability,
// reservation, release and consumption.
type InventoryService struct {
	DB      *sqlx.DB
	Avail   *Availability
	Store   *ReservationStore
	Ledger  *Ledger
	Catalog *repos.CatalogRepo
	Outbox  *repos.OutboxRepo
	Policy  WarehousePolicy
	Retry   Retrier
	Log     *zap.Logger
	Now     func() time.Time
}

func NewInventoryService(db *sqlx.DB, avail *Availability, store *ReservationStore, ledger *Ledger,
	catalog *repos.CatalogRepo, outbox *repos.OutboxRepo, policy WarehousePolicy, retry Retrier, log *zap.Logger) *InventoryService {
	if policy == nil {
		policy = DefaultWarehouse{ID: domain.DefaultWarehouseID}
	}
	return &InventoryService{
		DB: db, Avail: avail, Store: store, Ledger: ledger, Catalog: catalog, Outbox: outbox,
		Policy: policy, Retry: retry, Log: orNop(log), Now: utcNow,
	}
}

// CheckAvailability is a lock-free read of sellable quantity.
func (s *InventoryService) CheckAvailability(ctx context.Context, requested map[int64]int, warehouseID *int64) ([]domain.AvailabilityResult, error) {
	for id, qty := range requested {
		if qty < 0 {
			return nil, fmt.Errorf("variant %d: %w", id, domain.ErrInvalidQuantity)
		}
	}
	return s.Avail.Compute(ctx, s.DB, requested, warehouseID)
}

// ReserveStock claims stock for every item on behalf of src. A nil error means
// every line is reserved; an *domain.InsufficientStockError means none is.
func (s *InventoryService) ReserveStock(ctx context.Context, items []domain.ReserveItem, src domain.Source, expiresAt *time.Time) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := s.Retry.Do(ctx, "inventory.reserve", func() error {
		return repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
			var err error
			out, err = s.ReserveInTx(ctx, tx, items, src, expiresAt, s.Now())
			return err
		})
	})
	if err != nil {
		if _, short := domain.IsInsufficientStock(err); short {
			s.Log.Info("inventory.reserve.insufficient", zap.String("source", sourceString(src)), zap.Error(err))
		} else {
			s.Log.Error("inventory.reserve.fail", zap.String("source", sourceString(src)), zap.Error(err))
		}
		return nil, err
	}
	s.Log.Info("inventory.reserve", zap.String("source", sourceString(src)), zap.Int("reservations", len(out)))
	return out, nil
}

// ReserveInTx does the work of ReserveStock inside tx. It checks the aggregate
// first without locks, then locks every stock row it will draw from (in key
// order), re-validates each against what is still sellable, and writes only
// when all lines fit.
func (s *InventoryService) ReserveInTx(ctx context.Context, tx *sqlx.Tx, items []domain.ReserveItem, src domain.Source, expiresAt *time.Time, now time.Time) ([]domain.Reservation, error) {
	if !src.Type.Valid() || strings.TrimSpace(src.ID) == "" {
		return nil, domain.ErrInvalidSource
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", domain.ErrInvalidQuantity)
	}
	wanted := map[int64]int{}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("variant %d: %w", it.VariantID, domain.ErrInvalidQuantity)
		}
		wanted[it.VariantID] += it.Quantity
	}
	ids := make([]int64, 0, len(wanted))
	for id := range wanted {
		if _, err := s.Catalog.Variant(ctx, tx, id); err != nil {
			return nil, fmt.Errorf("variant %d: %w", id, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	pre, err := s.Avail.Compute(ctx, tx, wanted, nil)
	if err != nil {
		return nil, err
	}
	if short := Shortages(pre); len(short) > 0 {
		return nil, &domain.InsufficientStockError{Items: short}
	}

	keys := make([]domain.StockKey, 0, len(ids))
	for _, id := range ids {
		wh, err := s.Policy.Select(ctx, id, wanted[id])
		if err != nil {
			return nil, err
		}
		keys = append(keys, domain.StockKey{VariantID: id, WarehouseID: wh})
	}
	if _, err := s.Store.Inv.Lock(ctx, tx, keys); err != nil {
		return nil, err
	}

	var short []domain.Shortage
	for _, k := range keys {
		have, err := s.Avail.ForKey(ctx, tx, k)
		if err != nil {
			return nil, err
		}
		if have < wanted[k.VariantID] {
			wh := k.WarehouseID
			short = append(short, domain.Shortage{
				VariantID:   k.VariantID,
				WarehouseID: &wh,
				Requested:   wanted[k.VariantID],
				Available:   have,
			})
		}
	}
	if len(short) > 0 {
		return nil, &domain.InsufficientStockError{Items: short}
	}

	out := make([]domain.Reservation, 0, len(keys))
	for _, k := range keys {
		r, err := s.Store.Reserve(ctx, tx, k, wanted[k.VariantID], src, expiresAt, now)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ReleaseReservations returns a source's active claims to the pool. Releasing
// an already released source is a no-op.
func (s *InventoryService) ReleaseReservations(ctx context.Context, src domain.Source) (int64, error) {
	if !src.Type.Valid() || src.ID == "" {
		return 0, domain.ErrInvalidSource
	}
	var n int64
	err := s.Retry.Do(ctx, "inventory.release", func() error {
		return repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
			var err error
			n, err = s.Store.ReleaseBySource(ctx, tx, src, s.Now())
			return err
		})
	})
	if err == nil && n > 0 {
		s.Log.Info("inventory.release", zap.String("source", sourceString(src)), zap.Int64("released", n))
	}
	return n, err
}

// FinalizeStockForOrder converts the order's active reservations into on-hand
// deductions. A second call finds nothing active and changes nothing.
func (s *InventoryService) FinalizeStockForOrder(ctx context.Context, orderID int64) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := s.Retry.Do(ctx, "inventory.finalize", func() error {
		return repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
			var err error
			out, err = s.FinalizeInTx(ctx, tx, orderID, s.Now())
			return err
		})
	})
	return out, err
}

func (s *InventoryService) FinalizeInTx(ctx context.Context, tx *sqlx.Tx, orderID int64, now time.Time) ([]domain.Reservation, error) {
	return s.Store.MarkConsumedBySource(ctx, tx, OrderSource(orderID), now)
}

// ExpireStale sweeps lapsed reservations and raises ReservationsExpired for
// every source that lost some, in the same transaction.
func (s *InventoryService) ExpireStale(ctx context.Context) ([]domain.Source, error) {
	var out []domain.Source
	err := s.Retry.Do(ctx, "inventory.expire", func() error {
		return repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
			now := s.Now()
			srcs, err := s.Store.ExpireStale(ctx, tx, now)
			if err != nil {
				return err
			}
			for _, src := range srcs {
				if err := raise(ctx, tx, s.Outbox, events.ReservationsExpired, src.ID,
					events.ExpiredPayload{SourceType: string(src.Type), SourceID: src.ID}, now); err != nil {
					return err
				}
			}
			out = srcs
			return nil
		})
	})
	if err == nil && len(out) > 0 {
		s.Log.Info("inventory.expire", zap.Int("sources", len(out)))
	}
	return out, err
}

func (s *InventoryService) Reservations(ctx context.Context, src domain.Source) ([]domain.Reservation, error) {
	if !src.Type.Valid() || src.ID == "" {
		return nil, domain.ErrInvalidSource
	}
	return s.Store.BySource(ctx, s.DB, src)
}

func OrderSource(orderID int64) domain.Source {
	return domain.Source{Type: domain.SourceOrder, ID: strconv.FormatInt(orderID, 10)}
}

func CartSource(cartID int64) domain.Source {
	return domain.Source{Type: domain.SourceCart, ID: strconv.FormatInt(cartID, 10)}
}

func sourceString(src domain.Source) string { return string(src.Type) + ":" + src.ID }

// isDomainError reports whether err is a caller mistake or a stock refusal,
// as opposed to an infrastructure failure.
func isDomainError(err error) bool {
	if _, ok := domain.IsInsufficientStock(err); ok {
		return true
	}
	for _, target := range []error{
		domain.ErrNotFound, domain.ErrInvalidQuantity, domain.ErrInvalidSource,
		domain.ErrEmptyCart, domain.ErrCartNotActive, domain.ErrIllegalTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

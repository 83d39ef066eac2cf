package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storefront/internal/domain"
)

// Sweeper periodically expires reservations whose TTL has passed.
type Sweeper struct {
	Inventory *InventoryService
	Interval  time.Duration
	Log       *zap.Logger
}

func NewSweeper(inv *InventoryService, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{Inventory: inv, Interval: interval, Log: orNop(log)}
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.Log.Error("reservations.sweep.fail", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) ([]domain.Source, error) {
	return s.Inventory.ExpireStale(ctx)
}

package services

import "context"

// WarehousePolicy picks the warehouse a reservation line is taken from.
type WarehousePolicy interface {
	Select(ctx context.Context, variantID int64, qty int) (int64, error)
}

// DefaultWarehouse always answers with one fixed warehouse.
type DefaultWarehouse struct{ ID int64 }

func (p DefaultWarehouse) Select(context.Context, int64, int) (int64, error) {
	return p.ID, nil
}

package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidSource     = errors.New("invalid reservation source")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrEmptyCart         = errors.New("empty cart")
	ErrCartNotActive     = errors.New("cart is not active")
	ErrIllegalTransition = errors.New("illegal order status transition")
	ErrLedgerMismatch    = errors.New("stock ledger does not reconcile")
	ErrMissingReason     = errors.New("reason code required")
	ErrReservationLapsed = errors.New("order reservations have lapsed")
)

// Shortage describes one variant that could not be satisfied.
type Shortage struct {
	VariantID   int64  `json:"variant_id"`
	WarehouseID *int64 `json:"warehouse_id,omitempty"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

type InsufficientStockError struct {
	Items []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, s := range e.Items {
		parts = append(parts, fmt.Sprintf("variant %d: available %d, requested %d", s.VariantID, s.Available, s.Requested))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// IsInsufficientStock unwraps err looking for an InsufficientStockError.
func IsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}

// TransitionError carries the rejected edge of the order state machine.
type TransitionError struct {
	OrderID int64
	From    OrderStatus
	To      OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %d: %s -> %s not allowed", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

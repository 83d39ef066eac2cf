package domain

import (
	"sort"
	"time"
)

// StockKey identifies one stock row.
type StockKey struct {
	VariantID   int64
	WarehouseID int64
}

// SortKeys orders keys by variant then warehouse. Every writer locks stock rows
// in this order.
func SortKeys(keys []StockKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].VariantID != keys[j].VariantID {
			return keys[i].VariantID < keys[j].VariantID
		}
		return keys[i].WarehouseID < keys[j].WarehouseID
	})
}

type StockItem struct {
	ID          int64     `db:"id" json:"id"`
	VariantID   int64     `db:"product_variant_id" json:"variant_id"`
	WarehouseID int64     `db:"warehouse_id" json:"warehouse_id"`
	Quantity    int       `db:"quantity" json:"quantity"`
	SafetyStock int       `db:"safety_stock" json:"safety_stock"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func (s StockItem) Key() StockKey {
	return StockKey{VariantID: s.VariantID, WarehouseID: s.WarehouseID}
}

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
)

// Reason codes written by the system itself. Admin callers supply their own.
const (
	ReasonOrderConsumed = "order_consumed"
	ReasonNegativeClamp = "negative_clamp"
	ReasonInitialStock  = "initial_stock"
)

type StockMovement struct {
	ID            int64        `db:"id" json:"id"`
	VariantID     int64        `db:"product_variant_id" json:"variant_id"`
	WarehouseID   int64        `db:"warehouse_id" json:"warehouse_id"`
	Type          MovementType `db:"type" json:"type"`
	Quantity      int          `db:"quantity" json:"quantity"`
	ReasonCode    string       `db:"reason_code" json:"reason_code"`
	ReferenceType *string      `db:"reference_type" json:"reference_type,omitempty"`
	ReferenceID   *string      `db:"reference_id" json:"reference_id,omitempty"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// Reference links a movement to whatever caused it.
type Reference struct {
	Type string
	ID   string
}

type SourceType string

const (
	SourceCart  SourceType = "cart"
	SourceOrder SourceType = "order"
)

func (s SourceType) Valid() bool { return s == SourceCart || s == SourceOrder }

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationExpired  ReservationStatus = "expired"
	ReservationConsumed ReservationStatus = "consumed"
)

// Source is the entity a batch of reservations belongs to.
type Source struct {
	Type SourceType `json:"source_type"`
	ID   string     `json:"source_id"`
}

type Reservation struct {
	ID          int64             `db:"id" json:"id"`
	VariantID   int64             `db:"product_variant_id" json:"variant_id"`
	WarehouseID int64             `db:"warehouse_id" json:"warehouse_id"`
	Quantity    int               `db:"quantity" json:"quantity"`
	SourceType  SourceType        `db:"source_type" json:"source_type"`
	SourceID    string            `db:"source_id" json:"source_id"`
	ExpiresAt   *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
	Status      ReservationStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

func (r Reservation) Source() Source { return Source{Type: r.SourceType, ID: r.SourceID} }

// ReserveItem is one requested line of a reservation batch.
type ReserveItem struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

// AvailabilityResult is always computed, never stored.
type AvailabilityResult struct {
	VariantID    int64  `json:"variant_id"`
	RequestedQty int    `json:"requested_qty"`
	AvailableQty int    `json:"available_qty"`
	IsAvailable  bool   `json:"is_available"`
	WarehouseID  *int64 `json:"warehouse_id,omitempty"`
}

// Adjustment describes what a ledger write actually did.
type Adjustment struct {
	VariantID   int64 `json:"variant_id"`
	WarehouseID int64 `json:"warehouse_id"`
	Requested   int   `json:"requested_delta"`
	Applied     int   `json:"applied_delta"`
	Quantity    int   `json:"quantity"`
	Clamped     bool  `json:"clamped"`
}

// Mismatch is a ledger row whose movement sum disagrees with its quantity.
type Mismatch struct {
	VariantID   int64 `db:"product_variant_id" json:"variant_id"`
	WarehouseID int64 `db:"warehouse_id" json:"warehouse_id"`
	Quantity    int   `db:"quantity" json:"quantity"`
	MovementSum int   `db:"movement_sum" json:"movement_sum"`
}

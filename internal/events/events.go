// Package events carries the signals that connect order placement, payment
// and the inventory core. Events written inside a transaction go through the
// outbox table and are relayed at least once.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storefront/internal/repos"
)

type Type string

const (
	OrderPlaced         Type = "OrderPlaced"
	OrderCancelled      Type = "OrderCancelled"
	PaymentSucceeded    Type = "PaymentSucceeded"
	PaymentFailed       Type = "PaymentFailed"
	ReservationsExpired Type = "ReservationsExpired"
)

func (t Type) Valid() bool {
	switch t {
	case OrderPlaced, OrderCancelled, PaymentSucceeded, PaymentFailed, ReservationsExpired:
		return true
	}
	return false
}

type Event struct {
	ID          string          `json:"event_id"`
	Type        Type            `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// OrderPayload rides on OrderPlaced and OrderCancelled.
type OrderPayload struct {
	OrderID int64  `json:"order_id"`
	Number  string `json:"number"`
	Reason  string `json:"reason,omitempty"`
}

// PaymentPayload rides on PaymentSucceeded and PaymentFailed.
type PaymentPayload struct {
	OrderID   int64  `json:"order_id"`
	Reference string `json:"reference,omitempty"`
	Message   string `json:"message,omitempty"`
}

type ExpiredPayload struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

func New(t Type, aggregateID string, payload any, now time.Time) (Event, error) {
	if !t.Valid() {
		return Event{}, fmt.Errorf("unknown event type %q", t)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		AggregateID: aggregateID,
		OccurredAt:  now,
		Payload:     b,
	}, nil
}

func (e Event) Decode(v any) error { return json.Unmarshal(e.Payload, v) }

// Publisher is anything events can be handed to: the in-process bus or a broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ToOutbox converts an event into its outbox row.
func ToOutbox(ev Event) repos.OutboxEvent {
	return repos.OutboxEvent{
		EventID:     ev.ID,
		EventType:   string(ev.Type),
		AggregateID: ev.AggregateID,
		Payload:     string(ev.Payload),
		CreatedAt:   ev.OccurredAt,
	}
}

// FromOutbox is the inverse of ToOutbox.
func FromOutbox(row repos.OutboxEvent) Event {
	return Event{
		ID:          row.EventID,
		Type:        Type(row.EventType),
		AggregateID: row.AggregateID,
		OccurredAt:  row.CreatedAt,
		Payload:     json.RawMessage(row.Payload),
	}
}

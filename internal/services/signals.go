package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/events"
)

// Subscribe wires the order and inventory reactions onto the bus. Every
// handler tolerates redelivery.
func Subscribe(bus *events.Bus, orders *OrderService, inv *InventoryService, log *zap.Logger) {
	log = orNop(log)

	bus.Subscribe(events.PaymentSucceeded, func(ctx context.Context, ev events.Event) error {
		var p events.PaymentPayload
		if err := ev.Decode(&p); err != nil {
			log.Warn("payment.succeeded.bad_payload", zap.String("event_id", ev.ID), zap.Error(err))
			return nil
		}
		err := orders.ConfirmPayment(ctx, p.OrderID)
		if settled(err) {
			if err != nil {
				log.Warn("payment.succeeded.ignored", zap.Int64("order_id", p.OrderID), zap.Error(err))
			}
			return nil
		}
		return err
	})

	bus.Subscribe(events.PaymentFailed, func(ctx context.Context, ev events.Event) error {
		var p events.PaymentPayload
		_ = ev.Decode(&p)
		// reservations stay until the sweeper expires them
		log.Warn("payment.failed", zap.Int64("order_id", p.OrderID), zap.String("message", p.Message))
		return nil
	})

	bus.Subscribe(events.OrderCancelled, func(ctx context.Context, ev events.Event) error {
		var p events.OrderPayload
		if err := ev.Decode(&p); err != nil {
			log.Warn("order.cancelled.bad_payload", zap.String("event_id", ev.ID), zap.Error(err))
			return nil
		}
		_, err := inv.ReleaseReservations(ctx, OrderSource(p.OrderID))
		return err
	})

	bus.Subscribe(events.ReservationsExpired, func(ctx context.Context, ev events.Event) error {
		var p events.ExpiredPayload
		if err := ev.Decode(&p); err != nil {
			log.Warn("reservations.expired.bad_payload", zap.String("event_id", ev.ID), zap.Error(err))
			return nil
		}
		if domain.SourceType(p.SourceType) != domain.SourceOrder {
			return nil
		}
		id, err := strconv.ParseInt(p.SourceID, 10, 64)
		if err != nil {
			log.Warn("reservations.expired.bad_source", zap.String("source_id", p.SourceID))
			return nil
		}
		err = orders.ExpireOrder(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	})
}

// settled reports whether a payment confirmation outcome is final, so a
// retry would not change it.
func settled(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrIllegalTransition) ||
		errors.Is(err, domain.ErrReservationLapsed)
}

// PaymentEvent builds the event for a payment outcome reported over HTTP.
// A provider event id, when given, becomes the event id so retried
// deliveries collapse into one.
func PaymentEvent(succeeded bool, orderID int64, eventID, reference, message string) (events.Event, error) {
	t := events.PaymentFailed
	if succeeded {
		t = events.PaymentSucceeded
	}
	ev, err := events.New(t, fmt.Sprint(orderID), events.PaymentPayload{
		OrderID: orderID, Reference: reference, Message: message,
	}, utcNow())
	if err != nil {
		return events.Event{}, err
	}
	if eventID != "" {
		ev.ID = eventID
	}
	return ev, nil
}

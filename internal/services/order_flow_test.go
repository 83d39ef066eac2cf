package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/repos"
	"storefront/internal/services"
)

func statuses(o domain.Order) []domain.OrderStatus {
	out := make([]domain.OrderStatus, 0, len(o.History))
	for _, h := range o.History {
		out = append(out, h.To)
	}
	return out
}

func TestOrderFlow_AddCartCheckoutPay(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "GBC-TEAL", "89.00", 10, 2)

	cart, err := s.carts.Add(ctx, "sid-1", v, 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)

	order, err := s.orders.Place(ctx, "sid-1", services.Contact{Name: "Sam", Email: "sam@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPendingPayment, order.Status)
	assert.Equal(t, "178", order.Subtotal.String())
	assert.Equal(t, "5", order.Shipping.String())
	assert.Equal(t, "17.8", order.Tax.String())
	assert.Equal(t, "200.8", order.Total.String())
	assert.Equal(t, 6, s.available(t, v))

	// cart is converted and cannot be checked out again
	_, err = s.orders.Place(ctx, "sid-1", services.Contact{})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	require.NoError(t, s.orders.ConfirmPayment(ctx, order.ID))
	require.NoError(t, s.orders.ConfirmPayment(ctx, order.ID))
	assert.Equal(t, 8, s.item(t, v).Quantity)

	got, err := s.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Status)
	assert.Equal(t, []domain.OrderStatus{domain.OrderPendingPayment, domain.OrderPaid}, statuses(got))
	assert.Nil(t, got.History[0].From)
	assert.Equal(t, domain.ReasonOrderPlaced, got.History[0].Reason)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "GBC-TEAL", got.Lines[0].SKU)
	assert.Equal(t, "178", got.Lines[0].LineTotal.String())
	s.reconciled(t)
}

func TestOrderFlow_LinesAreFrozenAtPlacement(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "FROZEN", "10.00", 5, 0)
	_, err := s.carts.Add(ctx, "sid-f", v, 1)
	require.NoError(t, err)
	order, err := s.orders.Place(ctx, "sid-f", services.Contact{})
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE product_variants SET sku = 'RENAMED', price = '99.00' WHERE id = ?`, v)
	require.NoError(t, err)

	got, err := s.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "FROZEN", got.Lines[0].SKU)
	assert.Equal(t, "10", got.Lines[0].UnitPrice.String())
}

func TestOrderFlow_InsufficientStockCancelsOrder(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "SCARCE", "5.00", 3, 1)

	_, err := s.carts.Add(ctx, "sid-2", v, 3)
	require.NoError(t, err)

	order, err := s.orders.Place(ctx, "sid-2", services.Contact{})
	ise, short := domain.IsInsufficientStock(err)
	require.True(t, short, "got %v", err)
	assert.Equal(t, v, ise.Items[0].VariantID)
	assert.Equal(t, 2, ise.Items[0].Available)
	require.NotZero(t, order.ID)

	got, err := s.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, got.Status)
	require.Len(t, got.History, 2)
	assert.Equal(t, domain.ReasonReservationFailed, got.History[1].Reason)

	held, err := s.stock.Reservations(ctx, services.OrderSource(order.ID))
	require.NoError(t, err)
	assert.Empty(t, held)

	// the cart is still active so the shopper can fix it
	cart, err := s.carts.View(ctx, "sid-2")
	require.NoError(t, err)
	assert.Equal(t, domain.CartActive, cart.Status)
	assert.NotZero(t, cart.ID)

	pending, err := repos.NewOutboxRepo(s.db).Pending(ctx, "local", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, string(events.OrderCancelled), pending[0].EventType)
}

func TestOrderFlow_EmptyCart(t *testing.T) {
	s := memStack(t)
	_, err := s.orders.Place(context.Background(), "nobody", services.Contact{})
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestOrderFlow_CancelReleasesThroughEvent(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "CANCEL", "1.00", 5, 0)
	_, err := s.carts.Add(ctx, "sid-3", v, 4)
	require.NoError(t, err)
	order, err := s.orders.Place(ctx, "sid-3", services.Contact{})
	require.NoError(t, err)
	s.drain(t)
	assert.Equal(t, 1, s.available(t, v))

	got, err := s.orders.Cancel(ctx, order.ID, "Customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, got.Status)
	assert.Equal(t, 1, s.available(t, v), "released by the handler, not inline")

	s.drain(t)
	assert.Equal(t, 5, s.available(t, v))

	_, err = s.orders.Cancel(ctx, order.ID, "again")
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestOrderFlow_PaymentEventFinalizes(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "PAYEV", "1.00", 5, 0)
	_, err := s.carts.Add(ctx, "sid-4", v, 2)
	require.NoError(t, err)
	order, err := s.orders.Place(ctx, "sid-4", services.Contact{})
	require.NoError(t, err)

	ev, err := services.PaymentEvent(true, order.ID, "", "pi_123", "")
	require.NoError(t, err)
	require.NoError(t, s.bus.Dispatch(ctx, ev))
	// redelivery is harmless
	require.NoError(t, s.bus.Dispatch(ctx, ev))

	got, err := s.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Status)
	assert.Equal(t, 3, s.item(t, v).Quantity)

	failed, err := services.PaymentEvent(false, order.ID, "", "pi_124", "card declined")
	require.NoError(t, err)
	require.NoError(t, s.bus.Dispatch(ctx, failed))
	assert.Len(t, s.logs.FilterMessage("payment.failed").All(), 1)
}

func TestOrderFlow_ExpiredReservationCancelsPendingOrder(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "TTL", "1.00", 5, 0)
	_, err := s.carts.Add(ctx, "sid-5", v, 5)
	require.NoError(t, err)
	order, err := s.orders.Place(ctx, "sid-5", services.Contact{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.available(t, v))

	s.clock.Advance(31 * time.Minute)
	srcs, err := s.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Source{services.OrderSource(order.ID)}, srcs)
	assert.Equal(t, 5, s.available(t, v))

	s.drain(t)
	got, err := s.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, got.Status)
	assert.Equal(t, domain.ReasonReservationExpired, got.History[len(got.History)-1].Reason)

	// a late payment cannot resurrect it
	assert.ErrorIs(t, s.orders.ConfirmPayment(ctx, order.ID), domain.ErrIllegalTransition)
	assert.Equal(t, 5, s.item(t, v).Quantity)
}

func TestOrderFlow_PaymentAfterLapseCancels(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "LAPSE", "1.00", 5, 0)
	_, err := s.carts.Add(ctx, "sid-6", v, 1)
	require.NoError(t, err)
	order, err := s.orders.Place(ctx, "sid-6", services.Contact{})
	require.NoError(t, err)

	s.clock.Advance(time.Hour)
	_, err = s.sweeper.SweepOnce(ctx)
	require.NoError(t, err)

	// payment arrives before the expiry event is handled
	assert.ErrorIs(t, s.orders.ConfirmPayment(ctx, order.ID), domain.ErrReservationLapsed)
	got, err := s.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, got.Status)
	assert.Equal(t, 5, s.item(t, v).Quantity)

	s.drain(t)
	got, err = s.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, got.History, 2)
}

func TestOrderFlow_PlacementMovesCartHoldToOrder(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "HOLD", "1.00", 3, 0)
	cart, err := s.carts.Add(ctx, "sid-7", v, 3)
	require.NoError(t, err)

	until := s.clock.Now().Add(30 * time.Minute)
	_, err = s.stock.ReserveStock(ctx, []domain.ReserveItem{{VariantID: v, Quantity: 3}}, services.CartSource(cart.ID), &until)
	require.NoError(t, err)
	assert.Equal(t, 0, s.available(t, v))

	order, err := s.orders.Place(ctx, "sid-7", services.Contact{})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPendingPayment, order.Status)
	assert.Equal(t, 0, s.available(t, v))

	held, err := s.stock.Reservations(ctx, services.CartSource(cart.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, held[0].Status)
}

func TestOrderFlow_RefusedPlacementKeepsCartHold(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "KEEP", "1.00", 4, 0)
	cart, err := s.carts.Add(ctx, "sid-8", v, 4)
	require.NoError(t, err)

	until := s.clock.Now().Add(30 * time.Minute)
	_, err = s.stock.ReserveStock(ctx, []domain.ReserveItem{{VariantID: v, Quantity: 2}}, services.CartSource(cart.ID), &until)
	require.NoError(t, err)
	_, err = s.stock.ReserveStock(ctx, []domain.ReserveItem{{VariantID: v, Quantity: 1}}, services.CartSource(999), &until)
	require.NoError(t, err)

	// 4 wanted, only 3 free once the cart's own 2 are counted back
	order, err := s.orders.Place(ctx, "sid-8", services.Contact{})
	_, short := domain.IsInsufficientStock(err)
	require.True(t, short, "%v", err)
	assert.Equal(t, domain.OrderCancelled, order.Status)

	held, err := s.stock.Reservations(ctx, services.CartSource(cart.ID))
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, domain.ReservationActive, held[0].Status)
	assert.Equal(t, 1, s.available(t, v))

	placed, err := s.stock.Reservations(ctx, services.OrderSource(order.ID))
	require.NoError(t, err)
	assert.Empty(t, placed)
}

func TestOrderFlow_RecordedPaymentSurvivesHandlerFailure(t *testing.T) {
	s := memStack(t)
	ctx := context.Background()
	v := s.variant(t, "DURABLE", "1.00", 5, 0)
	_, err := s.carts.Add(ctx, "sid-9", v, 2)
	require.NoError(t, err)
	order, err := s.orders.Place(ctx, "sid-9", services.Contact{})
	require.NoError(t, err)
	s.drain(t)

	outage := 1
	s.bus.Subscribe(events.PaymentSucceeded, func(ctx context.Context, ev events.Event) error {
		if outage > 0 {
			outage--
			return errors.New("database is locked")
		}
		return nil
	})

	ev, err := services.PaymentEvent(true, order.ID, "evt-pay-9", "pi_9", "")
	require.NoError(t, err)
	require.NoError(t, s.inbox.Publish(ctx, ev))
	// the provider retries the same delivery
	require.NoError(t, s.inbox.Publish(ctx, ev))

	n, err := s.relay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	pending, err := repos.NewOutboxRepo(s.db).Pending(ctx, "local", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1, "kept for the next poll")

	s.drain(t)
	got, err := s.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, got.Status)
	assert.Equal(t, 3, s.item(t, v).Quantity)

	pending, err = repos.NewOutboxRepo(s.db).Pending(ctx, "local", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Len(t, s.logs.FilterMessage("payment.inbox.duplicate").All(), 1)
}

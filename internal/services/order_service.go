package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront/internal/domain"
	"storefront/internal/events"
	"storefront/internal/repos"
)

type Contact struct {
	Name  string
	Email string
}

type OrderService struct {
	DB        *sqlx.DB
	Carts     *repos.CartRepo
	Orders    *repos.OrderRepo
	Catalog   *repos.CatalogRepo
	Outbox    *repos.OutboxRepo
	Inventory *InventoryService
	Pricing   Quoter
	Retry     Retrier
	Log       *zap.Logger
	Now       func() time.Time

	// ReservationTTL bounds how long an unpaid order holds stock.
	ReservationTTL time.Duration
}

func NewOrderService(db *sqlx.DB, carts *repos.CartRepo, orders *repos.OrderRepo, catalog *repos.CatalogRepo,
	outbox *repos.OutboxRepo, inv *InventoryService, pricing Quoter, retry Retrier, log *zap.Logger, ttl time.Duration) *OrderService {
	if pricing == nil {
		pricing = FlatRate{}
	}
	return &OrderService{
		DB: db, Carts: carts, Orders: orders, Catalog: catalog, Outbox: outbox, Inventory: inv,
		Pricing: pricing, Retry: retry, Log: orNop(log), Now: utcNow, ReservationTTL: ttl,
	}
}

// Place turns the session's active cart into a pending_payment order holding
// reservations for every line. When stock cannot be reserved the order is
// kept as cancelled and the returned error is an *InsufficientStockError.
func (s *OrderService) Place(ctx context.Context, sessionID string, contact Contact) (domain.Order, error) {
	var (
		order    domain.Order
		refusal  *domain.InsufficientStockError
		attempts int
	)
	err := s.Retry.Do(ctx, "order.place", func() error {
		attempts++
		refusal = nil
		return repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
			var err error
			order, refusal, err = s.placeTx(ctx, tx, sessionID, contact, s.Now())
			return err
		})
	})
	if err != nil {
		if isDomainError(err) {
			s.Log.Info("order.place.rejected", zap.String("session_id", sessionID), zap.Error(err))
		} else {
			s.Log.Error("order.place.fail", zap.String("session_id", sessionID), zap.Int("attempts", attempts), zap.Error(err))
		}
		return domain.Order{}, err
	}
	if refusal != nil {
		s.Log.Info("order.place.cancelled", zap.Int64("order_id", order.ID), zap.Error(refusal))
		return order, fmt.Errorf("order %s: %w", order.Number, refusal)
	}
	s.Log.Info("order.place", zap.Int64("order_id", order.ID), zap.String("number", order.Number),
		zap.String("total", order.Total.StringFixed(2)))
	return order, nil
}

// placeTx returns a non-nil refusal with a nil error when the order was
// cancelled for lack of stock; that outcome is committed.
func (s *OrderService) placeTx(ctx context.Context, tx *sqlx.Tx, sessionID string, contact Contact, now time.Time) (domain.Order, *domain.InsufficientStockError, error) {
	cart, err := s.Carts.ActiveBySession(ctx, tx, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, nil, domain.ErrEmptyCart
	}
	if err != nil {
		return domain.Order{}, nil, err
	}
	items, err := s.Carts.Items(ctx, tx, cart.ID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	if len(items) == 0 {
		return domain.Order{}, nil, domain.ErrEmptyCart
	}

	order := domain.Order{
		Number:        newOrderNumber(now),
		CartID:        &cart.ID,
		SessionID:     sessionID,
		CustomerName:  strings.TrimSpace(contact.Name),
		CustomerEmail: strings.TrimSpace(contact.Email),
		Status:        domain.OrderPendingPayment,
		Currency:      cart.Currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	subtotal, discount := decimal.Zero, decimal.Zero
	reserve := make([]domain.ReserveItem, 0, len(items))
	for _, it := range items {
		v, err := s.Catalog.Variant(ctx, tx, it.VariantID)
		if err != nil {
			return domain.Order{}, nil, fmt.Errorf("variant %d: %w", it.VariantID, err)
		}
		line := domain.OrderLine{
			VariantID:   it.VariantID,
			ProductName: v.ProductName,
			SKU:         v.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Currency:    it.Currency,
			Discount:    it.Discount,
			LineTotal:   decimal.Max(decimal.Zero, it.Subtotal().Sub(it.Discount)),
		}
		subtotal = subtotal.Add(it.Subtotal())
		discount = discount.Add(it.Discount)
		order.Lines = append(order.Lines, line)
		reserve = append(reserve, domain.ReserveItem{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	net := decimal.Max(decimal.Zero, subtotal.Sub(discount))
	quote, err := s.Pricing.Quote(ctx, order.Currency, order.Lines, net)
	if err != nil {
		return domain.Order{}, nil, err
	}
	order.Subtotal, order.Discount = subtotal, discount
	order.Shipping, order.Tax = quote.Shipping, quote.Tax
	order.Total = domain.Totals(subtotal, discount, quote.Shipping, quote.Tax)

	if err := s.Orders.Create(ctx, tx, &order); err != nil {
		return domain.Order{}, nil, err
	}
	for i := range order.Lines {
		order.Lines[i].OrderID = order.ID
		if err := s.Orders.InsertLine(ctx, tx, &order.Lines[i]); err != nil {
			return domain.Order{}, nil, err
		}
	}
	placed := domain.StatusChange{OrderID: order.ID, To: domain.OrderPendingPayment, Reason: domain.ReasonOrderPlaced, CreatedAt: now}
	if err := s.Orders.AppendHistory(ctx, tx, &placed); err != nil {
		return domain.Order{}, nil, err
	}
	order.History = append(order.History, placed)

	// stock the cart was holding moves to the order; a refusal puts it back
	expires := now.Add(s.ReservationTTL)
	err = repos.Savepoint(ctx, tx, "order_reserve", func() error {
		if _, err := s.Inventory.Store.ReleaseBySource(ctx, tx, CartSource(cart.ID), now); err != nil {
			return err
		}
		_, err := s.Inventory.ReserveInTx(ctx, tx, reserve, OrderSource(order.ID), &expires, now)
		return err
	})
	if ise, short := domain.IsInsufficientStock(err); short {
		if err := s.transition(ctx, tx, &order, domain.OrderCancelled, domain.ReasonReservationFailed, now); err != nil {
			return domain.Order{}, nil, err
		}
		if err := raise(ctx, tx, s.Outbox, events.OrderCancelled, order.ID,
			events.OrderPayload{OrderID: order.ID, Number: order.Number, Reason: domain.ReasonReservationFailed}, now); err != nil {
			return domain.Order{}, nil, err
		}
		return order, ise, nil
	}
	if err != nil {
		return domain.Order{}, nil, err
	}

	if err := s.Carts.MarkConverted(ctx, tx, cart.ID, now); err != nil {
		return domain.Order{}, nil, err
	}
	if err := raise(ctx, tx, s.Outbox, events.OrderPlaced, order.ID,
		events.OrderPayload{OrderID: order.ID, Number: order.Number}, now); err != nil {
		return domain.Order{}, nil, err
	}
	return order, nil, nil
}

// Cancel moves an order to cancelled. Its reservations are released by the
// OrderCancelled handler.
func (s *OrderService) Cancel(ctx context.Context, orderID int64, reason string) (domain.Order, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Cancelled"
	}
	err := s.Retry.Do(ctx, "order.cancel", func() error {
		return repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
			now := s.Now()
			o, err := s.Orders.Lock(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if err := s.transition(ctx, tx, &o, domain.OrderCancelled, reason, now); err != nil {
				return err
			}
			return raise(ctx, tx, s.Outbox, events.OrderCancelled, o.ID,
				events.OrderPayload{OrderID: o.ID, Number: o.Number, Reason: reason}, now)
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.Log.Info("order.cancel", zap.Int64("order_id", orderID), zap.String("reason", reason))
	return s.Get(ctx, orderID)
}

// ConfirmPayment consumes the order's reservations and marks it paid, in one
// transaction. A repeated confirmation of a paid order is a no-op. When the
// reservations already lapsed the order is cancelled instead and
// domain.ErrReservationLapsed is returned so the payment can be refunded.
func (s *OrderService) ConfirmPayment(ctx context.Context, orderID int64) error {
	var lapsed bool
	err := s.Retry.Do(ctx, "order.pay", func() error {
		lapsed = false
		return repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
			now := s.Now()
			o, err := s.Orders.Lock(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if o.Status == domain.OrderPaid {
				return nil
			}
			if !o.Status.CanTransition(domain.OrderPaid) {
				return &domain.TransitionError{OrderID: o.ID, From: o.Status, To: domain.OrderPaid}
			}
			consumed, err := s.Inventory.FinalizeInTx(ctx, tx, o.ID, now)
			if err != nil {
				return err
			}
			if len(consumed) == 0 {
				lapsed = true
				if err := s.transition(ctx, tx, &o, domain.OrderCancelled, domain.ReasonReservationExpired, now); err != nil {
					return err
				}
				return raise(ctx, tx, s.Outbox, events.OrderCancelled, o.ID,
					events.OrderPayload{OrderID: o.ID, Number: o.Number, Reason: domain.ReasonReservationExpired}, now)
			}
			return s.transition(ctx, tx, &o, domain.OrderPaid, domain.ReasonPaymentSucceeded, now)
		})
	})
	if err != nil {
		return err
	}
	if lapsed {
		s.Log.Error("order.pay.lapsed", zap.Int64("order_id", orderID), zap.Error(domain.ErrReservationLapsed))
		return domain.ErrReservationLapsed
	}
	s.Log.Info("order.pay", zap.Int64("order_id", orderID))
	return nil
}

// ExpireOrder cancels a pending order whose reservations were swept. Orders
// that already moved on are left alone.
func (s *OrderService) ExpireOrder(ctx context.Context, orderID int64) error {
	var expired bool
	err := s.Retry.Do(ctx, "order.expire", func() error {
		expired = false
		return repos.InTx(ctx, s.DB, func(tx *sqlx.Tx) error {
			now := s.Now()
			o, err := s.Orders.Lock(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if o.Status != domain.OrderPendingPayment {
				return nil
			}
			if err := s.transition(ctx, tx, &o, domain.OrderCancelled, domain.ReasonReservationExpired, now); err != nil {
				return err
			}
			expired = true
			return raise(ctx, tx, s.Outbox, events.OrderCancelled, o.ID,
				events.OrderPayload{OrderID: o.ID, Number: o.Number, Reason: domain.ReasonReservationExpired}, now)
		})
	})
	if err == nil && expired {
		s.Log.Info("order.expire", zap.Int64("order_id", orderID))
	}
	return err
}

func (s *OrderService) Get(ctx context.Context, orderID int64) (domain.Order, error) {
	return s.Orders.Get(ctx, orderID)
}

func (s *OrderService) List(ctx context.Context, limit int) ([]repos.OrderSummary, error) {
	return s.Orders.ListLatest(ctx, limit)
}

// transition is the only place an order status changes; it always appends
// a history row in the same transaction.
func (s *OrderService) transition(ctx context.Context, tx *sqlx.Tx, o *domain.Order, to domain.OrderStatus, reason string, now time.Time) error {
	if !o.Status.CanTransition(to) {
		return &domain.TransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	from := o.Status
	if err := s.Orders.UpdateStatus(ctx, tx, o.ID, to, now); err != nil {
		return err
	}
	h := domain.StatusChange{OrderID: o.ID, From: &from, To: to, Reason: reason, CreatedAt: now}
	if err := s.Orders.AppendHistory(ctx, tx, &h); err != nil {
		return err
	}
	o.Status, o.UpdatedAt = to, now
	o.History = append(o.History, h)
	return nil
}

func newOrderNumber(now time.Time) string {
	return fmt.Sprintf("SF-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

package services

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"storefront/internal/events"
	"storefront/internal/repos"
)

// PaymentInbox stores payment outcomes in the outbox before they are
// acknowledged to the provider. The local relay then hands them to the bus
// until the handlers succeed, so a crash or a failing handler never loses a
// payment.
type PaymentInbox struct {
	DB     *sqlx.DB
	Outbox *repos.OutboxRepo
	Log    *zap.Logger
}

func NewPaymentInbox(db *sqlx.DB, outbox *repos.OutboxRepo, log *zap.Logger) *PaymentInbox {
	return &PaymentInbox{DB: db, Outbox: outbox, Log: orNop(log)}
}

// Publish records ev. A provider retry carrying an event id that is already
// stored is accepted without a second row.
func (p *PaymentInbox) Publish(ctx context.Context, ev events.Event) error {
	if ev.Type != events.PaymentSucceeded && ev.Type != events.PaymentFailed {
		return fmt.Errorf("payment inbox: unexpected event type %q", ev.Type)
	}
	row := events.ToOutbox(ev)
	err := repos.InTx(ctx, p.DB, func(tx *sqlx.Tx) error {
		return p.Outbox.Insert(ctx, tx, &row)
	})
	if repos.IsDuplicate(err) {
		p.Log.Info("payment.inbox.duplicate", zap.String("event_id", ev.ID), zap.String("order_id", ev.AggregateID))
		return nil
	}
	if err != nil {
		return err
	}
	p.Log.Info("payment.inbox.recorded", zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)), zap.String("order_id", ev.AggregateID))
	return nil
}

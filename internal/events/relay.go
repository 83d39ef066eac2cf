package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storefront/internal/repos"
)

// Relay moves outbox rows to one publisher. Each sink keeps its own delivery
// marks, so a sink that is down holds back only itself. A row is marked only
// after the publisher accepted it; delivery is at least once.
type Relay struct {
	Outbox    *repos.OutboxRepo
	Sink      string
	Publisher Publisher
	// Accept limits the event types this sink wants; nil takes all.
	// Rejected rows are marked without publishing.
	Accept   func(Type) bool
	Interval time.Duration
	Batch    int
	Log      *zap.Logger
	Now      func() time.Time
}

func NewRelay(outbox *repos.OutboxRepo, sink string, pub Publisher, interval time.Duration, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		Outbox:    outbox,
		Sink:      sink,
		Publisher: pub,
		Interval:  interval,
		Batch:     100,
		Log:       log.With(zap.String("sink", sink)),
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if _, err := r.PollOnce(ctx); err != nil && ctx.Err() == nil {
				r.Log.Error("outbox.poll.fail", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// PollOnce relays one batch in id order and stops at the first row that
// cannot be published, so later events never overtake it.
func (r *Relay) PollOnce(ctx context.Context) (int, error) {
	rows, err := r.Outbox.Pending(ctx, r.Sink, r.Batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, row := range rows {
		ev := FromOutbox(row)
		if r.Accept == nil || r.Accept(ev.Type) {
			if err := r.Publisher.Publish(ctx, ev); err != nil {
				r.Log.Warn("outbox.publish.fail", zap.Error(err),
					zap.String("event_id", ev.ID), zap.String("event_type", string(ev.Type)))
				return sent, nil
			}
		}
		if err := r.Outbox.MarkDelivered(ctx, r.Sink, row.ID, r.Now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

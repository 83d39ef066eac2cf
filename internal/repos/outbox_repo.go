package repos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// OutboxEvent is a stored integration event waiting to be relayed.
type OutboxEvent struct {
	ID          int64     `db:"id"`
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	AggregateID string    `db:"aggregate_id"`
	Payload     string    `db:"payload"`
	CreatedAt   time.Time `db:"created_at"`
}

type OutboxRepo struct{ db *sqlx.DB }

func NewOutboxRepo(db *sqlx.DB) *OutboxRepo { return &OutboxRepo{db: db} }

// Insert must run in the same transaction as the state change it announces.
// A repeated event id fails with a unique violation; see IsDuplicate.
func (r *OutboxRepo) Insert(ctx context.Context, q sqlx.ExtContext, ev *OutboxEvent) error {
	return sqlx.GetContext(ctx, q, &ev.ID, q.Rebind(`
		INSERT INTO outbox_events(event_id, event_type, aggregate_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), ev.EventID, ev.EventType, ev.AggregateID, ev.Payload, ev.CreatedAt)
}

// Pending returns the oldest events not yet delivered to sink.
func (r *OutboxRepo) Pending(ctx context.Context, sink string, limit int) ([]OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	out := []OutboxEvent{}
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT e.id, e.event_id, e.event_type, e.aggregate_id, e.payload, e.created_at
		FROM outbox_events e
		WHERE NOT EXISTS (
			SELECT 1 FROM outbox_deliveries d WHERE d.outbox_id = e.id AND d.sink = ?
		)
		ORDER BY e.id
		LIMIT ?
	`), sink, limit)
	return out, err
}

// MarkDelivered records that sink has the event. Marking twice is a no-op.
func (r *OutboxRepo) MarkDelivered(ctx context.Context, sink string, id int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO outbox_deliveries(outbox_id, sink, delivered_at) VALUES (?, ?, ?)
		ON CONFLICT (outbox_id, sink) DO NOTHING
	`), id, sink, now)
	return err
}

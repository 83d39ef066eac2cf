package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront/internal/events"
	"storefront/internal/repos"
)

// raise records an event in the caller's transaction. It becomes visible to
// the relay only if the transaction commits.
func raise(ctx context.Context, tx *sqlx.Tx, outbox *repos.OutboxRepo, t events.Type, aggregateID any, payload any, now time.Time) error {
	ev, err := events.New(t, fmt.Sprint(aggregateID), payload, now)
	if err != nil {
		return err
	}
	row := events.ToOutbox(ev)
	return outbox.Insert(ctx, tx, &row)
}

package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/events"
	"storefront/internal/repos"
)

type recorder struct {
	got    []events.Event
	failOn map[string]int // aggregate id -> remaining failures
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	if r.failOn[ev.AggregateID] > 0 {
		r.failOn[ev.AggregateID]--
		return errors.New("broker unavailable")
	}
	r.got = append(r.got, ev)
	return nil
}

func aggregates(evs []events.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.AggregateID)
	}
	return out
}

func TestRelay_StopsAtFirstFailureAndKeepsOrder(t *testing.T) {
	db, err := repos.OpenDB("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	outbox := repos.NewOutboxRepo(db)

	for _, id := range []string{"1", "2", "3"} {
		row := events.ToOutbox(mustEvent(t, events.OrderPlaced, id, events.OrderPayload{Number: "SF-" + id}))
		require.NoError(t, outbox.Insert(ctx, db, &row))
	}

	rec := &recorder{failOn: map[string]int{"2": 1}}
	relay := events.NewRelay(outbox, "local", rec, time.Second, nil)

	n, err := relay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, err := outbox.Pending(ctx, "local", 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	n, err = relay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"1", "2", "3"}, aggregates(rec.got))

	var p events.OrderPayload
	require.NoError(t, rec.got[2].Decode(&p))
	assert.Equal(t, "SF-3", p.Number)

	n, err = relay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_FailingSinkDoesNotHoldBackOthers(t *testing.T) {
	db, err := repos.OpenDB("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	outbox := repos.NewOutboxRepo(db)

	for _, id := range []string{"8", "9"} {
		row := events.ToOutbox(mustEvent(t, events.OrderCancelled, id, events.OrderPayload{OrderID: 9}))
		require.NoError(t, outbox.Insert(ctx, db, &row))
	}

	local := &recorder{}
	broker := &recorder{failOn: map[string]int{"8": 2}}
	localRelay := events.NewRelay(outbox, "local", local, time.Second, nil)
	brokerRelay := events.NewRelay(outbox, "kafka", broker, time.Second, nil)

	n, err := brokerRelay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = localRelay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// the broker is still down; the local sink is done and sees nothing twice
	n, err = brokerRelay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = localRelay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"8", "9"}, aggregates(local.got))

	n, err = brokerRelay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"8", "9"}, aggregates(broker.got))
	assert.Equal(t, local.got[0].ID, broker.got[0].ID)

	for _, sink := range []string{"local", "kafka"} {
		pending, err := outbox.Pending(ctx, sink, 10)
		require.NoError(t, err)
		assert.Empty(t, pending, sink)
	}
}

func TestRelay_AcceptSkipsOtherTypes(t *testing.T) {
	db, err := repos.OpenDB("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	outbox := repos.NewOutboxRepo(db)

	rec := &recorder{}
	relay := events.NewRelay(outbox, "kafka", rec, time.Second, nil)
	relay.Accept = func(typ events.Type) bool { return typ == events.OrderPlaced }

	for _, ev := range []events.Event{
		mustEvent(t, events.PaymentSucceeded, "1", events.PaymentPayload{OrderID: 1}),
		mustEvent(t, events.OrderPlaced, "2", events.OrderPayload{OrderID: 2}),
	} {
		row := events.ToOutbox(ev)
		require.NoError(t, outbox.Insert(ctx, db, &row))
	}

	n, err := relay.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"2"}, aggregates(rec.got))
}

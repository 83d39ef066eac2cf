package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/events"
)

type fakeWriter struct {
	msgs  []kafka.Message
	err   error
	calls int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_KeysByAggregate(t *testing.T) {
	w := &fakeWriter{}
	p := events.NewKafkaPublisher(w, nil)
	ev := mustEvent(t, events.OrderPlaced, "42", events.OrderPayload{OrderID: 42, Number: "SF-1"})

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "42", string(m.Key))
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "event_type", m.Headers[0].Key)
	assert.Equal(t, "OrderPlaced", string(m.Headers[0].Value))

	var back events.Event
	require.NoError(t, json.Unmarshal(m.Value, &back))
	assert.Equal(t, ev.ID, back.ID)
	assert.JSONEq(t, string(ev.Payload), string(back.Payload))
}

func TestKafkaPublisher_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	w := &fakeWriter{err: errors.New("dial tcp: connection refused")}
	p := events.NewKafkaPublisher(w, nil)
	ev := mustEvent(t, events.OrderPlaced, "1", nil)

	for i := 0; i < 5; i++ {
		assert.Error(t, p.Publish(context.Background(), ev))
	}
	assert.Equal(t, 5, w.calls)

	err := p.Publish(context.Background(), ev)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 5, w.calls, "open breaker does not touch the broker")
}

func TestDecodePayment(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev, err := events.DecodePayment([]byte(`{"event_id":"evt-1","event_type":"PaymentSucceeded","order_id":7,"reference":"pi_7"}`), now)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, events.PaymentSucceeded, ev.Type)
	assert.Equal(t, "7", ev.AggregateID)
	var p events.PaymentPayload
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, int64(7), p.OrderID)
	assert.Equal(t, "pi_7", p.Reference)

	ev, err = events.DecodePayment([]byte(`{"event_type":"PaymentFailed","order_id":8,"message":"declined"}`), now)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)

	for _, bad := range []string{
		`not json`,
		`{"event_type":"OrderPlaced","order_id":1}`,
		`{"event_type":"PaymentSucceeded"}`,
	} {
		_, err := events.DecodePayment([]byte(bad), now)
		assert.Error(t, err, bad)
	}
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	select {
	case r.drained <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type onceFailing struct {
	mu     sync.Mutex
	got    []events.Event
	failed bool
	always bool
}

func (p *onceFailing) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.AggregateID == "3" && (p.always || !p.failed) {
		p.failed = true
		return errors.New("database is locked")
	}
	p.got = append(p.got, ev)
	return nil
}

func runConsumer(t *testing.T, r *fakeReader, c *events.PaymentConsumer, until <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-until:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not reach the expected point")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestPaymentConsumer_CommitsAfterRecord(t *testing.T) {
	r := &fakeReader{
		queue: []kafka.Message{
			{Offset: 1, Value: []byte(`{"event_type":"PaymentSucceeded","order_id":1}`)},
			{Offset: 2, Value: []byte(`garbage`)},
			{Offset: 3, Value: []byte(`{"event_type":"PaymentFailed","order_id":3}`)},
		},
		drained: make(chan struct{}, 1),
	}
	out := &onceFailing{}
	c := events.NewPaymentConsumer(r, out, nil)
	c.Initial = time.Millisecond
	runConsumer(t, r, c, r.drained)

	out.mu.Lock()
	defer out.mu.Unlock()
	require.Len(t, out.got, 2)
	assert.Equal(t, events.PaymentSucceeded, out.got[0].Type)
	assert.Equal(t, events.PaymentFailed, out.got[1].Type)

	r.mu.Lock()
	defer r.mu.Unlock()
	// the undecodable message is skipped and committed; the failed record was retried
	assert.Equal(t, []int64{1, 2, 3}, r.committed)
}

func TestPaymentConsumer_LeavesUnrecordedMessageUncommitted(t *testing.T) {
	r := &fakeReader{
		queue: []kafka.Message{
			{Offset: 1, Value: []byte(`{"event_type":"PaymentSucceeded","order_id":1}`)},
			{Offset: 2, Value: []byte(`{"event_type":"PaymentSucceeded","order_id":3}`)},
		},
		drained: make(chan struct{}, 1),
	}
	out := &onceFailing{always: true}
	c := events.NewPaymentConsumer(r, out, nil)
	c.Initial = time.Millisecond

	failing := make(chan struct{})
	go func() {
		for {
			out.mu.Lock()
			f := out.failed
			out.mu.Unlock()
			if f {
				close(failing)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	runConsumer(t, r, c, failing)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []int64{1}, r.committed)
}

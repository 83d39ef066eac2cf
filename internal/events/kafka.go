package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic, keyed by aggregate id so all
// events of an order land on the same partition. A circuit breaker stops the
// relay from hammering a broker that is down.
type KafkaPublisher struct {
	w  MessageWriter
	cb *gobreaker.CircuitBreaker[struct{}]
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(w MessageWriter, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-publisher",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("kafka.breaker.state", zap.String("name", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &KafkaPublisher{w: w, cb: cb}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.w.WriteMessages(ctx, msg)
	})
	return err
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6,
	})
}

// PaymentConsumer records payment-provider messages through out, normally
// the durable payment inbox. A message is committed only after out accepted
// it; until then the same message is retried with backoff.
type PaymentConsumer struct {
	r   MessageReader
	out Publisher
	log *zap.Logger

	// Initial is the first retry wait after out fails.
	Initial time.Duration
}

func NewPaymentConsumer(r MessageReader, out Publisher, log *zap.Logger) *PaymentConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentConsumer{r: r, out: out, log: log, Initial: 500 * time.Millisecond}
}

// paymentMessage is the wire shape the payment collaborator produces.
type paymentMessage struct {
	EventID   string `json:"event_id"`
	Type      Type   `json:"event_type"`
	OrderID   int64  `json:"order_id"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

func (c *PaymentConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Error("payments.consume.fetch", zap.Error(err))
			continue
		}
		ev, err := DecodePayment(m.Value, time.Now().UTC())
		if err != nil {
			c.log.Warn("payments.consume.skip", zap.Error(err), zap.Int64("offset", m.Offset))
		} else if err := c.record(ctx, ev, m.Offset); err != nil {
			// only a cancelled context gets here; the message stays uncommitted
			return nil
		}
		if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Error("payments.consume.commit", zap.Error(err))
		}
	}
}

func (c *PaymentConsumer) record(ctx context.Context, ev Event, offset int64) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.Initial
	exp.MaxElapsedTime = 0
	return backoff.RetryNotify(func() error { return c.out.Publish(ctx, ev) },
		backoff.WithContext(exp, ctx),
		func(err error, wait time.Duration) {
			c.log.Error("payments.consume.record", zap.Error(err),
				zap.Int64("offset", offset), zap.Duration("wait", wait))
		})
}

func (c *PaymentConsumer) Close() error { return c.r.Close() }

// DecodePayment validates a payment message and converts it into an event.
func DecodePayment(b []byte, now time.Time) (Event, error) {
	var pm paymentMessage
	if err := json.Unmarshal(b, &pm); err != nil {
		return Event{}, fmt.Errorf("decode payment message: %w", err)
	}
	if pm.Type != PaymentSucceeded && pm.Type != PaymentFailed {
		return Event{}, fmt.Errorf("unexpected payment event type %q", pm.Type)
	}
	if pm.OrderID <= 0 {
		return Event{}, errors.New("payment message without order_id")
	}
	ev, err := New(pm.Type, fmt.Sprint(pm.OrderID), PaymentPayload{
		OrderID:   pm.OrderID,
		Reference: pm.Reference,
		Message:   pm.Message,
	}, now)
	if err != nil {
		return Event{}, err
	}
	if pm.EventID != "" {
		ev.ID = pm.EventID
	}
	return ev, nil
}

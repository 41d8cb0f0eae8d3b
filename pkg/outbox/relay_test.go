package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	batches  [][]Event
	sent     []int64
	failed   map[int64]string
	extended [][]int64
}

func (s *fakeStore) LockBatch(context.Context, string, int, time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

func (s *fakeStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[int64]string{}
	}
	s.failed[id] = msg
	return nil
}

func (s *fakeStore) ExtendLease(_ context.Context, _ string, ids []int64, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extended = append(s.extended, ids)
	return nil
}

func (s *fakeStore) sentIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.sent...)
}

type fakeProducer struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	failOn string
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if string(m.Key) == p.failOn {
			return errors.New("broker unavailable")
		}
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func header(m kafka.Message, key string) []string {
	var out []string
	for _, h := range m.Headers {
		if h.Key == key {
			out = append(out, string(h.Value))
		}
	}
	return out
}

func TestDispatchHeaders(t *testing.T) {
	producer := &fakeProducer{}
	d := NewDispatcher(discard(), producer, "payment.events")

	err := d.Dispatch(context.Background(), Event{
		ID:          1,
		AggregateID: "mpesa_1",
		Type:        "PaymentStatusChanged",
		Payload:     []byte(`{"paymentId":"mpesa_1"}`),
		Headers:     map[string]string{"traceparent": "00-abc-def-01"},
		Traceparent: "00-abc-def-01",
	})
	require.NoError(t, err)
	require.Len(t, producer.msgs, 1)

	msg := producer.msgs[0]
	assert.Equal(t, "payment.events", msg.Topic)
	assert.Equal(t, "mpesa_1", string(msg.Key))
	assert.Equal(t, []string{"PaymentStatusChanged"}, header(msg, EventTypeHeader))
	assert.Equal(t, []string{"00-abc-def-01"}, header(msg, "traceparent"))
}

func TestDrainMarksSentAndFailed(t *testing.T) {
	store := &fakeStore{batches: [][]Event{{
		{ID: 1, AggregateID: "card_1", Type: "PaymentStatusChanged"},
		{ID: 2, AggregateID: "card_2", Type: "PaymentStatusChanged"},
		{ID: 3, AggregateID: "card_3", Type: "PaymentStatusChanged"},
	}}}
	producer := &fakeProducer{failOn: "card_2"}
	r := NewRelay(discard(), store, NewDispatcher(discard(), producer, "payment.events"), "relay-1")

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 3}, store.sentIDs())
	assert.Equal(t, "broker unavailable", store.failed[2])

	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainExtendsLease(t *testing.T) {
	store := &fakeStore{batches: [][]Event{{{ID: 1, AggregateID: "a"}, {ID: 2, AggregateID: "b"}}}}
	r := NewRelay(discard(), store, NewDispatcher(discard(), &fakeProducer{}, "t"), "relay-1", WithLease(time.Second))
	clock := time.Unix(0, 0)
	r.now = func() time.Time {
		clock = clock.Add(400 * time.Millisecond)
		return clock
	}

	_, err := r.Drain(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, store.extended)
	assert.Equal(t, []int64{2}, store.extended[0])
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	store := &fakeStore{batches: [][]Event{{{ID: 7, AggregateID: "eft_7"}}}}
	r := NewRelay(discard(), store, NewDispatcher(discard(), &fakeProducer{}, "t"), "relay-1", WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(store.sentIDs()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

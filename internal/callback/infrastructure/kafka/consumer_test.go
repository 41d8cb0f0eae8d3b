package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/dmehra2102/payment-aggregator/pkg/outbox"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type memClaims struct {
	keys     map[string]bool
	released []string
	err      error
}

func (m *memClaims) Key(paymentID, status string) string { return paymentID + ":" + status }

func (m *memClaims) Seen(_ context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.keys[key] {
		return true, nil
	}
	m.keys[key] = true
	return false, nil
}

func (m *memClaims) Release(_ context.Context, key string) error {
	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

// recordingNotifier fails the first failFirst calls (every call when
// failFirst is negative) and runs onFail after each failure.
type recordingNotifier struct {
	delivered []string
	calls     int
	failFirst int
	onFail    func()
}

func (n *recordingNotifier) Deliver(_ context.Context, e domain.PaymentStatusChanged) error {
	n.calls++
	if n.failFirst < 0 || n.calls <= n.failFirst {
		if n.onFail != nil {
			n.onFail()
		}
		return errors.New("merchant down")
	}
	n.delivered = append(n.delivered, e.PaymentID+":"+string(e.Status))
	return nil
}

func message(t *testing.T, offset int64, e domain.PaymentStatusChanged) kafka.Message {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{
		Offset:  offset,
		Key:     []byte(e.PaymentID),
		Value:   b,
		Headers: []kafka.Header{{Key: outbox.EventTypeHeader, Value: []byte(domain.EventPaymentStatusChanged)}},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunDeliversOncePerStatus(t *testing.T) {
	settled := domain.PaymentStatusChanged{PaymentID: "mpesa_1", Status: domain.StatusSuccess, CallbackURL: "http://merchant/hook"}
	noHook := domain.PaymentStatusChanged{PaymentID: "card_2", Status: domain.StatusSuccess}
	reader := &fakeReader{msgs: []kafka.Message{
		message(t, 1, settled),
		message(t, 2, settled),
		message(t, 3, noHook),
		{Offset: 4, Value: []byte("garbage")},
	}}
	notifier := &recordingNotifier{}
	c := NewConsumer(discard(), reader, notifier, &memClaims{keys: map[string]bool{}})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"mpesa_1:success"}, notifier.delivered)
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	assert.True(t, reader.closed)
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	event := domain.PaymentStatusChanged{PaymentID: "eft_1", Status: domain.StatusFailed, CallbackURL: "http://merchant/hook"}
	reader := &fakeReader{msgs: []kafka.Message{message(t, 9, event)}}
	notifier := &recordingNotifier{failFirst: 2}
	claims := &memClaims{keys: map[string]bool{}}
	c := NewConsumer(discard(), reader, notifier, claims, WithRetry(3, time.Millisecond))

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 3, notifier.calls)
	assert.Equal(t, []string{"eft_1:failed"}, notifier.delivered)
	assert.Equal(t, []int64{9}, reader.committed)
	assert.Empty(t, claims.released)
}

func TestExhaustedDeliveryIsCommitted(t *testing.T) {
	event := domain.PaymentStatusChanged{PaymentID: "eft_1", Status: domain.StatusFailed, CallbackURL: "http://merchant/hook"}
	reader := &fakeReader{msgs: []kafka.Message{message(t, 9, event), message(t, 10, event)}}
	notifier := &recordingNotifier{failFirst: -1}
	claims := &memClaims{keys: map[string]bool{}}
	c := NewConsumer(discard(), reader, notifier, claims, WithRetry(3, time.Millisecond))

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 3, notifier.calls, "the replay at offset 10 is a duplicate")
	assert.Empty(t, notifier.delivered)
	assert.Equal(t, []int64{9, 10}, reader.committed)
}

func TestShutdownMidRetryReleasesClaimWithoutCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	event := domain.PaymentStatusChanged{PaymentID: "eft_1", Status: domain.StatusSuccess, CallbackURL: "http://merchant/hook"}
	reader := &fakeReader{msgs: []kafka.Message{message(t, 4, event)}}
	notifier := &recordingNotifier{failFirst: -1, onFail: cancel}
	claims := &memClaims{keys: map[string]bool{}}
	c := NewConsumer(discard(), reader, notifier, claims, WithRetry(5, time.Hour))

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, 1, notifier.calls)
	assert.Empty(t, reader.committed)
	assert.Equal(t, []string{"eft_1:success"}, claims.released)
	assert.Empty(t, claims.keys)
}

func TestClaimErrorStopsWithoutCommit(t *testing.T) {
	event := domain.PaymentStatusChanged{PaymentID: "eft_1", Status: domain.StatusSuccess, CallbackURL: "http://merchant/hook"}
	reader := &fakeReader{msgs: []kafka.Message{message(t, 1, event), message(t, 2, event)}}
	claims := &memClaims{keys: map[string]bool{}, err: errors.New("redis down")}
	notifier := &recordingNotifier{}
	c := NewConsumer(discard(), reader, notifier, claims)

	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "offset 1 left uncommitted")
	assert.ErrorContains(t, err, "redis down")
	assert.Empty(t, notifier.delivered)
	assert.Empty(t, reader.committed)
	assert.Len(t, reader.msgs, 1, "nothing past the failed offset is fetched")
	assert.True(t, reader.closed)
}

func TestOtherEventTypesAreSkipped(t *testing.T) {
	notifier := &recordingNotifier{}
	c := NewConsumer(discard(), &fakeReader{}, notifier, &memClaims{keys: map[string]bool{}})

	msg := message(t, 1, domain.PaymentStatusChanged{PaymentID: "x", Status: domain.StatusSuccess, CallbackURL: "http://m"})
	msg.Headers = []kafka.Header{{Key: outbox.EventTypeHeader, Value: []byte("SomethingElse")}}
	assert.NoError(t, c.handle(context.Background(), msg))
	assert.Empty(t, notifier.delivered)
}

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
	mu        sync.Mutex
	batch     []Event
	sent      []int64
	failed    map[int64]string
	lockErr   error
	batchSize int
	lease     time.Duration
}

func (f *fakeStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchSize, f.lease = batchSize, lease
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	out := f.batch
	f.batch = nil
	return out, nil
}

func (f *fakeStore) MarkSent(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ids...)
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[int64]string{}
	}
	f.failed[id] = errMsg
	return nil
}

func (f *fakeStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	return nil
}

type fakeProducer struct {
	msgs   []kafka.Message
	failOn string
}

func (p *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if string(m.Key) == p.failOn {
			return errors.New("broker unavailable")
		}
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRelay_TickPublishesAndMarks(t *testing.T) {
	store := &fakeStore{batch: []Event{
		{ID: 1, AggregateID: "42", Type: "BalanceCredited", Payload: []byte(`{}`), Traceparent: "00-abc-def-01", Headers: map[string]string{"source": "test"}},
		{ID: 2, AggregateID: "bad", Type: "BalanceCredited", Payload: []byte(`{}`)},
		{ID: 3, AggregateID: "7", Type: "BalanceCredited", Payload: []byte(`{}`)},
	}}
	prod := &fakeProducer{failOn: "bad"}
	var results []string
	relay := NewRelay(discard(), store, NewDispatcher(discard(), prod, "balance.events"), "r1",
		WithObserver(func(r string) { results = append(results, r) }))

	require.NoError(t, relay.Tick(context.Background()))

	assert.Equal(t, []int64{1, 3}, store.sent)
	assert.Contains(t, store.failed[2], "broker unavailable")
	assert.Equal(t, []string{"sent", "failed", "sent"}, results)

	require.Len(t, prod.msgs, 2)
	msg := prod.msgs[0]
	assert.Equal(t, "balance.events", msg.Topic)
	assert.Equal(t, "42", string(msg.Key))
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "BalanceCredited", headers["event_type"])
	assert.Equal(t, "00-abc-def-01", headers["traceparent"])
	assert.Equal(t, "test", headers["source"])
}

func TestRelay_OptionsReachStore(t *testing.T) {
	lastErr := "broker unavailable"
	store := &fakeStore{batch: []Event{
		{ID: 9, AggregateID: "42", Type: "BalanceCredited", Payload: []byte(`{}`), Status: StatusInProgress, RetryCount: 2, LastError: &lastErr},
	}}
	relay := NewRelay(discard(), store, NewDispatcher(discard(), &fakeProducer{}, "t"), "r1",
		WithBatchSize(25), WithLease(time.Minute))

	require.NoError(t, relay.Tick(context.Background()))
	assert.Equal(t, 25, store.batchSize)
	assert.Equal(t, time.Minute, store.lease)
	assert.Equal(t, []int64{9}, store.sent, "a previously failed event is sent again")
}

func TestRelay_TickLockError(t *testing.T) {
	store := &fakeStore{lockErr: errors.New("db down")}
	relay := NewRelay(discard(), store, NewDispatcher(discard(), &fakeProducer{}, "t"), "r1")
	assert.Error(t, relay.Tick(context.Background()))
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	relay := NewRelay(discard(), store, NewDispatcher(discard(), &fakeProducer{}, "t"), "r1", WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/wallet-ledger/internal/domain"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func sampleEvent(status domain.TransactionStatus) domain.TransactionEvent {
	return domain.TransactionEvent{
		WalletID:   uuid.New(),
		OwnerID:    uuid.New(),
		Type:       domain.TransactionTypeWithdrawal,
		Amount:     decimal.RequireFromString("-30.00"),
		Currency:   domain.CurrencyUSD,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
}

func TestKafkaPublisherKeysByWallet(t *testing.T) {
	tx, audit := &fakeWriter{}, &fakeWriter{}
	p := NewKafkaPublisher(tx, audit)

	evt := sampleEvent(domain.TransactionStatusCompleted)
	require.NoError(t, p.PublishTransactions(context.Background(), []domain.TransactionEvent{evt}))

	msgs := tx.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, evt.WalletID.String(), string(msgs[0].Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	assert.Equal(t, "withdrawal", got["type"])
	assert.Equal(t, "-30", got["amount"])
	assert.Equal(t, "USD", got["currency"])
	assert.Equal(t, "completed", got["status"])
}

func TestKafkaPublisherAudit(t *testing.T) {
	tx, audit := &fakeWriter{}, &fakeWriter{}
	p := NewKafkaPublisher(tx, audit)

	rec := domain.AuditRecord{
		ActorID:   uuid.New(),
		Action:    domain.AuditActionTransactionExecuted,
		Details:   json.RawMessage(`{"walletId":"w"}`),
		Outcome:   domain.AuditOutcomeFailure,
		ErrorCode: "INSUFFICIENT_FUNDS",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, p.PublishAudit(context.Background(), rec))

	msgs := audit.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, rec.ActorID.String(), string(msgs[0].Key))
	assert.Contains(t, string(msgs[0].Value), `"errorCode":"INSUFFICIENT_FUNDS"`)
	assert.Empty(t, tx.messages())

	require.NoError(t, p.Close())
	assert.True(t, tx.closed)
	assert.True(t, audit.closed)
}

func TestRedisPublisherSkipsFailedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewRedisPublisher(client, "wallet:events:")
	completed := sampleEvent(domain.TransactionStatusCompleted)
	failed := sampleEvent(domain.TransactionStatusFailed)
	failed.OwnerID = completed.OwnerID

	ctx := context.Background()
	sub := client.Subscribe(ctx, p.Channel(completed))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.PublishTransactions(ctx, []domain.TransactionEvent{failed, completed}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wallet:events:"+completed.OwnerID.String(), msg.Channel)

	var got domain.TransactionEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, completed.WalletID, got.WalletID)
	assert.Equal(t, domain.TransactionStatusCompleted, got.Status)
}

type stubSink struct {
	mu   sync.Mutex
	got  []domain.TransactionEvent
	err  error
	ctxs []error
}

func (s *stubSink) PublishTransactions(ctx context.Context, evts []domain.TransactionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxs = append(s.ctxs, ctx.Err())
	s.got = append(s.got, evts...)
	return s.err
}

func TestDispatcherFansOutAndSwallowsErrors(t *testing.T) {
	ok := &stubSink{}
	broken := &stubSink{err: errors.New("broker down")}
	audit := &fakeWriter{}

	d := NewDispatcher(time.Second).
		AddTransactionSink(ok).
		AddTransactionSink(broken).
		AddAuditPublisher(NewKafkaPublisher(&fakeWriter{}, audit))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	evts := []domain.TransactionEvent{sampleEvent(domain.TransactionStatusCompleted)}
	rec := &domain.AuditRecord{ActorID: uuid.New(), Action: domain.AuditActionTransactionExecuted, Outcome: domain.AuditOutcomeSuccess}
	d.Dispatch(ctx, evts, rec)

	assert.Len(t, ok.got, 1)
	assert.Len(t, broken.got, 1)
	assert.Equal(t, []error{nil}, ok.ctxs)
	assert.Len(t, audit.messages(), 1)
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(context.Background(), nil, nil)
}

package kafka_test

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	"github.com/shestoi/GoFoodTech/platform/kafka/kafkatest"
	"github.com/shestoi/GoFoodTech/platform/kafka/mocks"
)

const (
	testTopic = "payment_success"
	testDLQ   = "payment_success.dlq"
	testGroup = "order-service"
)

// noSleeper не ждёт реального времени, но уважает отмену контекста
type noSleeper struct{}

func (noSleeper) Sleep(ctx context.Context, _ time.Duration) error {
	runtime.Gosched()
	return ctx.Err()
}

// orderState минимальный обработчик: pending → completed
type orderState struct {
	mu       sync.Mutex
	statuses map[string]string
	calls    map[string]int
	failWith func(e events.PaymentSucceeded) error
}

func newOrderState(pending ...string) *orderState {
	s := &orderState{statuses: make(map[string]string), calls: make(map[string]int)}
	for _, id := range pending {
		s.statuses[id] = "pending"
	}
	return s
}

func (s *orderState) handle(_ context.Context, e events.PaymentSucceeded) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[e.PaymentID]++
	if s.failWith != nil {
		if err := s.failWith(e); err != nil {
			return err
		}
	}
	switch s.statuses[e.OrderID] {
	case "":
		return errors.New("order not found")
	case "cancelled":
		return platformkafka.Permanent(errors.New("invalid transition"))
	}
	s.statuses[e.OrderID] = "completed"
	return nil
}

func (s *orderState) status(orderID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[orderID]
}

func (s *orderState) callCount(paymentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[paymentID]
}

func (s *orderState) set(orderID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[orderID] = status
}

func testConfig() platformkafka.DispatcherConfig {
	cfg := platformkafka.DefaultDispatcherConfig(testTopic, testGroup)
	cfg.Workers = 2
	cfg.MaxDeliveries = 3
	cfg.HandlerTimeout = time.Second
	cfg.ShutdownGrace = time.Second
	return cfg
}

func produceEvent(t *testing.T, b *kafkatest.Broker, paymentID, orderID string, amount int64) {
	t.Helper()
	e := events.NewPaymentSucceeded(events.ConfirmedPayment{
		PaymentID: paymentID,
		OrderID:   orderID,
		Amount:    amount,
	}, time.Now())
	payload, err := events.Encode(e)
	require.NoError(t, err)
	b.Produce(testTopic, []byte(orderID), payload)
}

func newDispatcher(b *kafkatest.Broker, store platformkafka.ProcessedStore, h platformkafka.Handler, cfg platformkafka.DispatcherConfig) *platformkafka.Dispatcher {
	return platformkafka.NewDispatcher(cfg, zap.NewNop(), b, store, h,
		platformkafka.WithDispatcherSleeper(noSleeper{}),
	)
}

// run запускает dispatcher и останавливает его в конце теста
func run(t *testing.T, d *platformkafka.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
}

func drained(b *kafkatest.Broker) func() bool {
	return func() bool {
		return len(b.Messages(testTopic)) > 0 && b.Unacked(testGroup, testTopic) == 0
	}
}

func TestDispatcher_AppliesEventAndAcks(t *testing.T) {
	broker := kafkatest.NewBroker()
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState("o1")

	produceEvent(t, broker, "p1", "o1", 1500)
	run(t, newDispatcher(broker, store, state.handle, testConfig()))

	require.Eventually(t, drained(broker), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "completed", state.status("o1"))
	assert.Equal(t, 1, state.callCount("p1"))
	assert.True(t, broker.Declared(testTopic))
	assert.True(t, broker.Declared(testDLQ))

	processed, err := store.IsProcessed(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestDispatcher_DuplicateDeliveryIsNoop(t *testing.T) {
	broker := kafkatest.NewBroker()
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState("o1")

	produceEvent(t, broker, "p1", "o1", 1500)
	produceEvent(t, broker, "p1", "o1", 1500)

	cfg := testConfig()
	cfg.Workers = 1
	run(t, newDispatcher(broker, store, state.handle, cfg))

	require.Eventually(t, func() bool {
		return broker.Acked(testGroup, testTopic) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "completed", state.status("o1"))
	assert.Equal(t, 1, state.callCount("p1"), "handler must not be applied twice")
	assert.Empty(t, broker.Messages(testDLQ))
}

func TestDispatcher_MalformedDoesNotBlockQueue(t *testing.T) {
	broker := kafkatest.NewBroker()
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState("o1")

	broker.Produce(testTopic, []byte("o0"), []byte(`{"schema_version":1,"event_type":"payment.succeeded"`))
	produceEvent(t, broker, "p1", "o1", 1500)

	cfg := testConfig()
	cfg.Workers = 1
	run(t, newDispatcher(broker, store, state.handle, cfg))

	require.Eventually(t, drained(broker), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "completed", state.status("o1"))

	dlq := broker.Messages(testDLQ)
	require.Len(t, dlq, 1)
	envelope, err := platformkafka.ParseDLQMessage(dlq[0].Value)
	require.NoError(t, err)
	assert.Equal(t, testTopic, envelope.OriginalTopic)
	assert.Equal(t, int64(0), envelope.OriginalOffset)
	assert.Contains(t, envelope.ErrorMessage, "malformed")
	assert.Len(t, broker.Messages(testTopic), 2, "malformed message must not be requeued")
}

func TestDispatcher_TransientFailureIsBounded(t *testing.T) {
	broker := kafkatest.NewBroker()
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState("o1")
	state.failWith = func(events.PaymentSucceeded) error {
		return errors.New("store unavailable")
	}

	produceEvent(t, broker, "p1", "o1", 1500)
	run(t, newDispatcher(broker, store, state.handle, testConfig()))

	require.Eventually(t, func() bool {
		return len(broker.Messages(testDLQ)) == 1 && broker.Unacked(testGroup, testTopic) == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, state.callCount("p1"), "handler invoked exactly MaxDeliveries times")
	assert.Equal(t, "pending", state.status("o1"))

	// исходное сообщение + две переотправки
	msgs := broker.Messages(testTopic)
	require.Len(t, msgs, 3)
	assert.Equal(t, 1, platformkafka.Deliveries(msgs[0]))
	assert.Equal(t, 2, platformkafka.Deliveries(msgs[1]))
	assert.Equal(t, 3, platformkafka.Deliveries(msgs[2]))
	lastErr, ok := platformkafka.HeaderValue(msgs[2], platformkafka.HeaderLastError)
	require.True(t, ok)
	assert.Equal(t, "store unavailable", lastErr)
	first1, _ := platformkafka.HeaderValue(msgs[1], platformkafka.HeaderFirstFailureAt)
	first2, _ := platformkafka.HeaderValue(msgs[2], platformkafka.HeaderFirstFailureAt)
	assert.Equal(t, first1, first2, "first failure time is carried over")

	envelope, err := platformkafka.ParseDLQMessage(broker.Messages(testDLQ)[0].Value)
	require.NoError(t, err)
	assert.Equal(t, 3, envelope.Deliveries)
	assert.Equal(t, "p1", envelope.PaymentID)
	assert.Equal(t, "o1", envelope.OrderID)
}

func TestDispatcher_PermanentFailureIsRejected(t *testing.T) {
	broker := kafkatest.NewBroker()
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState()
	state.set("o1", "cancelled")

	produceEvent(t, broker, "p1", "o1", 1500)
	run(t, newDispatcher(broker, store, state.handle, testConfig()))

	require.Eventually(t, func() bool {
		return len(broker.Messages(testDLQ)) == 1 && broker.Unacked(testGroup, testTopic) == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, state.callCount("p1"))
	assert.Equal(t, "cancelled", state.status("o1"))
	assert.Len(t, broker.Messages(testTopic), 1)
}

func TestDispatcher_RedeliversAfterCrashBeforeAck(t *testing.T) {
	broker := kafkatest.NewBroker()
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState("o1")

	produceEvent(t, broker, "p1", "o1", 1500)

	// Первый consumer получил сообщение и упал, не закоммитив offset
	crashed := broker.NewReader(testGroup, testTopic)
	msg, err := crashed.FetchMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), msg.Offset)
	require.NoError(t, crashed.Close())

	run(t, newDispatcher(broker, store, state.handle, testConfig()))

	require.Eventually(t, drained(broker), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "completed", state.status("o1"))
}

func TestDispatcher_CommitFailureRedelivers(t *testing.T) {
	broker := kafkatest.NewBroker()
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState("o1")

	broker.FailCommits(io.ErrUnexpectedEOF)
	produceEvent(t, broker, "p1", "o1", 1500)

	cfg := testConfig()
	cfg.Workers = 1
	run(t, newDispatcher(broker, store, state.handle, cfg))

	require.Eventually(t, drained(broker), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "completed", state.status("o1"))
	assert.Equal(t, 1, state.callCount("p1"), "redelivery after lost commit is a duplicate")
	assert.GreaterOrEqual(t, broker.Disconnects(), 1)
}

func TestDispatcher_RequeueWriteFailureLeavesMessageUncommitted(t *testing.T) {
	broker := kafkatest.NewBroker()
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState()
	// Заказ o404 создаётся "снаружи" к третьему вызову обработчика
	state.failWith = func(e events.PaymentSucceeded) error {
		if state.calls[e.PaymentID] >= 3 {
			state.statuses["o404"] = "pending"
		}
		return nil
	}

	produceEvent(t, broker, "p404", "o404", 700)
	broker.FailWrites(io.ErrUnexpectedEOF)

	cfg := testConfig()
	cfg.Workers = 1
	run(t, newDispatcher(broker, store, state.handle, cfg))

	require.Eventually(t, func() bool {
		return state.status("o404") == "completed" && broker.Unacked(testGroup, testTopic) == 0
	}, 2*time.Second, 5*time.Millisecond)

	// 1: not found, переотправка не записалась, offset не закоммичен
	// 2: та же доставка снова, переотправка записана
	// 3: переотправленное сообщение применено
	assert.Equal(t, 3, state.callCount("p404"))
	assert.Len(t, broker.Messages(testTopic), 2)
	assert.Empty(t, broker.Messages(testDLQ))
	assert.GreaterOrEqual(t, broker.Disconnects(), 1)
}

func TestDispatcher_NoOrderingDependencyAcrossOrders(t *testing.T) {
	broker := kafkatest.NewBroker()
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState("o1", "o2")

	produceEvent(t, broker, "p2", "o2", 200)
	produceEvent(t, broker, "p1", "o1", 100)

	run(t, newDispatcher(broker, store, state.handle, testConfig()))

	require.Eventually(t, drained(broker), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "completed", state.status("o1"))
	assert.Equal(t, "completed", state.status("o2"))
}

func TestDispatcher_WaitsForBrokerOnStart(t *testing.T) {
	broker := kafkatest.NewBroker()
	broker.SetAvailable(false)
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState("o1")

	run(t, newDispatcher(broker, store, state.handle, testConfig()))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, broker.Declared(testTopic))

	broker.SetAvailable(true)
	produceEvent(t, broker, "p1", "o1", 1500)

	require.Eventually(t, drained(broker), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "completed", state.status("o1"))
}

func TestDispatcher_ProcessOutcomes(t *testing.T) {
	valid := func(paymentID, orderID string) kafka.Message {
		payload, err := events.Encode(events.NewPaymentSucceeded(events.ConfirmedPayment{
			PaymentID: paymentID, OrderID: orderID, Amount: 100,
		}, time.Now()))
		require.NoError(t, err)
		return kafka.Message{Topic: testTopic, Key: []byte(orderID), Value: payload}
	}

	tests := []struct {
		name    string
		msg     kafka.Message
		prepare func(s *orderState, store *platformkafka.MemoryProcessedStore)
		want    platformkafka.Outcome
	}{
		{
			name: "acked",
			msg:  valid("p1", "o1"),
			prepare: func(s *orderState, _ *platformkafka.MemoryProcessedStore) {
				s.set("o1", "pending")
			},
			want: platformkafka.OutcomeAcked,
		},
		{
			name: "duplicate",
			msg:  valid("p1", "o1"),
			prepare: func(_ *orderState, store *platformkafka.MemoryProcessedStore) {
				_ = store.MarkProcessed(context.Background(), "p1", time.Hour)
			},
			want: platformkafka.OutcomeDuplicate,
		},
		{
			name: "malformed",
			msg:  kafka.Message{Topic: testTopic, Value: []byte(`not json`)},
			want: platformkafka.OutcomeRejected,
		},
		{
			name: "unsupported version",
			msg: kafka.Message{Topic: testTopic, Value: []byte(
				`{"schema_version":2,"event_type":"payment.succeeded","payment_id":"p1","order_id":"o1","amount":1,"occurred_at":"2024-01-01T00:00:00Z","attempt":1}`)},
			want: platformkafka.OutcomeRejected,
		},
		{
			name: "invalid transition",
			msg:  valid("p1", "o1"),
			prepare: func(s *orderState, _ *platformkafka.MemoryProcessedStore) {
				s.set("o1", "cancelled")
			},
			want: platformkafka.OutcomeRejected,
		},
		{
			name: "order not found",
			msg:  valid("p1", "o404"),
			want: platformkafka.OutcomeRequeued,
		},
		{
			name: "order not found on last delivery",
			msg: func() kafka.Message {
				m := valid("p1", "o404")
				m.Headers = []kafka.Header{{Key: platformkafka.HeaderDeliveryCount, Value: []byte("2")}}
				return m
			}(),
			want: platformkafka.OutcomeDeadLettered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := kafkatest.NewBroker()
			store := platformkafka.NewMemoryProcessedStore()
			defer store.Close()
			state := newOrderState()
			if tt.prepare != nil {
				tt.prepare(state, store)
			}

			d := newDispatcher(broker, store, state.handle, testConfig())
			got := d.Process(context.Background(), tt.msg)
			assert.Equal(t, tt.want, got, "got %s", got)
			assert.True(t, got.Committable())
		})
	}
}

func TestDispatcher_ProcessRetryLaterWhenBrokerDown(t *testing.T) {
	broker := kafkatest.NewBroker()
	broker.SetAvailable(false)
	store := platformkafka.NewMemoryProcessedStore()
	defer store.Close()
	state := newOrderState("o1")

	d := newDispatcher(broker, store, state.handle, testConfig())
	got := d.Process(context.Background(), kafka.Message{Topic: testTopic, Value: []byte(`{}`)})

	assert.Equal(t, platformkafka.OutcomeRetryLater, got)
	assert.False(t, got.Committable())
}

func TestDispatcher_ProcessStoreFailures(t *testing.T) {
	payload, err := events.Encode(events.NewPaymentSucceeded(events.ConfirmedPayment{
		PaymentID: "p1", OrderID: "o1", Amount: 100,
	}, time.Now()))
	require.NoError(t, err)
	msg := kafka.Message{Topic: testTopic, Key: []byte("o1"), Value: payload}

	t.Run("idempotency check failure requeues without calling handler", func(t *testing.T) {
		broker := kafkatest.NewBroker()
		store := mocks.NewProcessedStore(t)
		store.On("IsProcessed", mock.Anything, "p1").Return(false, errors.New("redis: connection refused")).Once()
		state := newOrderState("o1")

		got := newDispatcher(broker, store, state.handle, testConfig()).Process(context.Background(), msg)

		assert.Equal(t, platformkafka.OutcomeRequeued, got)
		assert.Equal(t, 0, state.callCount("p1"))
		assert.Len(t, broker.Messages(testTopic), 1)
	})

	t.Run("mark failure after apply still acks", func(t *testing.T) {
		broker := kafkatest.NewBroker()
		store := mocks.NewProcessedStore(t)
		store.On("IsProcessed", mock.Anything, "p1").Return(false, nil).Once()
		store.On("MarkProcessed", mock.Anything, "p1", testConfig().IdempotencyTTL).Return(errors.New("redis: timeout")).Once()
		state := newOrderState("o1")

		got := newDispatcher(broker, store, state.handle, testConfig()).Process(context.Background(), msg)

		assert.Equal(t, platformkafka.OutcomeAcked, got)
		assert.Equal(t, "completed", state.status("o1"))
	})
}

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	"github.com/shestoi/GoFoodTech/platform/kafka/kafkatest"
	"github.com/shestoi/GoFoodTech/services/order/internal/repository"
	"github.com/shestoi/GoFoodTech/services/order/internal/repository/memory"
	"github.com/shestoi/GoFoodTech/services/order/internal/service"
)

const (
	testTopic = "payment_success"
	testGroup = "order-service"
)

type fixture struct {
	broker *kafkatest.Broker
	repo   *memory.MemoryRepository
	svc    *service.OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := memory.NewMemoryRepository()
	return &fixture{
		broker: kafkatest.NewBroker(),
		repo:   repo,
		svc:    service.NewOrderService(zap.NewNop(), repo),
	}
}

func (f *fixture) createOrder(t *testing.T, id string, amount int64) {
	t.Helper()
	_, err := f.svc.CreateOrder(context.Background(), service.CreateOrderInput{
		OrderID:      id,
		UserID:       "u1",
		RestaurantID: "r1",
		Items:        []repository.OrderItem{{MenuItemID: "m1", Quantity: 1, Price: amount}},
	})
	require.NoError(t, err)
}

func (f *fixture) publish(t *testing.T, paymentID, orderID string, amount int64) {
	t.Helper()
	payload, err := events.Encode(events.NewPaymentSucceeded(events.ConfirmedPayment{
		PaymentID: paymentID,
		OrderID:   orderID,
		Amount:    amount,
	}, time.Now()))
	require.NoError(t, err)
	f.broker.Produce(testTopic, []byte(orderID), payload)
}

func (f *fixture) status(t *testing.T, orderID string) string {
	t.Helper()
	order, err := f.repo.GetByID(context.Background(), orderID)
	if err != nil {
		return ""
	}
	return order.Status
}

func (f *fixture) run(t *testing.T, cfg platformkafka.DispatcherConfig) {
	t.Helper()
	store := platformkafka.NewMemoryProcessedStore()
	d := NewPaymentSucceededConsumer(cfg, zap.NewNop(), f.broker, store, f.svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("consumer did not stop")
		}
		store.Close()
	})
}

func testConfig() platformkafka.DispatcherConfig {
	cfg := platformkafka.DefaultDispatcherConfig(testTopic, testGroup)
	cfg.Workers = 2
	cfg.RequeueBackoffBase = 5 * time.Millisecond
	cfg.RequeueBackoffMax = 20 * time.Millisecond
	cfg.HandlerTimeout = time.Second
	cfg.ShutdownGrace = time.Second
	return cfg
}

func TestPaymentSucceededConsumer_CompletesPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "o1", 1500)

	f.publish(t, "p1", "o1", 1500)
	f.run(t, testConfig())

	require.Eventually(t, func() bool {
		return f.status(t, "o1") == repository.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	// Повторная публикация того же события: заказ остаётся completed, сообщение подтверждается
	f.publish(t, "p1", "o1", 1500)
	require.Eventually(t, func() bool {
		return f.broker.Acked(testGroup, testTopic) == 2
	}, 2*time.Second, 5*time.Millisecond)

	order, err := f.repo.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCompleted, order.Status)
	assert.Equal(t, "p1", order.PaymentID)
	assert.Empty(t, f.broker.Messages(testTopic+".dlq"))
}

func TestPaymentSucceededConsumer_AmountDifferenceStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "o1", 1200)

	f.publish(t, "p1", "o1", 1500)
	f.run(t, testConfig())

	require.Eventually(t, func() bool {
		return f.status(t, "o1") == repository.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.broker.Acked(testGroup, testTopic) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.broker.Messages(testTopic+".dlq"))
}

func TestPaymentSucceededConsumer_OrderCreatedAfterEvent(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.MaxDeliveries = 1000

	f.publish(t, "p404", "o404", 1500)
	f.run(t, cfg)

	// Событие переотправляется, пока заказа нет
	require.Eventually(t, func() bool {
		return len(f.broker.Messages(testTopic)) >= 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "", f.status(t, "o404"))

	f.createOrder(t, "o404", 1500)

	require.Eventually(t, func() bool {
		return f.status(t, "o404") == repository.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.broker.Messages(testTopic+".dlq"))
}

func TestPaymentSucceededConsumer_CancelledOrderIsDeadLettered(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "o1", 1500)
	_, err := f.svc.CancelOrder(context.Background(), "o1")
	require.NoError(t, err)

	f.publish(t, "p1", "o1", 1500)
	f.run(t, testConfig())

	require.Eventually(t, func() bool {
		return len(f.broker.Messages(testTopic+".dlq")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	envelope, err := platformkafka.ParseDLQMessage(f.broker.Messages(testTopic + ".dlq")[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "p1", envelope.PaymentID)
	assert.Contains(t, envelope.ErrorMessage, "invalid order status transition")
	assert.Equal(t, repository.StatusCancelled, f.status(t, "o1"))
	// Постоянная ошибка не переотправляется
	assert.Len(t, f.broker.Messages(testTopic), 1)
}

func TestPaymentSucceededConsumer_OrdersInReverseOrder(t *testing.T) {
	f := newFixture(t)
	f.createOrder(t, "o1", 1500)
	f.createOrder(t, "o2", 700)

	f.publish(t, "p2", "o2", 700)
	f.publish(t, "p1", "o1", 1500)
	f.run(t, testConfig())

	require.Eventually(t, func() bool {
		return f.status(t, "o1") == repository.StatusCompleted &&
			f.status(t, "o2") == repository.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

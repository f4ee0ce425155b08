package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	"github.com/shestoi/GoFoodTech/platform/kafka/kafkatest"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository/memory"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/service"
)

const (
	testTopic = "payment_success"
	testGroup = "sysadmin-reports"
)

// flakyRepository отдаёт ошибку хранилища на первых failures вызовах Record
type flakyRepository struct {
	*memory.ReportRepository

	mu       sync.Mutex
	failures int
}

func (r *flakyRepository) Record(ctx context.Context, report repository.PaymentReport) (bool, error) {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return false, errors.New("connection reset by peer")
	}
	r.mu.Unlock()
	return r.ReportRepository.Record(ctx, report)
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

func publish(t *testing.T, broker *kafkatest.Broker, paymentID, restaurantID string, amount int64) {
	t.Helper()
	payload, err := events.Encode(events.NewPaymentSucceeded(events.ConfirmedPayment{
		PaymentID:    paymentID,
		OrderID:      "order-" + paymentID,
		RestaurantID: restaurantID,
		Amount:       amount,
	}, time.Now()))
	require.NoError(t, err)
	broker.Produce(testTopic, []byte("order-"+paymentID), payload)
}

func run(t *testing.T, broker *kafkatest.Broker, repo repository.ReportRepository) {
	t.Helper()
	store := platformkafka.NewMemoryProcessedStore()
	svc := service.NewReportingService(zap.NewNop(), repo)
	d := NewPaymentReportConsumer(testConfig(), zap.NewNop(), broker, store, svc)

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

func TestPaymentReportConsumer_RecordsEachPaymentOnce(t *testing.T) {
	broker := kafkatest.NewBroker()
	repo := memory.NewReportRepository()

	publish(t, broker, "p1", "r1", 1500)
	publish(t, broker, "p1", "r1", 1500)
	publish(t, broker, "p2", "r1", 500)
	run(t, broker, repo)

	require.Eventually(t, func() bool {
		return broker.Acked(testGroup, testTopic) == 3
	}, 2*time.Second, 5*time.Millisecond)

	summary, err := repo.RestaurantSummary(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.PaymentsCount)
	assert.Equal(t, int64(2000), summary.TotalAmount)
}

func TestPaymentReportConsumer_RetriesStorageFailure(t *testing.T) {
	broker := kafkatest.NewBroker()
	repo := &flakyRepository{ReportRepository: memory.NewReportRepository(), failures: 2}

	publish(t, broker, "p1", "r1", 1500)
	run(t, broker, repo)

	require.Eventually(t, func() bool {
		return repo.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Две неудачи: исходное сообщение и две переотправки
	require.Eventually(t, func() bool {
		return broker.Acked(testGroup, testTopic) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, broker.Messages(testTopic+".dlq"))
}

func TestPaymentReportConsumer_MalformedIsDeadLettered(t *testing.T) {
	broker := kafkatest.NewBroker()
	repo := memory.NewReportRepository()

	broker.Produce(testTopic, []byte("o1"), []byte(`{"schema_version":1,"event_type":"payment.succeeded","payment_id":"p1","order_id":"o1","amount":0}`))
	run(t, broker, repo)

	require.Eventually(t, func() bool {
		return len(broker.Messages(testTopic+".dlq")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, repo.Len())
}

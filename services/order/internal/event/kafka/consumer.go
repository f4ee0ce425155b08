package kafka

import (
	"go.uber.org/zap"

	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	"github.com/shestoi/GoFoodTech/services/order/internal/service"
)

// NewPaymentSucceededConsumer собирает dispatcher, который применяет события об оплате к заказам.
// Идемпотентность обеспечивают два уровня: store с payment_id и условное обновление заказа.
func NewPaymentSucceededConsumer(
	cfg platformkafka.DispatcherConfig,
	logger *zap.Logger,
	broker platformkafka.Broker,
	store platformkafka.ProcessedStore,
	svc *service.OrderService,
	opts ...platformkafka.DispatcherOption,
) *platformkafka.Dispatcher {
	logger.Info("configuring payment succeeded consumer",
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
		zap.Int("workers", cfg.Workers),
		zap.Int("max_deliveries", cfg.MaxDeliveries),
	)
	return platformkafka.NewDispatcher(cfg, logger, broker, store, svc.HandlePaymentSucceeded, opts...)
}

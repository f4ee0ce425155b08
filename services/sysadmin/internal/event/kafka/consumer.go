package kafka

import (
	"go.uber.org/zap"

	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/service"
)

// NewPaymentReportConsumer собирает dispatcher, который записывает оплаты в отчётную базу.
// Своя consumer group: отчёты получают каждое событие независимо от Order Service.
func NewPaymentReportConsumer(
	cfg platformkafka.DispatcherConfig,
	logger *zap.Logger,
	broker platformkafka.Broker,
	store platformkafka.ProcessedStore,
	svc *service.ReportingService,
	opts ...platformkafka.DispatcherOption,
) *platformkafka.Dispatcher {
	logger.Info("configuring payment report consumer",
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
		zap.Int("workers", cfg.Workers),
	)
	return platformkafka.NewDispatcher(cfg, logger, broker, store, svc.RecordPayment, opts...)
}

package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/services/payment/internal/repository"
	"github.com/shestoi/GoFoodTech/services/payment/internal/service"
)

// PaymentEvents состояние доставки событий на стороне платежей
type PaymentEvents interface {
	// MarkEventPublished отмечает платёж как опубликованный после успешного replay
	MarkEventPublished(ctx context.Context, paymentID string) error
	// RecoverPendingEvents возвращает в outbox события платежей, застрявших в event_status=pending
	RecoverPendingEvents(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// OutboxReplayer периодически переотправляет события из локального outbox
type OutboxReplayer struct {
	logger     *zap.Logger
	outbox     repository.OutboxRepository
	publisher  service.EventPublisher
	payments   PaymentEvents
	batchSize  int
	interval   time.Duration
	staleAfter time.Duration
}

// NewOutboxReplayer создаёт replayer
func NewOutboxReplayer(
	logger *zap.Logger,
	outbox repository.OutboxRepository,
	publisher service.EventPublisher,
	payments PaymentEvents,
	batchSize int, // сколько записей забирать за один проход
	interval time.Duration,
	staleAfter time.Duration, // через сколько платёж с неопубликованным событием сверяется с outbox
) *OutboxReplayer {
	return &OutboxReplayer{
		logger:     logger,
		outbox:     outbox,
		publisher:  publisher,
		payments:   payments,
		batchSize:  batchSize,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// Start обрабатывает outbox до отмены контекста
func (r *OutboxReplayer) Start(ctx context.Context) error {
	r.logger.Info("starting outbox replayer",
		zap.Int("batch_size", r.batchSize),
		zap.Duration("interval", r.interval),
		zap.Duration("stale_after", r.staleAfter),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if _, err := r.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("failed to process initial outbox batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox replayer context cancelled, stopping")
			return nil
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("failed to process outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch выполняет один проход и возвращает число опубликованных событий
func (r *OutboxReplayer) ProcessBatch(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	recovered, err := r.payments.RecoverPendingEvents(ctx, r.staleAfter, r.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		r.logger.Error("failed to recover pending payment events", zap.Error(err))
	}
	if recovered > 0 {
		r.logger.Warn("recovered payment events missing from outbox", zap.Int("count", recovered))
	}

	entries, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending outbox entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	r.logger.Debug("processing outbox batch", zap.Int("count", len(entries)))

	sent := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := r.processEntry(ctx, entry); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			r.logger.Warn("outbox entry not published",
				zap.Error(err),
				zap.String("payment_id", entry.PaymentID),
				zap.Int("attempts", entry.Attempts+1),
			)
			// Брокер, скорее всего, недоступен целиком: остальное подождёт следующего тика
			if errors.Is(err, service.ErrPublishFailed) {
				return sent, nil
			}
			continue
		}
		sent++
	}

	return sent, nil
}

func (r *OutboxReplayer) processEntry(ctx context.Context, entry repository.OutboxEntry) error {
	event := entry.Event
	event.Attempt += entry.Attempts + 1

	published, err := r.publisher.Publish(ctx, event)
	if err != nil {
		if markErr := r.outbox.MarkFailed(ctx, entry.PaymentID, err.Error()); markErr != nil {
			r.logger.Error("failed to record outbox failure",
				zap.Error(markErr),
				zap.String("payment_id", entry.PaymentID),
			)
		}
		return err
	}

	if err := r.outbox.MarkSent(ctx, entry.PaymentID); err != nil {
		// Запись останется pending и уйдёт ещё раз: consumer-ы идемпотентны по payment_id
		return fmt.Errorf("failed to mark outbox entry sent: %w", err)
	}
	if err := r.payments.MarkEventPublished(ctx, entry.PaymentID); err != nil {
		r.logger.Warn("failed to mark payment event as published",
			zap.Error(err),
			zap.String("payment_id", entry.PaymentID),
		)
	}

	r.logger.Info("outbox event published",
		zap.String("payment_id", entry.PaymentID),
		zap.String("order_id", entry.Event.OrderID),
		zap.Int("attempt", published.Attempt),
	)
	return nil
}

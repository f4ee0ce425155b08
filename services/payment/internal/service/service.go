package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	"github.com/shestoi/GoFoodTech/platform/observability"
	"github.com/shestoi/GoFoodTech/services/payment/internal/repository"
)

var (
	// ErrInvalidInput ошибка валидации входных данных
	ErrInvalidInput = errors.New("invalid input")
	// ErrEventNotDurable событие не принял ни брокер, ни локальный outbox
	ErrEventNotDurable = errors.New("payment event could not be stored for delivery")
)

// ConfirmInput подтверждённый внешним процессингом платёж.
// PaymentID опционален: если пуст, генерируется новый.
type ConfirmInput struct {
	PaymentID    string
	OrderID      string
	UserID       string
	RestaurantID string
	Amount       int64
}

// ConfirmResult результат подтверждения
type ConfirmResult struct {
	Payment repository.Payment
	// Created false, если платёж для заказа уже был подтверждён раньше
	Created bool
	// EventPending true, если брокер не принял событие и оно ждёт в outbox
	EventPending bool
}

// PaymentService подтверждает платежи и публикует события об оплате
type PaymentService struct {
	logger    *zap.Logger
	repo      repository.PaymentRepository
	outbox    repository.OutboxRepository
	publisher EventPublisher
	now       func() time.Time
	newID     func() string
}

// NewPaymentService создаёт сервис
func NewPaymentService(
	logger *zap.Logger,
	repo repository.PaymentRepository,
	outbox repository.OutboxRepository,
	publisher EventPublisher,
) *PaymentService {
	return &PaymentService{
		logger:    logger,
		repo:      repo,
		outbox:    outbox,
		publisher: publisher,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ConfirmPayment сохраняет подтверждённый платёж и публикует PaymentSucceeded.
// Идемпотентен по order_id: повторный вызов возвращает существующий платёж
// и дотягивает публикацию события, если она не завершилась.
// Если брокер недоступен, событие кладётся в outbox и результат помечается EventPending.
func (s *PaymentService) ConfirmPayment(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	logger := observability.L(ctx, s.logger).With(zap.String("order_id", in.OrderID))

	if in.OrderID == "" {
		return ConfirmResult{}, fmt.Errorf("%w: order_id is required", ErrInvalidInput)
	}
	if in.Amount <= 0 {
		return ConfirmResult{}, fmt.Errorf("%w: amount must be greater than 0", ErrInvalidInput)
	}

	existing, err := s.repo.GetByOrderID(ctx, in.OrderID)
	switch {
	case err == nil:
		logger.Info("payment already confirmed for order", zap.String("payment_id", existing.PaymentID))
		return s.ensureEvent(ctx, logger, existing, false)
	case !errors.Is(err, repository.ErrNotFound):
		return ConfirmResult{}, fmt.Errorf("failed to check existing payment: %w", err)
	}

	paymentID := in.PaymentID
	if paymentID == "" {
		paymentID = s.newID()
	}

	payment := repository.Payment{
		PaymentID:    paymentID,
		OrderID:      in.OrderID,
		UserID:       in.UserID,
		RestaurantID: in.RestaurantID,
		Amount:       in.Amount,
		Status:       repository.PaymentStatusSucceeded,
		EventStatus:  repository.EventStatusPending,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// Параллельный запрос успел первым
			existing, getErr := s.repo.GetByOrderID(ctx, in.OrderID)
			if getErr != nil {
				return ConfirmResult{}, fmt.Errorf("failed to load concurrent payment: %w", getErr)
			}
			return s.ensureEvent(ctx, logger, existing, false)
		}
		return ConfirmResult{}, fmt.Errorf("failed to save payment: %w", err)
	}

	logger.Info("payment confirmed",
		zap.String("payment_id", payment.PaymentID),
		zap.Int64("amount", payment.Amount),
	)
	return s.ensureEvent(ctx, logger, payment, true)
}

// ensureEvent сначала фиксирует событие в outbox, затем публикует его.
// Запись в outbox и отметки о доставке не зависят от отмены запроса клиентом.
func (s *PaymentService) ensureEvent(ctx context.Context, logger *zap.Logger, p repository.Payment, created bool) (ConfirmResult, error) {
	result := ConfirmResult{Payment: p, Created: created}
	if p.EventStatus == repository.EventStatusPublished {
		return result, nil
	}

	logger = logger.With(zap.String("payment_id", p.PaymentID))
	// occurred_at = момент подтверждения: повторная публикация того же платежа даёт то же событие
	event := events.NewPaymentSucceeded(p.Confirmed(), p.CreatedAt)

	durableCtx := context.WithoutCancel(ctx)
	if err := s.outbox.Enqueue(durableCtx, event); err != nil {
		// Платёж уже сохранён с event_status=pending, RecoverPendingEvents положит событие в outbox позже
		logger.Error("failed to store payment event in outbox", zap.Error(err))
		return ConfirmResult{}, fmt.Errorf("%w: %w", ErrEventNotDurable, err)
	}

	published, err := s.publisher.Publish(ctx, event)
	if err != nil {
		if errors.Is(err, ErrPublishFailed) {
			logger.Warn("payment event not accepted by broker, left in outbox", zap.Error(err))
		} else {
			logger.Error("failed to publish payment event, left in outbox", zap.Error(err))
		}
		result.EventPending = true
		return result, nil
	}

	if err := s.outbox.MarkSent(durableCtx, p.PaymentID); err != nil {
		// Запись уйдёт ещё раз через replayer: consumer-ы идемпотентны по payment_id
		logger.Warn("failed to mark outbox entry sent", zap.Error(err))
	}
	if err := s.repo.SetEventStatus(durableCtx, p.PaymentID, repository.EventStatusPublished); err != nil {
		logger.Warn("failed to mark payment event as published", zap.Error(err))
	}
	result.Payment.EventStatus = repository.EventStatusPublished
	logger.Info("payment event published", zap.Int("attempt", published.Attempt))
	return result, nil
}

// RecoverPendingEvents находит платежи старше olderThan, чьё событие так и не опубликовано,
// и сверяет их с outbox: пропавшее событие снова кладётся в outbox,
// уже отправленное отмечается в платеже. Возвращает число восстановленных событий.
func (s *PaymentService) RecoverPendingEvents(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	payments, err := s.repo.ListEventPending(ctx, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list payments with pending events: %w", err)
	}

	recovered := 0
	for _, p := range payments {
		logger := s.logger.With(
			zap.String("payment_id", p.PaymentID),
			zap.String("order_id", p.OrderID),
		)

		entry, err := s.outbox.GetByPaymentID(ctx, p.PaymentID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			event := events.NewPaymentSucceeded(p.Confirmed(), p.CreatedAt)
			if err := s.outbox.Enqueue(ctx, event); err != nil {
				return recovered, fmt.Errorf("failed to enqueue recovered event %s: %w", p.PaymentID, err)
			}
			logger.Warn("payment event was missing from outbox, enqueued")
			recovered++
		case err != nil:
			return recovered, fmt.Errorf("failed to load outbox entry %s: %w", p.PaymentID, err)
		case entry.Status == repository.OutboxStatusSent:
			if err := s.repo.SetEventStatus(ctx, p.PaymentID, repository.EventStatusPublished); err != nil {
				return recovered, fmt.Errorf("failed to mark payment event as published: %w", err)
			}
			logger.Info("payment event status caught up with outbox")
		}
	}
	return recovered, nil
}

// GetPayment возвращает платёж по payment_id
func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (repository.Payment, error) {
	if paymentID == "" {
		return repository.Payment{}, fmt.Errorf("%w: payment_id is required", ErrInvalidInput)
	}
	return s.repo.GetByID(ctx, paymentID)
}

// MarkEventPublished отмечает, что событие платежа доставлено брокеру (вызывается после replay из outbox)
func (s *PaymentService) MarkEventPublished(ctx context.Context, paymentID string) error {
	return s.repo.SetEventStatus(ctx, paymentID, repository.EventStatusPublished)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	"github.com/shestoi/GoFoodTech/platform/observability"
	"github.com/shestoi/GoFoodTech/services/order/internal/repository"
)

// OrderService содержит бизнес-логику работы с заказами
type OrderService struct {
	logger    *zap.Logger
	orderRepo repository.OrderRepository
	now       func() time.Time
	newID     func() string
}

// NewOrderService создаёт новый экземпляр OrderService
func NewOrderService(logger *zap.Logger, orderRepo repository.OrderRepository) *OrderService {
	return &OrderService{
		logger:    logger,
		orderRepo: orderRepo,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// CreateOrderInput содержит входные данные для создания заказа.
// OrderID опционален: если пуст, генерируется новый.
type CreateOrderInput struct {
	OrderID      string
	UserID       string
	RestaurantID string
	Items        []repository.OrderItem
}

// CreateOrder создаёт заказ в статусе pending. Сумма считается по позициям.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (repository.Order, error) {
	if input.UserID == "" || input.RestaurantID == "" {
		return repository.Order{}, fmt.Errorf("%w: user_id and restaurant_id are required", ErrInvalidInput)
	}
	if len(input.Items) == 0 {
		return repository.Order{}, fmt.Errorf("%w: order must contain at least one item", ErrInvalidInput)
	}
	for i, item := range input.Items {
		if item.MenuItemID == "" {
			return repository.Order{}, fmt.Errorf("%w: menu_item_id is required in items[%d]", ErrInvalidInput, i)
		}
		if item.Quantity <= 0 || item.Price <= 0 {
			return repository.Order{}, fmt.Errorf("%w: quantity and price must be > 0 in items[%d]", ErrInvalidInput, i)
		}
	}

	orderID := input.OrderID
	if orderID == "" {
		orderID = s.newID()
	}
	now := s.now().UTC()

	order := repository.Order{
		OrderID:      orderID,
		UserID:       input.UserID,
		RestaurantID: input.RestaurantID,
		Items:        input.Items,
		Amount: lo.SumBy(input.Items, func(it repository.OrderItem) int64 {
			return it.Price * int64(it.Quantity)
		}),
		Status:    repository.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return repository.Order{}, fmt.Errorf("%w: order %s already exists", ErrInvalidInput, orderID)
		}
		return repository.Order{}, fmt.Errorf("failed to save order: %w", err)
	}

	observability.L(ctx, s.logger).Info("order created",
		zap.String("order_id", order.OrderID),
		zap.Int64("amount", order.Amount),
		zap.Int("items", len(order.Items)),
	)
	return order, nil
}

// GetOrder получает заказ по ID
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (repository.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return repository.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// CancelOrder переводит заказ pending → cancelled. Повторная отмена не ошибка,
// отмена оплаченного заказа - ErrInvalidTransition.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (repository.Order, error) {
	logger := observability.L(ctx, s.logger).With(zap.String("order_id", orderID))

	cancelled, err := s.orderRepo.Cancel(ctx, orderID, s.now().UTC())
	if err != nil {
		return repository.Order{}, fmt.Errorf("failed to cancel order: %w", err)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return repository.Order{}, err
	}
	if cancelled {
		logger.Info("order cancelled")
		return order, nil
	}

	switch order.Status {
	case repository.StatusCancelled:
		return order, nil
	default:
		return repository.Order{}, fmt.Errorf("%w: cannot cancel order in status %s", ErrInvalidTransition, order.Status)
	}
}

// HandlePaymentSucceeded переводит заказ в completed по событию об оплате.
// Подтверждённая оплата завершает заказ в pending даже при расхождении суммы,
// расхождение только логируется. ErrOrderNotFound временная ошибка,
// ErrInvalidTransition постоянная (platformkafka.Permanent).
func (s *OrderService) HandlePaymentSucceeded(ctx context.Context, event events.PaymentSucceeded) error {
	logger := observability.L(ctx, s.logger).With(
		zap.String("order_id", event.OrderID),
		zap.String("payment_id", event.PaymentID),
	)

	completed, err := s.orderRepo.CompletePayment(ctx, event.OrderID, event.PaymentID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to complete order: %w", err)
	}
	if completed {
		logger.Info("order completed", zap.Int64("amount", event.Amount))
		s.warnAmountMismatch(ctx, logger, event)
		return nil
	}

	// Условное обновление не сработало: разбираемся почему
	order, err := s.orderRepo.GetByID(ctx, event.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("order for payment not found yet")
			return fmt.Errorf("%w: %s", ErrOrderNotFound, event.OrderID)
		}
		return fmt.Errorf("failed to load order: %w", err)
	}

	switch order.Status {
	case repository.StatusCompleted:
		if order.PaymentID != event.PaymentID {
			logger.Warn("order already completed by another payment",
				zap.String("existing_payment_id", order.PaymentID),
			)
		}
		return nil
	case repository.StatusCancelled:
		logger.Error("payment received for cancelled order")
		return platformkafka.Permanent(fmt.Errorf("%w: order %s is cancelled", ErrInvalidTransition, event.OrderID))
	case repository.StatusPending:
		// заказ вернулся в pending между обновлением и чтением, повторим доставку
		return fmt.Errorf("order %s is still pending after update", event.OrderID)
	default:
		return platformkafka.Permanent(fmt.Errorf("%w: unknown status %s", ErrInvalidTransition, order.Status))
	}
}

func (s *OrderService) warnAmountMismatch(ctx context.Context, logger *zap.Logger, event events.PaymentSucceeded) {
	order, err := s.orderRepo.GetByID(ctx, event.OrderID)
	if err != nil {
		logger.Warn("failed to load completed order for amount check", zap.Error(err))
		return
	}
	if order.Amount != event.Amount {
		logger.Warn("payment amount does not match order amount",
			zap.Int64("order_amount", order.Amount),
			zap.Int64("payment_amount", event.Amount),
		)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	"github.com/shestoi/GoFoodTech/platform/observability"
	"github.com/shestoi/GoFoodTech/services/sysadmin/internal/repository"
)

// ReportingService ведёт отчётность по оплатам
type ReportingService struct {
	logger *zap.Logger
	repo   repository.ReportRepository
	now    func() time.Time
}

// NewReportingService создаёт новый экземпляр ReportingService
func NewReportingService(logger *zap.Logger, repo repository.ReportRepository) *ReportingService {
	return &ReportingService{
		logger: logger,
		repo:   repo,
		now:    time.Now,
	}
}

// Summary сводка по всем ресторанам
type Summary struct {
	Restaurants   []repository.RestaurantSummary
	PaymentsCount int64
	TotalAmount   int64
}

// RecordPayment учитывает событие об оплате. Повторная доставка того же payment_id ничего не меняет.
func (s *ReportingService) RecordPayment(ctx context.Context, event events.PaymentSucceeded) error {
	logger := observability.L(ctx, s.logger).With(
		zap.String("payment_id", event.PaymentID),
		zap.String("order_id", event.OrderID),
	)

	if event.Amount <= 0 {
		logger.Error("payment with non-positive amount", zap.Int64("amount", event.Amount))
		return platformkafka.Permanent(fmt.Errorf("%w: amount %d", ErrInvalidPayment, event.Amount))
	}

	inserted, err := s.repo.Record(ctx, repository.PaymentReport{
		PaymentID:    event.PaymentID,
		OrderID:      event.OrderID,
		UserID:       event.UserID,
		RestaurantID: event.RestaurantID,
		Amount:       event.Amount,
		OccurredAt:   event.OccurredAt,
		RecordedAt:   s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrConstraint) {
			return platformkafka.Permanent(fmt.Errorf("%w: %w", ErrInvalidPayment, err))
		}
		return fmt.Errorf("failed to record payment: %w", err)
	}

	if !inserted {
		logger.Info("payment already recorded")
		return nil
	}
	logger.Info("payment recorded",
		zap.String("restaurant_id", event.RestaurantID),
		zap.Int64("amount", event.Amount),
	)
	return nil
}

// Summary возвращает агрегаты по ресторанам и общие итоги
func (s *ReportingService) Summary(ctx context.Context) (Summary, error) {
	restaurants, err := s.repo.Summary(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load summary: %w", err)
	}

	return Summary{
		Restaurants: restaurants,
		PaymentsCount: lo.SumBy(restaurants, func(r repository.RestaurantSummary) int64 {
			return r.PaymentsCount
		}),
		TotalAmount: lo.SumBy(restaurants, func(r repository.RestaurantSummary) int64 {
			return r.TotalAmount
		}),
	}, nil
}

// RestaurantSummary возвращает агрегат по ресторану
func (s *ReportingService) RestaurantSummary(ctx context.Context, restaurantID string) (repository.RestaurantSummary, error) {
	summary, err := s.repo.RestaurantSummary(ctx, restaurantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.RestaurantSummary{}, fmt.Errorf("%w: %s", ErrRestaurantNotFound, restaurantID)
		}
		return repository.RestaurantSummary{}, fmt.Errorf("failed to load restaurant summary: %w", err)
	}
	return summary, nil
}

package repository

import (
	"context"
	"errors"
	"time"
)

// PaymentReport запись об оплаченном заказе в отчётной базе
type PaymentReport struct {
	PaymentID    string
	OrderID      string
	UserID       string
	RestaurantID string
	Amount       int64
	OccurredAt   time.Time
	RecordedAt   time.Time
}

// RestaurantSummary агрегат по ресторану
type RestaurantSummary struct {
	RestaurantID  string
	PaymentsCount int64
	TotalAmount   int64
	LastPaymentAt time.Time
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=ReportRepository --dir=. --output=./mocks --outpkg=mocks

// ReportRepository хранилище отчётов по платежам
type ReportRepository interface {
	// Record сохраняет запись. Повтор с тем же payment_id ничего не меняет и возвращает false.
	Record(ctx context.Context, report PaymentReport) (bool, error)

	// Summary возвращает агрегаты по всем ресторанам, отсортированные по restaurant_id
	Summary(ctx context.Context) ([]RestaurantSummary, error)

	// RestaurantSummary возвращает агрегат по ресторану или ErrNotFound
	RestaurantSummary(ctx context.Context, restaurantID string) (RestaurantSummary, error)
}

var (
	// ErrNotFound по ресторану нет ни одной оплаты
	ErrNotFound = errors.New("report not found")
	// ErrConstraint запись нарушает ограничения схемы (повтор не поможет)
	ErrConstraint = errors.New("report violates schema constraint")
)

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shestoi/GoFoodTech/platform/events"
)

// Статусы доставки события о платеже
const (
	// EventStatusPending событие ещё не принято брокером (публикуется или лежит в outbox)
	EventStatusPending = "pending"
	// EventStatusPublished брокер подтвердил запись события
	EventStatusPublished = "published"
)

// PaymentStatusSucceeded платёж подтверждён внешним процессингом
const PaymentStatusSucceeded = "succeeded"

// Payment доменная модель подтверждённого платежа
type Payment struct {
	PaymentID    string
	OrderID      string
	UserID       string
	RestaurantID string
	Amount       int64
	Status       string
	EventStatus  string
	CreatedAt    time.Time
}

// Confirmed возвращает данные платежа для события
func (p Payment) Confirmed() events.ConfirmedPayment {
	return events.ConfirmedPayment{
		PaymentID:    p.PaymentID,
		OrderID:      p.OrderID,
		UserID:       p.UserID,
		RestaurantID: p.RestaurantID,
		Amount:       p.Amount,
	}
}

// Статусы записи outbox
const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
)

// OutboxEntry событие, которое не удалось опубликовать синхронно
type OutboxEntry struct {
	PaymentID string
	Event     events.PaymentSucceeded
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=PaymentRepository --dir=. --output=./mocks --outpkg=mocks

// PaymentRepository хранилище платежей
type PaymentRepository interface {
	// Create сохраняет новый платёж. ErrAlreadyExists, если для заказа платёж уже есть.
	Create(ctx context.Context, payment Payment) error

	// GetByID возвращает платёж по payment_id или ErrNotFound
	GetByID(ctx context.Context, paymentID string) (Payment, error)

	// GetByOrderID возвращает платёж заказа или ErrNotFound
	GetByOrderID(ctx context.Context, orderID string) (Payment, error)

	// SetEventStatus обновляет статус доставки события
	SetEventStatus(ctx context.Context, paymentID, status string) error

	// ListEventPending возвращает до limit платежей с event_status=pending, созданных раньше createdBefore, старые первыми
	ListEventPending(ctx context.Context, createdBefore time.Time, limit int) ([]Payment, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=OutboxRepository --dir=. --output=./mocks --outpkg=mocks

// OutboxRepository локальный outbox для событий, которые не принял брокер
type OutboxRepository interface {
	// Enqueue сохраняет событие в статусе pending. Повторный вызов для того же payment_id не создаёт дубль.
	Enqueue(ctx context.Context, event events.PaymentSucceeded) error

	// GetByPaymentID возвращает запись outbox или ErrNotFound
	GetByPaymentID(ctx context.Context, paymentID string) (OutboxEntry, error)

	// GetPending возвращает до limit записей в статусе pending, старые первыми
	GetPending(ctx context.Context, limit int) ([]OutboxEntry, error)

	// MarkSent переводит запись в sent
	MarkSent(ctx context.Context, paymentID string) error

	// MarkFailed записывает ошибку и увеличивает attempts, запись остаётся pending
	MarkFailed(ctx context.Context, paymentID, errMsg string) error
}

var (
	// ErrNotFound возвращается, когда запись не найдена
	ErrNotFound = errors.New("payment not found")
	// ErrAlreadyExists возвращается при повторном создании платежа для заказа
	ErrAlreadyExists = errors.New("payment already exists")
)

package repository

import (
	"context"
	"errors"
	"time"
)

// Статусы заказа
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Order представляет доменную модель заказа
type Order struct {
	OrderID      string
	UserID       string
	RestaurantID string
	Items        []OrderItem
	Amount       int64 // в минимальных единицах валюты
	Status       string
	PaymentID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderItem позиция меню в заказе
type OrderItem struct {
	MenuItemID string
	Quantity   int32
	Price      int64
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=OrderRepository --dir=. --output=./mocks --outpkg=mocks

// OrderRepository определяет интерфейс для работы с хранилищем заказов
type OrderRepository interface {
	// Create сохраняет новый заказ. ErrAlreadyExists, если order_id занят.
	Create(ctx context.Context, order Order) error

	// GetByID получает заказ по ID
	// Возвращает ErrNotFound, если заказ не найден
	GetByID(ctx context.Context, id string) (Order, error)

	// CompletePayment атомарно переводит заказ pending → completed.
	// false означает, что заказа в pending нет (не найден или уже в другом статусе).
	CompletePayment(ctx context.Context, orderID, paymentID string, at time.Time) (bool, error)

	// Cancel атомарно переводит заказ pending → cancelled. false, если заказ не в pending.
	Cancel(ctx context.Context, orderID string, at time.Time) (bool, error)
}

var (
	// ErrNotFound возвращается, когда заказ не найден в хранилище
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyExists возвращается при повторном создании заказа с тем же ID
	ErrAlreadyExists = errors.New("order already exists")
)

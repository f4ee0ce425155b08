package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shestoi/GoFoodTech/services/order/internal/repository"
)

// MemoryRepository реализует OrderRepository используя in-memory хранилище.
// Используется в тестах и при локальном запуске без MongoDB.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]repository.Order
}

// NewMemoryRepository создаёт новый in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]repository.Order),
	}
}

// Create сохраняет заказ в памяти
func (r *MemoryRepository) Create(_ context.Context, order repository.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.OrderID]; exists {
		return repository.ErrAlreadyExists
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	order.Items = append([]repository.OrderItem(nil), order.Items...)
	r.orders[order.OrderID] = order
	return nil
}

// GetByID получает заказ по ID из памяти
func (r *MemoryRepository) GetByID(_ context.Context, id string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, exists := r.orders[id]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}
	order.Items = append([]repository.OrderItem(nil), order.Items...)
	return order, nil
}

func (r *MemoryRepository) CompletePayment(_ context.Context, orderID, paymentID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[orderID]
	if !exists || order.Status != repository.StatusPending {
		return false, nil
	}
	order.Status = repository.StatusCompleted
	order.PaymentID = paymentID
	order.UpdatedAt = at
	r.orders[orderID] = order
	return true, nil
}

func (r *MemoryRepository) Cancel(_ context.Context, orderID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, exists := r.orders[orderID]
	if !exists || order.Status != repository.StatusPending {
		return false, nil
	}
	order.Status = repository.StatusCancelled
	order.UpdatedAt = at
	r.orders[orderID] = order
	return true, nil
}

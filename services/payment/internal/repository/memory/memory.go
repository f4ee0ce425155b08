package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shestoi/GoFoodTech/platform/events"
	"github.com/shestoi/GoFoodTech/services/payment/internal/repository"
)

// PaymentRepository реализует repository.PaymentRepository в памяти.
// Используется в тестах и при локальном запуске без MongoDB.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]repository.Payment // ключ = payment_id
	byOrder  map[string]string             // order_id -> payment_id
}

// NewPaymentRepository создаёт пустой репозиторий
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]repository.Payment),
		byOrder:  make(map[string]string),
	}
}

func (r *PaymentRepository) Create(_ context.Context, p repository.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byOrder[p.OrderID]; exists {
		return repository.ErrAlreadyExists
	}
	if _, exists := r.payments[p.PaymentID]; exists {
		return repository.ErrAlreadyExists
	}
	r.payments[p.PaymentID] = p
	r.byOrder[p.OrderID] = p.PaymentID
	return nil
}

func (r *PaymentRepository) GetByID(_ context.Context, paymentID string) (repository.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[paymentID]
	if !ok {
		return repository.Payment{}, repository.ErrNotFound
	}
	return p, nil
}

func (r *PaymentRepository) GetByOrderID(_ context.Context, orderID string) (repository.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrder[orderID]
	if !ok {
		return repository.Payment{}, repository.ErrNotFound
	}
	return r.payments[id], nil
}

func (r *PaymentRepository) SetEventStatus(_ context.Context, paymentID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[paymentID]
	if !ok {
		return repository.ErrNotFound
	}
	p.EventStatus = status
	r.payments[paymentID] = p
	return nil
}

func (r *PaymentRepository) ListEventPending(_ context.Context, createdBefore time.Time, limit int) ([]repository.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := make([]repository.Payment, 0)
	for _, p := range r.payments {
		if p.EventStatus == repository.EventStatusPending && p.CreatedAt.Before(createdBefore) {
			pending = append(pending, p)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// OutboxRepository реализует repository.OutboxRepository в памяти
type OutboxRepository struct {
	mu      sync.Mutex
	entries map[string]repository.OutboxEntry
	now     func() time.Time
}

// NewOutboxRepository создаёт пустой outbox
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries: make(map[string]repository.OutboxEntry),
		now:     time.Now,
	}
}

func (r *OutboxRepository) Enqueue(_ context.Context, event events.PaymentSucceeded) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[event.PaymentID]; exists {
		return nil
	}
	now := r.now()
	r.entries[event.PaymentID] = repository.OutboxEntry{
		PaymentID: event.PaymentID,
		Event:     event,
		Status:    repository.OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (r *OutboxRepository) GetByPaymentID(_ context.Context, paymentID string) (repository.OutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[paymentID]
	if !ok {
		return repository.OutboxEntry{}, repository.ErrNotFound
	}
	return e, nil
}

func (r *OutboxRepository) GetPending(_ context.Context, limit int) ([]repository.OutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]repository.OutboxEntry, 0)
	for _, e := range r.entries {
		if e.Status == repository.OutboxStatusPending {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[paymentID]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = repository.OutboxStatusSent
	e.UpdatedAt = r.now()
	r.entries[paymentID] = e
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, paymentID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[paymentID]
	if !ok {
		return repository.ErrNotFound
	}
	e.Attempts++
	e.LastError = errMsg
	e.UpdatedAt = r.now()
	r.entries[paymentID] = e
	return nil
}

// Get возвращает запись outbox (для тестов и отладки)
func (r *OutboxRepository) Get(paymentID string) (repository.OutboxEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[paymentID]
	return e, ok
}

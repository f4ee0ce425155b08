package kafka

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ProcessedStore хранит payment_id уже применённых событий (idempotency на стороне consumer)
//
//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=ProcessedStore --dir=. --output=./mocks --outpkg=mocks
type ProcessedStore interface {
	// IsProcessed возвращает true, если id уже применён и запись ещё не истекла
	IsProcessed(ctx context.Context, id string) (bool, error)

	// MarkProcessed сохраняет id как применённый на ttl. Повторный вызов не ошибка.
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) error
}

// MemoryProcessedStore реализует ProcessedStore поверх ttlcache.
// Подходит для тестов и локального запуска: состояние теряется при рестарте процесса.
type MemoryProcessedStore struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemoryProcessedStore создаёт store и запускает фоновую очистку истёкших записей
func NewMemoryProcessedStore() *MemoryProcessedStore {
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()

	return &MemoryProcessedStore{cache: cache}
}

func (s *MemoryProcessedStore) IsProcessed(_ context.Context, id string) (bool, error) {
	return s.cache.Get(id) != nil, nil
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, id string, ttl time.Duration) error {
	s.cache.Set(id, struct{}{}, ttl)
	return nil
}

// Close останавливает фоновую очистку
func (s *MemoryProcessedStore) Close() {
	s.cache.Stop()
}

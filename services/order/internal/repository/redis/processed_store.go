package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
)

var _ platformkafka.ProcessedStore = (*ProcessedStore)(nil)

// ProcessedStore хранит payment_id применённых событий в Redis (ключ с TTL)
type ProcessedStore struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
}

// NewProcessedStore создаёт store. prefix отделяет ключи разных consumer group
func NewProcessedStore(client *redis.Client, logger *zap.Logger, prefix string) *ProcessedStore {
	return &ProcessedStore{
		client: client,
		logger: logger,
		prefix: prefix,
	}
}

func (s *ProcessedStore) key(id string) string {
	return fmt.Sprintf("%s:processed:%s", s.prefix, id)
}

// IsProcessed проверяет наличие ключа
func (s *ProcessedStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed payment: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed ставит ключ через SET NX EX: существующая отметка и её TTL не меняются
func (s *ProcessedStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) error {
	created, err := s.client.SetNX(ctx, s.key(id), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to mark payment processed: %w", err)
	}
	if !created {
		s.logger.Debug("payment already marked as processed", zap.String("payment_id", id))
	}
	return nil
}

// Ping проверяет доступность Redis (для /health)
func (s *ProcessedStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

package kafka

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// DispatcherConfig настройки consumer dispatcher.
// Topic и GroupID задаёт сервис, остальное читается из окружения (CONSUMER_*).
type DispatcherConfig struct {
	Topic   string
	GroupID string
	// ServiceName используется в именах span-ов
	ServiceName string

	// Workers число параллельных воркеров, у каждого свой reader
	Workers int `env:"CONSUMER_WORKERS" envDefault:"4"`
	// MaxDeliveries сколько раз обработчик вызывается для одного сообщения, прежде чем оно уйдёт в DLQ
	MaxDeliveries int `env:"CONSUMER_MAX_DELIVERIES" envDefault:"5"`
	// RequeueBackoffBase пауза перед переотправкой после первой неудачи, дальше растёт экспоненциально
	RequeueBackoffBase time.Duration `env:"CONSUMER_REQUEUE_BACKOFF" envDefault:"1s"`
	RequeueBackoffMax  time.Duration `env:"CONSUMER_REQUEUE_BACKOFF_MAX" envDefault:"30s"`
	// IdempotencyTTL сколько хранится отметка о применённом payment_id
	IdempotencyTTL time.Duration `env:"CONSUMER_IDEMPOTENCY_TTL" envDefault:"168h"`
	// HandlerTimeout таймаут одного обращения к хранилищу или брокеру при обработке сообщения
	HandlerTimeout time.Duration `env:"CONSUMER_HANDLER_TIMEOUT" envDefault:"10s"`
	// ShutdownGrace сколько после остановки даётся на дообработку сообщения в работе
	ShutdownGrace time.Duration `env:"CONSUMER_SHUTDOWN_GRACE" envDefault:"10s"`
}

// DefaultDispatcherConfig возвращает значения по умолчанию для топика и группы
func DefaultDispatcherConfig(topic, groupID string) DispatcherConfig {
	return DispatcherConfig{
		Topic:              topic,
		GroupID:            groupID,
		ServiceName:        groupID,
		Workers:            4,
		MaxDeliveries:      5,
		RequeueBackoffBase: time.Second,
		RequeueBackoffMax:  30 * time.Second,
		IdempotencyTTL:     7 * 24 * time.Hour,
		HandlerTimeout:     10 * time.Second,
		ShutdownGrace:      10 * time.Second,
	}
}

// LoadDispatcherEnv читает CONSUMER_* переменные окружения
func LoadDispatcherEnv(topic, groupID string) (DispatcherConfig, error) {
	cfg := DefaultDispatcherConfig(topic, groupID)
	if err := env.Parse(&cfg); err != nil {
		return DispatcherConfig{}, fmt.Errorf("parse consumer env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return DispatcherConfig{}, err
	}
	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c DispatcherConfig) Validate() error {
	if c.Topic == "" {
		return fmt.Errorf("consumer topic is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("consumer group id is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("CONSUMER_WORKERS must be positive")
	}
	if c.MaxDeliveries <= 0 {
		return fmt.Errorf("CONSUMER_MAX_DELIVERIES must be positive")
	}
	if c.RequeueBackoffBase < 0 || c.RequeueBackoffMax < c.RequeueBackoffBase {
		return fmt.Errorf("CONSUMER_REQUEUE_BACKOFF must be non-negative and not greater than CONSUMER_REQUEUE_BACKOFF_MAX")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("CONSUMER_IDEMPOTENCY_TTL must be positive")
	}
	if c.HandlerTimeout <= 0 || c.ShutdownGrace <= 0 {
		return fmt.Errorf("CONSUMER_HANDLER_TIMEOUT and CONSUMER_SHUTDOWN_GRACE must be positive")
	}
	return nil
}

package kafka

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// LoadEnv загружает конфигурацию из переменных окружения поверх уже заполненных значений и валидирует её.
// Использует пакет caarlos0/env/v10 для парсинга env-тегов
func LoadEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse kafka env: %w", err)
	}
	return cfg.Validate()
}

// LoadEnvWithDefaults загружает конфигурацию, подставляя brokers по умолчанию, если KAFKA_BROKERS не задан
func LoadEnvWithDefaults(defaultBrokers []string) (Config, error) {
	cfg := DefaultConfig()
	cfg.Brokers = defaultBrokers
	if err := LoadEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Config содержит конфигурацию для подключения к Kafka
type Config struct {
	// Brokers - список брокеров Kafka, через который будут подключаться Go-сервисы.
	// Значение зависит от среды выполнения:
	//   - локальная разработка (go run): localhost:19092
	//   - запуск в Docker: kafka:9092
	// Можно указать несколько брокеров через запятую: "broker1:9092,broker2:9092"
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	// Topic - топик событий об успешной оплате
	Topic string `env:"KAFKA_TOPIC" envDefault:"payment_success"`

	// ConnectMaxAttempts сколько раз EnsureConnected пытается подключиться, прежде чем вернуть ErrBrokerUnavailable
	ConnectMaxAttempts int `env:"KAFKA_CONNECT_MAX_ATTEMPTS" envDefault:"5"`
	// ConnectBackoff базовая пауза между попытками подключения (растёт экспоненциально)
	ConnectBackoff time.Duration `env:"KAFKA_CONNECT_BACKOFF" envDefault:"500ms"`
	// ConnectBackoffMax верхняя граница паузы
	ConnectBackoffMax time.Duration `env:"KAFKA_CONNECT_BACKOFF_MAX" envDefault:"5s"`
	// DialTimeout таймаут одного подключения к брокеру
	DialTimeout time.Duration `env:"KAFKA_DIAL_TIMEOUT" envDefault:"5s"`
	// HealthInterval как часто фоновый watcher проверяет соединение
	HealthInterval time.Duration `env:"KAFKA_HEALTH_INTERVAL" envDefault:"5s"`
	// WriteTimeout таймаут записи одного батча
	WriteTimeout time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`

	// TopicPartitions и TopicReplication используются при объявлении топиков
	TopicPartitions  int `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"3"`
	TopicReplication int `env:"KAFKA_TOPIC_REPLICATION" envDefault:"1"`
}

// DefaultConfig возвращает конфигурацию с дефолтными значениями для локальной разработки.
// Сервисы должны получать актуальные значения через переменные окружения (KAFKA_BROKERS, KAFKA_TOPIC, ...).
func DefaultConfig() Config {
	return Config{
		Brokers:            []string{"localhost:19092"},
		Topic:              "payment_success",
		ConnectMaxAttempts: 5,
		ConnectBackoff:     500 * time.Millisecond,
		ConnectBackoffMax:  5 * time.Second,
		DialTimeout:        5 * time.Second,
		HealthInterval:     5 * time.Second,
		WriteTimeout:       10 * time.Second,
		TopicPartitions:    3,
		TopicReplication:   1,
	}
}

// DLQTopic возвращает имя топика dead letter queue для основного топика
func (c Config) DLQTopic() string {
	return c.Topic + ".dlq"
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	// Убираем пустые элементы после "a,,b" и пробелы вокруг адресов
	c.Brokers = lo.Uniq(lo.Compact(lo.Map(c.Brokers, func(b string, _ int) string {
		return strings.TrimSpace(b)
	})))

	if len(c.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required")
	}
	if c.ConnectMaxAttempts <= 0 {
		return fmt.Errorf("KAFKA_CONNECT_MAX_ATTEMPTS must be positive")
	}
	if c.ConnectBackoff <= 0 || c.ConnectBackoffMax < c.ConnectBackoff {
		return fmt.Errorf("KAFKA_CONNECT_BACKOFF must be positive and not greater than KAFKA_CONNECT_BACKOFF_MAX")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("KAFKA_DIAL_TIMEOUT must be positive")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("KAFKA_HEALTH_INTERVAL must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("KAFKA_WRITE_TIMEOUT must be positive")
	}
	if c.TopicPartitions <= 0 || c.TopicReplication <= 0 {
		return fmt.Errorf("KAFKA_TOPIC_PARTITIONS and KAFKA_TOPIC_REPLICATION must be positive")
	}
	return nil
}

// Package main утилита для ручной работы с топиком оплат.
//
// Команды:
//   - publish: отправляет тестовое событие payment.succeeded в KAFKA_TOPIC
//   - replay-dlq: переносит сообщения из <KAFKA_TOPIC>.dlq обратно в исходный топик
//
// Брокеры и топик берутся из KAFKA_BROKERS и KAFKA_TOPIC (по умолчанию localhost:19092, payment_success).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	platformlogging "github.com/shestoi/GoFoodTech/platform/logging"
)

var (
	orderID      string
	restaurantID string
	amount       int64
	limit        int
	idle         time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "kafka-playground",
	Short:        "Manual tooling for the payment_success topic",
	SilenceUsage: true,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Send a sample payment.succeeded event to KAFKA_TOPIC",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, logger *zap.Logger, client *platformkafka.Client, cfg platformkafka.Config) error {
			id := orderID
			if id == "" {
				id = uuid.NewString()
			}
			return publishSample(ctx, logger, client, cfg.Topic, events.ConfirmedPayment{
				PaymentID:    uuid.NewString(),
				OrderID:      id,
				UserID:       "playground",
				RestaurantID: restaurantID,
				Amount:       amount,
			})
		})
	},
}

var replayDLQCmd = &cobra.Command{
	Use:   "replay-dlq",
	Short: "Move messages from <KAFKA_TOPIC>.dlq back to their original topic",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd.Context(), func(ctx context.Context, logger *zap.Logger, client *platformkafka.Client, cfg platformkafka.Config) error {
			moved, err := replayDLQ(ctx, logger, client, cfg.DLQTopic(), limit, idle)
			logger.Info("dlq replay finished", zap.Int("moved", moved))
			return err
		})
	},
}

func init() {
	publishCmd.Flags().StringVar(&orderID, "order", "", "order_id of the event (random when empty)")
	publishCmd.Flags().StringVar(&restaurantID, "restaurant", "r1", "restaurant_id of the event")
	publishCmd.Flags().Int64Var(&amount, "amount", 1500, "amount in the smallest currency unit")

	replayDLQCmd.Flags().IntVar(&limit, "limit", 100, "max messages to move per run")
	replayDLQCmd.Flags().DurationVar(&idle, "idle", 5*time.Second, "stop when the DLQ stays empty this long")

	rootCmd.AddCommand(publishCmd, replayDLQCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1) //выход с кодом ошибки 1 - критическая ошибка
	}
}

// withClient поднимает логгер и клиент брокера на время одной команды
func withClient(ctx context.Context, fn func(context.Context, *zap.Logger, *platformkafka.Client, platformkafka.Config) error) error {
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "kafka-playground",
		Env:         "local",
		Level:       "info",
		Format:      "console",
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer platformlogging.Sync(logger)

	cfg := platformkafka.DefaultConfig()
	if err := platformkafka.LoadEnv(&cfg); err != nil {
		logger.Error("failed to load kafka config", zap.Error(err))
		return err
	}
	logger.Info("kafka config loaded",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)

	client := platformkafka.NewClient(cfg, logger)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close kafka client", zap.Error(err))
		}
	}()

	if err := fn(ctx, logger, client, cfg); err != nil {
		logger.Error("kafka playground failed", zap.Error(err))
		return err
	}
	return nil
}

// publishSample отправляет одно событие об оплате
func publishSample(ctx context.Context, logger *zap.Logger, broker platformkafka.Broker, topic string, payment events.ConfirmedPayment) error {
	event := events.NewPaymentSucceeded(payment, time.Now())
	payload, err := events.Encode(event)
	if err != nil {
		return err
	}

	if err := broker.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := broker.DeclareTopic(ctx, topic); err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.OrderID),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: events.HeaderContentType, Value: []byte(events.ContentTypeJSON)},
			{Key: events.HeaderSchemaVersion, Value: []byte(strconv.Itoa(events.SchemaVersion))},
			{Key: events.HeaderEventType, Value: []byte(events.PaymentSucceededType)},
		},
	}
	if err := broker.Writer().WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write sample event: %w", err)
	}

	logger.Info("sample event sent",
		zap.String("topic", topic),
		zap.String("payment_id", event.PaymentID),
		zap.String("order_id", event.OrderID),
		zap.Int64("amount", event.Amount),
	)
	return nil
}

// replayGroup consumer group, под которой читается DLQ при переносе
const replayGroup = "kafka-playground-replay"

// replayDLQ переносит до limit сообщений из DLQ в исходные топики.
// Offset DLQ коммитится только после успешной записи, поэтому сбой посреди переноса не теряет сообщения.
func replayDLQ(ctx context.Context, logger *zap.Logger, broker platformkafka.Broker, dlqTopic string, limit int, idle time.Duration) (int, error) {
	if err := broker.EnsureConnected(ctx); err != nil {
		return 0, err
	}

	reader := broker.NewReader(replayGroup, dlqTopic)
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Warn("failed to close dlq reader", zap.Error(err))
		}
	}()

	moved := 0
	for moved < limit {
		fetchCtx, cancel := context.WithTimeout(ctx, idle)
		msg, err := reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return moved, nil
			}
			return moved, fmt.Errorf("fetch dlq message: %w", err)
		}

		envelope, err := platformkafka.ParseDLQMessage(msg.Value)
		if err != nil {
			return moved, fmt.Errorf("dlq offset %d: %w", msg.Offset, err)
		}
		replay, err := envelope.ReplayMessage()
		if err != nil {
			return moved, fmt.Errorf("dlq offset %d: %w", msg.Offset, err)
		}

		if err := broker.Writer().WriteMessages(ctx, replay); err != nil {
			return moved, fmt.Errorf("replay to %s: %w", replay.Topic, err)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return moved, fmt.Errorf("commit dlq offset %d: %w", msg.Offset, err)
		}
		moved++

		logger.Info("dlq message replayed",
			zap.String("topic", replay.Topic),
			zap.String("payment_id", envelope.PaymentID),
			zap.String("order_id", envelope.OrderID),
			zap.String("error", envelope.ErrorMessage),
		)
	}
	return moved, nil
}

package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/shestoi/GoFoodTech/platform/events"
	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
	"github.com/shestoi/GoFoodTech/platform/observability"
	"github.com/shestoi/GoFoodTech/services/payment/internal/service"
)

var _ service.EventPublisher = (*PaymentEventPublisher)(nil)

// PublisherConfig ограничения на одну публикацию
type PublisherConfig struct {
	ServiceName string
	Topic       string
	Budget      time.Duration // общий бюджет на все попытки
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// PaymentEventPublisher публикует PaymentSucceeded в Kafka с повторными попытками
type PaymentEventPublisher struct {
	logger   *zap.Logger
	broker   platformkafka.Broker
	cfg      PublisherConfig
	sleeper  platformkafka.Sleeper
	declared *atomic.Bool
}

// NewPaymentEventPublisher создаёт publisher поверх общего клиента брокера
func NewPaymentEventPublisher(logger *zap.Logger, broker platformkafka.Broker, cfg PublisherConfig, sleeper platformkafka.Sleeper) *PaymentEventPublisher {
	if sleeper == nil {
		sleeper = &platformkafka.DefaultSleeper{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &PaymentEventPublisher{
		logger:   logger,
		broker:   broker,
		cfg:      cfg,
		sleeper:  sleeper,
		declared: atomic.NewBool(false),
	}
}

// Publish отправляет событие и ждёт подтверждения брокера.
// При ошибке переподключается и повторяет с увеличенным attempt, пока не кончатся попытки или бюджет.
func (p *PaymentEventPublisher) Publish(ctx context.Context, event events.PaymentSucceeded) (events.PaymentSucceeded, error) {
	if p.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Budget)
		defer cancel()
	}

	logger := observability.L(ctx, p.logger).With(
		zap.String("topic", p.cfg.Topic),
		zap.String("payment_id", event.PaymentID),
		zap.String("order_id", event.OrderID),
	)

	if event.Attempt < 1 {
		event.Attempt = 1
	}

	var lastErr error
	for n := 1; n <= p.cfg.MaxAttempts; n++ {
		err := p.publishOnce(ctx, event)
		if err == nil {
			logger.Info("payment event published", zap.Int("attempt", event.Attempt))
			return event, nil
		}
		if events.IsMalformed(err) {
			return event, fmt.Errorf("failed to encode payment event: %w", err)
		}

		lastErr = err
		if platformkafka.IsChannelClosed(err) {
			p.broker.MarkDisconnected(err)
		}
		logger.Warn("failed to publish payment event",
			zap.Error(err),
			zap.Int("attempt", event.Attempt),
			zap.Int("max_attempts", p.cfg.MaxAttempts),
		)

		if n == p.cfg.MaxAttempts {
			break
		}
		if sleepErr := p.sleeper.Sleep(ctx, platformkafka.Backoff(p.cfg.BackoffBase, n, p.cfg.BackoffMax)); sleepErr != nil {
			lastErr = errors.Join(lastErr, sleepErr)
			break
		}
		event.Attempt++
	}

	logger.Error("payment event not published", zap.Error(lastErr), zap.Int("attempt", event.Attempt))
	return event, fmt.Errorf("%w: %w", service.ErrPublishFailed, lastErr)
}

func (p *PaymentEventPublisher) publishOnce(ctx context.Context, event events.PaymentSucceeded) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.broker.EnsureConnected(ctx); err != nil {
		return err
	}
	if !p.declared.Load() {
		if err := p.broker.DeclareTopic(ctx, p.cfg.Topic); err != nil {
			return err
		}
		p.declared.Store(true)
	}

	msg, err := NewMessage(p.cfg.Topic, event)
	if err != nil {
		return err
	}

	ctx, span := observability.StartProducerSpan(ctx, p.cfg.ServiceName, &msg)
	err = p.broker.Writer().WriteMessages(ctx, msg)
	observability.EndSpan(span, err)
	return err
}

// NewMessage собирает сообщение Kafka для события: ключ order_id, тело JSON, заголовки схемы
func NewMessage(topic string, event events.PaymentSucceeded) (kafka.Message, error) {
	value, err := events.Encode(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(event.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: events.HeaderContentType, Value: []byte(events.ContentTypeJSON)},
			{Key: events.HeaderSchemaVersion, Value: []byte(strconv.Itoa(events.SchemaVersion))},
			{Key: events.HeaderEventType, Value: []byte(events.PaymentSucceededType)},
		},
		Time: event.OccurredAt,
	}, nil
}

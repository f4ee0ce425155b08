package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shestoi/GoFoodTech/platform/events"
	"github.com/shestoi/GoFoodTech/platform/observability"
)

// Outcome итог обработки одного сообщения
type Outcome int

const (
	// OutcomeAcked событие применено, offset коммитится
	OutcomeAcked Outcome = iota
	// OutcomeDuplicate payment_id уже применён, коммит без повторного применения
	OutcomeDuplicate
	// OutcomeRejected постоянная ошибка (битый payload, недопустимый переход), сообщение в DLQ
	OutcomeRejected
	// OutcomeRequeued временная ошибка, сообщение переотправлено с x-delivery-count+1
	OutcomeRequeued
	// OutcomeDeadLettered временная ошибка, но доставки исчерпаны, сообщение в DLQ
	OutcomeDeadLettered
	// OutcomeRetryLater не удалось записать ни requeue, ни DLQ: offset не коммитится, сообщение будет доставлено снова
	OutcomeRetryLater
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcked:
		return "acked"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeDeadLettered:
		return "dead_lettered"
	case OutcomeRetryLater:
		return "retry_later"
	default:
		return "unknown"
	}
}

// Committable сообщает, можно ли коммитить offset исходного сообщения
func (o Outcome) Committable() bool {
	return o != OutcomeRetryLater
}

// Handler применяет событие к локальному состоянию сервиса.
// nil - применено (или уже было применено), Permanent(err) - повтор не поможет,
// любая другая ошибка считается временной.
type Handler func(ctx context.Context, event events.PaymentSucceeded) error

// Dispatcher читает события об оплате из топика и применяет их через Handler.
// Offset коммитится только после того, как результат обработки зафиксирован:
// изменение состояния, запись в DLQ или переотправка.
type Dispatcher struct {
	cfg     DispatcherConfig
	logger  *zap.Logger
	broker  Broker
	store   ProcessedStore
	handler Handler
	dlq     *DLQPublisher
	sleeper Sleeper
	now     func() time.Time

	messages metric.Int64Counter
	duration metric.Float64Histogram
}

// DispatcherOption настраивает Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherSleeper подменяет паузы (в тестах, чтобы не ждать реального времени)
func WithDispatcherSleeper(s Sleeper) DispatcherOption {
	return func(d *Dispatcher) {
		d.sleeper = s
	}
}

// WithClock подменяет источник времени для x-first-failure-at
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher создаёт dispatcher. DLQ топик: <cfg.Topic>.dlq
func NewDispatcher(
	cfg DispatcherConfig,
	logger *zap.Logger,
	broker Broker,
	store ProcessedStore,
	handler Handler,
	opts ...DispatcherOption,
) *Dispatcher {
	logger = logger.With(
		zap.String("component", "dispatcher"),
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
	)

	d := &Dispatcher{
		cfg:     cfg,
		logger:  logger,
		broker:  broker,
		store:   store,
		handler: handler,
		dlq:     NewDLQPublisher(logger, broker.Writer(), cfg.Topic+".dlq"),
		sleeper: &DefaultSleeper{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}

	meter := otel.Meter("kafka.dispatcher")
	messages, err := meter.Int64Counter("dispatcher_messages_total",
		metric.WithDescription("Processed messages by outcome"),
	)
	if err != nil {
		logger.Warn("failed to create messages counter", zap.Error(err))
		messages = noop.Int64Counter{}
	}
	duration, err := meter.Float64Histogram("dispatcher_handle_duration_ms",
		metric.WithDescription("Message processing duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
		duration = noop.Float64Histogram{}
	}
	d.messages = messages
	d.duration = duration

	return d
}

// Run объявляет топики и запускает воркеры. Блокируется до отмены ctx и завершения
// обработки сообщений, которые были в работе.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("starting dispatcher",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("max_deliveries", d.cfg.MaxDeliveries),
	)

	if err := d.declareTopics(ctx); err != nil {
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopped before topics were declared")
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return d.runWorker(gctx, worker)
		})
	}

	err := g.Wait()
	d.logger.Info("dispatcher stopped")
	return err
}

// declareTopics ждёт брокер и объявляет основной и DLQ топики. Недоступный брокер не фатален:
// попытки повторяются до отмены ctx.
func (d *Dispatcher) declareTopics(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := d.broker.DeclareTopic(ctx, d.cfg.Topic)
		if err == nil {
			err = d.broker.DeclareTopic(ctx, d.dlq.Topic())
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClientClosed) {
			return err
		}

		backoff := Backoff(d.cfg.RequeueBackoffBase, attempt, d.cfg.RequeueBackoffMax)
		d.logger.Warn("failed to declare topics, will retry",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		if err := d.sleeper.Sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) error {
	logger := d.logger.With(zap.Int("worker", id))
	reader := d.broker.NewReader(d.cfg.GroupID, d.cfg.Topic)
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Warn("failed to close reader", zap.Error(err))
		}
	}()

	logger.Info("worker started")

	failures := 0
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker stopped")
				return nil
			}
			failures++
			logger.Error("failed to fetch message", zap.Error(err), zap.Int("failures", failures))
			if IsChannelClosed(err) {
				d.broker.MarkDisconnected(err)
			}
			if err := d.pause(ctx, failures); err != nil {
				return nil
			}
			if err := d.broker.EnsureConnected(ctx); errors.Is(err, ErrClientClosed) {
				logger.Info("broker client closed, worker stopped")
				return nil
			}
			reader = d.rewind(logger, reader)
			continue
		}

		outcome := d.Process(ctx, msg)
		if !outcome.Committable() {
			if ctx.Err() != nil {
				// Без коммита: сообщение получит следующий владелец партиции
				logger.Info("worker stopped, in-flight message left uncommitted",
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
				)
				return nil
			}
			failures++
			if err := d.pause(ctx, failures); err != nil {
				return nil
			}
			reader = d.rewind(logger, reader)
			continue
		}

		if err := d.commit(ctx, reader, msg); err != nil {
			logger.Error("failed to commit message offset",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			if IsChannelClosed(err) {
				d.broker.MarkDisconnected(err)
			}
			if ctx.Err() != nil {
				return nil
			}
			reader = d.rewind(logger, reader)
			continue
		}

		failures = 0
		logger.Debug("message offset committed",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Stringer("outcome", outcome),
		)
	}
}

func (d *Dispatcher) commit(ctx context.Context, reader MessageReader, msg kafka.Message) error {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.HandlerTimeout)
	defer cancel()
	return reader.CommitMessages(commitCtx, msg)
}

// rewind пересоздаёт reader: группа продолжит с последнего закоммиченного offset,
// и незакоммиченное сообщение будет доставлено снова
func (d *Dispatcher) rewind(logger *zap.Logger, reader MessageReader) MessageReader {
	if err := reader.Close(); err != nil {
		logger.Warn("failed to close reader", zap.Error(err))
	}
	return d.broker.NewReader(d.cfg.GroupID, d.cfg.Topic)
}

func (d *Dispatcher) pause(ctx context.Context, failures int) error {
	return d.sleeper.Sleep(ctx, Backoff(d.cfg.RequeueBackoffBase, failures, d.cfg.RequeueBackoffMax))
}

// Process проводит одно сообщение через Received → Decoded → Applying → итог.
// Отмена ctx не прерывает начатую работу: обращения к хранилищу и брокеру получают
// отдельный контекст, который живёт ещё ShutdownGrace после отмены.
func (d *Dispatcher) Process(ctx context.Context, msg kafka.Message) Outcome {
	start := time.Now()

	ctx, span := observability.StartConsumerSpan(ctx, d.cfg.ServiceName, msg)
	outcome, err := d.process(ctx, msg)
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	observability.EndSpan(span, err)

	attrs := metric.WithAttributes(
		attribute.String("topic", msg.Topic),
		attribute.String("outcome", outcome.String()),
	)
	d.messages.Add(context.WithoutCancel(ctx), 1, attrs)
	d.duration.Record(context.WithoutCancel(ctx), float64(time.Since(start).Microseconds())/1000, attrs)

	return outcome
}

func (d *Dispatcher) process(ctx context.Context, msg kafka.Message) (Outcome, error) {
	work, cancel := graceContext(ctx, d.cfg.ShutdownGrace)
	defer cancel()

	deliveries := Deliveries(msg)
	logger := observability.L(ctx, d.logger).With(
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Int("delivery", deliveries),
	)

	event, err := events.Decode(msg.Value)
	if err != nil {
		logger.Error("malformed payment event, rejecting without requeue", zap.Error(err))
		return d.deadLetter(work, logger, msg, err, "", "", OutcomeRejected)
	}

	logger = logger.With(
		zap.String("payment_id", event.PaymentID),
		zap.String("order_id", event.OrderID),
		zap.Int("attempt", event.Attempt),
	)

	processed, err := d.isProcessed(work, event.PaymentID)
	if err != nil {
		logger.Warn("idempotency check failed", zap.Error(err))
		return d.retry(ctx, work, logger, msg, event, deliveries, fmt.Errorf("idempotency check: %w", err))
	}
	if processed {
		logger.Info("payment event already applied, skipping")
		return OutcomeDuplicate, nil
	}

	if err := d.apply(work, event); err != nil {
		if IsPermanent(err) {
			logger.Error("payment event rejected by handler", zap.Error(err))
			return d.deadLetter(work, logger, msg, err, event.PaymentID, event.OrderID, OutcomeRejected)
		}
		logger.Warn("failed to apply payment event", zap.Error(err))
		return d.retry(ctx, work, logger, msg, event, deliveries, err)
	}

	// Состояние уже изменено; при потере отметки повторная доставка будет no-op в обработчике
	if err := d.markProcessed(work, event.PaymentID); err != nil {
		logger.Warn("payment event applied but not marked as processed", zap.Error(err))
	}

	logger.Info("payment event applied")
	return OutcomeAcked, nil
}

func (d *Dispatcher) isProcessed(ctx context.Context, paymentID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()
	return d.store.IsProcessed(ctx, paymentID)
}

func (d *Dispatcher) markProcessed(ctx context.Context, paymentID string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()
	return d.store.MarkProcessed(ctx, paymentID, d.cfg.IdempotencyTTL)
}

func (d *Dispatcher) apply(ctx context.Context, event events.PaymentSucceeded) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()
	return d.handler(ctx, event)
}

// retry переотправляет сообщение в топик или, если доставки исчерпаны, отправляет в DLQ.
// Пауза перед переотправкой прерывается отменой ctx: сообщение остаётся незакоммиченным.
func (d *Dispatcher) retry(
	ctx, work context.Context,
	logger *zap.Logger,
	msg kafka.Message,
	event events.PaymentSucceeded,
	deliveries int,
	cause error,
) (Outcome, error) {
	if deliveries >= d.cfg.MaxDeliveries {
		logger.Error("delivery limit reached, dead-lettering",
			zap.Int("max_deliveries", d.cfg.MaxDeliveries),
			zap.Error(cause),
		)
		dlqErr := fmt.Errorf("failed after %d deliveries: %w", deliveries, cause)
		return d.deadLetter(work, logger, msg, dlqErr, event.PaymentID, event.OrderID, OutcomeDeadLettered)
	}

	backoff := Backoff(d.cfg.RequeueBackoffBase, deliveries, d.cfg.RequeueBackoffMax)
	if err := d.sleeper.Sleep(ctx, backoff); err != nil {
		return OutcomeRetryLater, fmt.Errorf("requeue backoff interrupted: %w", err)
	}

	requeued := requeueMessage(msg, deliveries, cause, d.now())
	if err := d.write(work, requeued); err != nil {
		logger.Error("failed to requeue message", zap.Error(err))
		return OutcomeRetryLater, err
	}

	logger.Info("message requeued",
		zap.Int("next_delivery", deliveries+1),
		zap.Duration("backoff", backoff),
	)
	return OutcomeRequeued, cause
}

func (d *Dispatcher) deadLetter(
	ctx context.Context,
	logger *zap.Logger,
	msg kafka.Message,
	cause error,
	paymentID, orderID string,
	outcome Outcome,
) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	if err := d.broker.EnsureConnected(ctx); err != nil {
		logger.Error("failed to send message to DLQ", zap.Error(err))
		return OutcomeRetryLater, err
	}
	if err := d.dlq.Publish(ctx, msg, cause, paymentID, orderID); err != nil {
		if IsChannelClosed(err) {
			d.broker.MarkDisconnected(err)
		}
		logger.Error("failed to send message to DLQ", zap.Error(err))
		return OutcomeRetryLater, err
	}
	return outcome, cause
}

func (d *Dispatcher) write(ctx context.Context, msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	if err := d.broker.EnsureConnected(ctx); err != nil {
		return err
	}
	if err := d.broker.Writer().WriteMessages(ctx, msg); err != nil {
		if IsChannelClosed(err) {
			d.broker.MarkDisconnected(err)
		}
		return err
	}
	return nil
}

// graceContext возвращает контекст, который не отменяется вместе с ctx,
// а истекает через grace после его отмены
func graceContext(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-work.Done():
		}
	})
	return work, func() {
		stop()
		cancel()
	}
}

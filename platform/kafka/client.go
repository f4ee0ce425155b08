package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ConnectionState состояние соединения клиента с брокером
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MessageReader читает сообщения из топика в рамках consumer group.
// Один reader принадлежит одному воркеру и не используется конкурентно.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageWriter пишет сообщения в топик, указанный в kafka.Message.Topic. Безопасен для конкурентного использования.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Broker то, что нужно publisher-у и dispatcher-у от клиента брокера
type Broker interface {
	EnsureConnected(ctx context.Context) error
	DeclareTopic(ctx context.Context, name string) error
	NewReader(groupID, topic string) MessageReader
	Writer() MessageWriter
	MarkDisconnected(err error)
	Connected() bool
}

// brokerConn подмножество *kafka.Conn, которое использует клиент
type brokerConn interface {
	Brokers() ([]kafka.Broker, error)
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	SetDeadline(t time.Time) error
	Close() error
}

// DialFunc устанавливает соединение с брокером по адресу host:port
type DialFunc func(ctx context.Context, addr string) (brokerConn, error)

// Client управляет единственным логическим соединением процесса с Kafka.
// Соединение устанавливается лениво (EnsureConnected) и восстанавливается после обрыва;
// операции, прерванные обрывом, повторяет вызывающий код.
type Client struct {
	cfg     Config
	logger  *zap.Logger
	dialer  *kafka.Dialer
	dial    DialFunc
	sleeper Sleeper
	writer  *kafka.Writer

	state  *atomic.Int32
	closed *atomic.Bool

	mu   sync.Mutex // сериализует подключение и операции на управляющем соединении
	conn brokerConn

	readersMu sync.Mutex
	readers   []*kafka.Reader
}

// ClientOption настраивает Client (используется в тестах)
type ClientOption func(*Client)

// WithDialFunc подменяет установку соединения
func WithDialFunc(dial DialFunc) ClientOption {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithSleeper подменяет паузы между попытками подключения
func WithSleeper(s Sleeper) ClientOption {
	return func(c *Client) {
		c.sleeper = s
	}
}

// NewClient создаёт клиента. Не подключается к брокеру: недоступная Kafka не должна
// мешать сервису стартовать и отдавать read-трафик.
func NewClient(cfg Config, logger *zap.Logger, opts ...ClientOption) *Client {
	dialer := &kafka.Dialer{
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "kafka_client")),
		dialer:  dialer,
		sleeper: &DefaultSleeper{},
		state:   atomic.NewInt32(int32(StateDisconnected)),
		closed:  atomic.NewBool(false),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{}, // ключ = order_id, события одного заказа в одной партиции
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  1, // повторы делает publisher, чтобы считать attempt
			WriteTimeout: cfg.WriteTimeout,
			BatchSize:    1,
		},
	}
	c.dial = func(ctx context.Context, addr string) (brokerConn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// State возвращает текущее состояние соединения
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Connected сообщает, готов ли клиент к publish/consume (используется в readiness)
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

func (c *Client) setState(s ConnectionState) {
	prev := ConnectionState(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Info("kafka connection state changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", s),
		)
	}
}

// EnsureConnected идемпотентен: если соединение есть - возвращается сразу,
// иначе подключается с экспоненциальным backoff не более ConnectMaxAttempts раз.
// При неудаче возвращает ошибку, оборачивающую ErrBrokerUnavailable.
func (c *Client) EnsureConnected(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.Connected() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Пока ждали мьютекс, другой вызов мог уже подключиться
	if c.Connected() {
		return nil
	}

	c.setState(StateConnecting)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectMaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := Backoff(c.cfg.ConnectBackoff, attempt-1, c.cfg.ConnectBackoffMax)
			c.logger.Info("retrying kafka connection",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.cfg.ConnectMaxAttempts),
				zap.Duration("backoff", backoff),
			)
			if err := c.sleeper.Sleep(ctx, backoff); err != nil {
				c.setState(StateDisconnected)
				return fmt.Errorf("%w: %w", ErrBrokerUnavailable, err)
			}
		}

		conn, err := c.dialAny(ctx)
		if err == nil {
			if c.conn != nil {
				_ = c.conn.Close()
			}
			c.conn = conn
			c.setState(StateConnected)
			return nil
		}

		lastErr = err
		c.logger.Warn("failed to connect to kafka",
			zap.Error(err),
			zap.Strings("brokers", c.cfg.Brokers),
			zap.Int("attempt", attempt),
		)
	}

	c.setState(StateDisconnected)
	return fmt.Errorf("%w after %d attempts: %w", ErrBrokerUnavailable, c.cfg.ConnectMaxAttempts, lastErr)
}

// dialAny подключается к первому доступному брокеру из списка и проверяет metadata-запросом
func (c *Client) dialAny(ctx context.Context) (brokerConn, error) {
	var errs []error
	for _, addr := range c.cfg.Brokers {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		conn, err := c.dial(dialCtx, addr)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		if _, err := conn.Brokers(); err != nil {
			_ = conn.Close()
			errs = append(errs, fmt.Errorf("%s: metadata: %w", addr, err))
			continue
		}
		return conn, nil
	}
	return nil, errors.Join(errs...)
}

// MarkDisconnected переводит клиента в disconnected после ошибки соединения,
// следующий EnsureConnected переподключится
func (c *Client) MarkDisconnected(err error) {
	if c.State() == StateDisconnected {
		return
	}
	c.logger.Warn("kafka connection lost", zap.Error(err))
	c.setState(StateDisconnected)
}

// DeclareTopic идемпотентно создаёт durable топик через controller брокера.
// Безопасно вызывать и со стороны producer, и со стороны consumer.
func (c *Client) DeclareTopic(ctx context.Context, name string) error {
	if err := c.EnsureConnected(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("%w: no controller connection", ErrChannelClosed)
	}

	controller, err := c.conn.Controller()
	if err != nil {
		c.markDisconnectedLocked(err)
		return fmt.Errorf("%w: get controller: %w", ErrChannelClosed, err)
	}

	// Вызов держит c.mu: и dial, и CreateTopics ограничены DialTimeout
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	controllerConn, err := c.dial(dialCtx, net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		c.markDisconnectedLocked(err)
		return fmt.Errorf("%w: dial controller: %w", ErrChannelClosed, err)
	}
	defer controllerConn.Close()

	if deadline, ok := dialCtx.Deadline(); ok {
		if err := controllerConn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set controller deadline: %w", err)
		}
	}

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             name,
		NumPartitions:     c.cfg.TopicPartitions,
		ReplicationFactor: c.cfg.TopicReplication,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		if IsChannelClosed(err) {
			c.markDisconnectedLocked(err)
			return fmt.Errorf("%w: create topic %s: %w", ErrChannelClosed, name, err)
		}
		return fmt.Errorf("create topic %s: %w", name, err)
	}

	c.logger.Debug("kafka topic declared", zap.String("topic", name))
	return nil
}

func (c *Client) markDisconnectedLocked(err error) {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.logger.Warn("kafka connection lost", zap.Error(err))
	c.setState(StateDisconnected)
}

// Writer возвращает общий для процесса writer (kafka.Writer безопасен для конкурентного использования)
func (c *Client) Writer() MessageWriter {
	return c.writer
}

// NewReader создаёт отдельный reader для воркера consumer group.
// Offset коммитится явно через CommitMessages (CommitInterval = 0).
func (c *Client) NewReader(groupID, topic string) MessageReader {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.cfg.Brokers,
		GroupID:        groupID,
		Topic:          topic,
		Dialer:         c.dialer,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})

	c.readersMu.Lock()
	c.readers = append(c.readers, reader)
	c.readersMu.Unlock()

	return &trackedReader{Reader: reader, client: c}
}

// trackedReader убирает reader из списка клиента при закрытии
type trackedReader struct {
	*kafka.Reader
	client *Client
	once   sync.Once
}

func (r *trackedReader) Close() error {
	var err error
	r.once.Do(func() {
		r.client.forgetReader(r.Reader)
		err = r.Reader.Close()
	})
	return err
}

func (c *Client) forgetReader(reader *kafka.Reader) {
	c.readersMu.Lock()
	defer c.readersMu.Unlock()
	for i, r := range c.readers {
		if r == reader {
			c.readers = append(c.readers[:i], c.readers[i+1:]...)
			return
		}
	}
}

// Watch фоновая проверка соединения: раз в HealthInterval делает metadata-запрос,
// при ошибке помечает клиента disconnected, в состоянии disconnected пытается переподключиться.
// Блокируется до отмены ctx.
func (c *Client) Watch(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()

	c.logger.Info("starting kafka connection watcher", zap.Duration("interval", c.cfg.HealthInterval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka connection watcher stopped")
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

func (c *Client) probe(ctx context.Context) {
	if c.closed.Load() {
		return
	}

	if !c.Connected() {
		// Одна фоновая попытка с коротким таймаутом, чтобы не держать мьютекс весь цикл backoff
		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthInterval)
		defer cancel()
		if err := c.EnsureConnected(probeCtx); err != nil {
			c.logger.Debug("kafka still unavailable", zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.setState(StateDisconnected)
		return
	}
	if _, err := c.conn.Brokers(); err != nil {
		c.markDisconnectedLocked(err)
	}
}

// Close закрывает writer, readers и управляющее соединение
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Info("closing kafka client")

	var errs []error
	if err := c.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}

	c.readersMu.Lock()
	readers := c.readers
	c.readers = nil
	c.readersMu.Unlock()
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close reader: %w", err))
		}
	}

	c.mu.Lock()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close conn: %w", err))
		}
		c.conn = nil
	}
	c.mu.Unlock()

	c.setState(StateDisconnected)
	return errors.Join(errs...)
}

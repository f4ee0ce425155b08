// Package kafkatest содержит in-memory брокер для тестов publisher, dispatcher и сервисов.
//
// Семантика упрощена до одной партиции на топик с поштучным подтверждением:
// сообщение, выданное reader-у и не закоммиченное им до Close, снова становится доступным
// группе. Этого достаточно, чтобы воспроизвести падение consumer-а между доставкой и коммитом.
package kafkatest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	platformkafka "github.com/shestoi/GoFoodTech/platform/kafka"
)

var _ platformkafka.Broker = (*Broker)(nil)

// Broker in-memory реализация platformkafka.Broker
type Broker struct {
	mu sync.Mutex

	topics   map[string][]kafka.Message
	declared map[string]bool
	groups   map[string]*groupState

	available    bool
	connected    bool
	disconnects  int
	writeFails   []error
	commitFails  []error
	writeAttempt int

	changed chan struct{}
	writer  *writer
}

type groupState struct {
	acked   map[int64]bool
	claimed map[int64]*Reader
}

// NewBroker создаёт доступный брокер без топиков
func NewBroker() *Broker {
	b := &Broker{
		topics:    make(map[string][]kafka.Message),
		declared:  make(map[string]bool),
		groups:    make(map[string]*groupState),
		available: true,
		changed:   make(chan struct{}),
	}
	b.writer = &writer{broker: b}
	return b
}

// broadcastLocked будит всех, кто ждёт новых сообщений
func (b *Broker) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// SetAvailable включает или выключает брокер. Недоступный брокер отказывает в подключении и записи.
func (b *Broker) SetAvailable(available bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.available = available
	if !available {
		b.connected = false
	}
	b.broadcastLocked()
}

// FailWrites заставляет следующие len(errs) вызовов WriteMessages вернуть указанные ошибки
func (b *Broker) FailWrites(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeFails = append(b.writeFails, errs...)
}

// FailCommits заставляет следующие len(errs) вызовов CommitMessages вернуть указанные ошибки
func (b *Broker) FailCommits(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commitFails = append(b.commitFails, errs...)
}

func (b *Broker) EnsureConnected(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", platformkafka.ErrBrokerUnavailable, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.available {
		return platformkafka.ErrBrokerUnavailable
	}
	b.connected = true
	return nil
}

func (b *Broker) DeclareTopic(ctx context.Context, name string) error {
	if err := b.EnsureConnected(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared[name] = true
	return nil
}

// Declared сообщает, объявлялся ли топик
func (b *Broker) Declared(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.declared[name]
}

func (b *Broker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Broker) MarkDisconnected(error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.disconnects++
}

// Disconnects сколько раз клиента помечали отключённым
func (b *Broker) Disconnects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnects
}

func (b *Broker) Writer() platformkafka.MessageWriter {
	return b.writer
}

// WriteAttempts число вызовов WriteMessages, включая неудачные
func (b *Broker) WriteAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeAttempt
}

// Produce кладёт сообщение в топик в обход writer (без инъекции ошибок)
func (b *Broker) Produce(topic string, key, value []byte, headers ...kafka.Header) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(kafka.Message{Topic: topic, Key: key, Value: value, Headers: headers})
}

func (b *Broker) appendLocked(msg kafka.Message) {
	log := b.topics[msg.Topic]
	msg.Partition = 0
	msg.Offset = int64(len(log))
	msg.Headers = append([]kafka.Header(nil), msg.Headers...)
	b.topics[msg.Topic] = append(log, msg)
	b.broadcastLocked()
}

// Messages возвращает копию всех сообщений топика
func (b *Broker) Messages(topic string) []kafka.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]kafka.Message(nil), b.topics[topic]...)
}

// Acked число сообщений топика, закоммиченных группой
func (b *Broker) Acked(groupID, topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.groupLocked(groupID, topic).acked)
}

// Unacked число сообщений топика, ещё не закоммиченных группой (включая выданные reader-ам)
func (b *Broker) Unacked(groupID, topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic]) - len(b.groupLocked(groupID, topic).acked)
}

func (b *Broker) groupLocked(groupID, topic string) *groupState {
	key := groupID + "/" + topic
	g, ok := b.groups[key]
	if !ok {
		g = &groupState{
			acked:   make(map[int64]bool),
			claimed: make(map[int64]*Reader),
		}
		b.groups[key] = g
	}
	return g
}

func (b *Broker) NewReader(groupID, topic string) platformkafka.MessageReader {
	return &Reader{broker: b, groupID: groupID, topic: topic}
}

type writer struct {
	broker *Broker
}

func (w *writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := w.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	b.writeAttempt++
	if len(b.writeFails) > 0 {
		err := b.writeFails[0]
		b.writeFails = b.writeFails[1:]
		return err
	}
	if !b.available {
		return fmt.Errorf("%w: broker is down", io.ErrUnexpectedEOF)
	}

	for _, m := range msgs {
		if m.Topic == "" {
			return errors.New("kafkatest: message topic is required")
		}
	}
	for _, m := range msgs {
		b.appendLocked(m)
	}
	return nil
}

// Reader участник consumer group
type Reader struct {
	broker  *Broker
	groupID string
	topic   string
	closed  bool
}

func (r *Reader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	b := r.broker
	for {
		b.mu.Lock()
		if r.closed {
			b.mu.Unlock()
			return kafka.Message{}, io.EOF
		}
		if b.available {
			g := b.groupLocked(r.groupID, r.topic)
			for _, m := range b.topics[r.topic] {
				if g.acked[m.Offset] {
					continue
				}
				if _, taken := g.claimed[m.Offset]; taken {
					continue
				}
				g.claimed[m.Offset] = r
				b.mu.Unlock()
				m.Headers = append([]kafka.Header(nil), m.Headers...)
				return m, nil
			}
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-changed:
		}
	}
}

func (r *Reader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := r.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return io.ErrClosedPipe
	}
	if len(b.commitFails) > 0 {
		err := b.commitFails[0]
		b.commitFails = b.commitFails[1:]
		return err
	}

	g := b.groupLocked(r.groupID, r.topic)
	for _, m := range msgs {
		if owner := g.claimed[m.Offset]; owner != r {
			return fmt.Errorf("kafkatest: offset %d is not owned by this reader", m.Offset)
		}
	}
	for _, m := range msgs {
		delete(g.claimed, m.Offset)
		g.acked[m.Offset] = true
	}
	b.broadcastLocked()
	return nil
}

// Close возвращает незакоммиченные сообщения reader-а группе
func (r *Reader) Close() error {
	b := r.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	g := b.groupLocked(r.groupID, r.topic)
	for offset, owner := range g.claimed {
		if owner == r {
			delete(g.claimed, offset)
		}
	}
	b.broadcastLocked()
	return nil
}

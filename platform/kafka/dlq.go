package kafka

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DLQMessage конверт сообщения в Dead Letter Queue
type DLQMessage struct {
	OriginalTopic     string            `json:"original_topic"`
	OriginalPartition int               `json:"original_partition"`
	OriginalOffset    int64             `json:"original_offset"`
	OriginalKey       string            `json:"original_key"`   // base64
	OriginalValue     string            `json:"original_value"` // base64
	OriginalHeaders   map[string]string `json:"original_headers,omitempty"`
	ErrorMessage      string            `json:"error_message"`
	FailedAt          string            `json:"failed_at"` // RFC3339
	Deliveries        int               `json:"deliveries"`
	PaymentID         string            `json:"payment_id,omitempty"` // если удалось декодировать событие
	OrderID           string            `json:"order_id,omitempty"`
}

// DLQPublisher публикует сообщения, которые нельзя применить, в <topic>.dlq
type DLQPublisher struct {
	logger *zap.Logger
	writer MessageWriter
	topic  string
}

// NewDLQPublisher создаёт publisher для DLQ поверх общего writer клиента
func NewDLQPublisher(logger *zap.Logger, writer MessageWriter, topic string) *DLQPublisher {
	return &DLQPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Topic имя DLQ топика
func (p *DLQPublisher) Topic() string {
	return p.topic
}

// Publish отправляет msg в DLQ вместе с причиной
func (p *DLQPublisher) Publish(ctx context.Context, msg kafka.Message, cause error, paymentID, orderID string) error {
	errorMsg := "unknown error"
	if cause != nil {
		errorMsg = cause.Error()
	}

	var headers map[string]string
	if len(msg.Headers) > 0 {
		headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
	}

	dlqMsg := DLQMessage{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       base64.StdEncoding.EncodeToString(msg.Key),
		OriginalValue:     base64.StdEncoding.EncodeToString(msg.Value),
		OriginalHeaders:   headers,
		ErrorMessage:      errorMsg,
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		Deliveries:        Deliveries(msg),
		PaymentID:         paymentID,
		OrderID:           orderID,
	}

	payload, err := json.Marshal(dlqMsg)
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   msg.Key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
	if err != nil {
		return fmt.Errorf("write to dlq %s: %w", p.topic, err)
	}

	p.logger.Warn("message sent to DLQ",
		zap.String("dlq_topic", p.topic),
		zap.String("original_topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("payment_id", paymentID),
		zap.String("order_id", orderID),
		zap.String("error", errorMsg),
	)

	return nil
}

// ParseDLQMessage декодирует конверт из значения сообщения DLQ
func ParseDLQMessage(value []byte) (DLQMessage, error) {
	var m DLQMessage
	if err := json.Unmarshal(value, &m); err != nil {
		return DLQMessage{}, fmt.Errorf("unmarshal dlq message: %w", err)
	}
	if m.OriginalTopic == "" {
		return DLQMessage{}, fmt.Errorf("dlq message has no original_topic")
	}
	return m, nil
}

// ReplayMessage восстанавливает исходное сообщение для повторной публикации в исходный топик.
// Счётчик доставок сбрасывается: оператор уже разобрался с причиной.
func (m DLQMessage) ReplayMessage() (kafka.Message, error) {
	key, err := base64.StdEncoding.DecodeString(m.OriginalKey)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("decode original_key: %w", err)
	}
	value, err := base64.StdEncoding.DecodeString(m.OriginalValue)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("decode original_value: %w", err)
	}

	var headers []kafka.Header
	for k, v := range m.OriginalHeaders {
		if k == HeaderDeliveryCount || k == HeaderFirstFailureAt || k == HeaderLastError {
			continue
		}
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Topic:   m.OriginalTopic,
		Key:     key,
		Value:   value,
		Headers: headers,
	}, nil
}

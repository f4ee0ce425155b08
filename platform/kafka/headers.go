package kafka

import (
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Заголовки повторной доставки. Kafka не умеет nack с requeue, поэтому сообщение
// переотправляется в тот же топик со счётчиком доставок.
const (
	HeaderDeliveryCount  = "x-delivery-count"
	HeaderFirstFailureAt = "x-first-failure-at"
	HeaderLastError      = "x-last-error"
)

// maxLastErrorLen ограничивает размер x-last-error
const maxLastErrorLen = 512

// HeaderValue возвращает значение заголовка (последнее, если их несколько)
func HeaderValue(msg kafka.Message, key string) (string, bool) {
	var (
		value string
		found bool
	)
	for _, h := range msg.Headers {
		if h.Key == key {
			value = string(h.Value)
			found = true
		}
	}
	return value, found
}

// Deliveries номер текущей доставки сообщения обработчику, начиная с 1.
// Битый или отсутствующий заголовок считается первой доставкой.
func Deliveries(msg kafka.Message) int {
	v, ok := HeaderValue(msg, HeaderDeliveryCount)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 1
	}
	return n + 1
}

// requeueMessage строит копию msg для переотправки после неудачной доставки номер deliveries
func requeueMessage(msg kafka.Message, deliveries int, cause error, now time.Time) kafka.Message {
	firstFailure, ok := HeaderValue(msg, HeaderFirstFailureAt)
	if !ok {
		firstFailure = now.UTC().Format(time.RFC3339Nano)
	}

	lastErr := "unknown error"
	if cause != nil {
		lastErr = cause.Error()
	}
	if len(lastErr) > maxLastErrorLen {
		lastErr = lastErr[:maxLastErrorLen]
	}

	headers := withoutHeaders(msg.Headers, HeaderDeliveryCount, HeaderFirstFailureAt, HeaderLastError)
	headers = append(headers,
		kafka.Header{Key: HeaderDeliveryCount, Value: []byte(strconv.Itoa(deliveries))},
		kafka.Header{Key: HeaderFirstFailureAt, Value: []byte(firstFailure)},
		kafka.Header{Key: HeaderLastError, Value: []byte(lastErr)},
	)

	return kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

func withoutHeaders(headers []kafka.Header, keys ...string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers)+len(keys))
	for _, h := range headers {
		skip := false
		for _, k := range keys {
			if h.Key == k {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, h)
		}
	}
	return out
}

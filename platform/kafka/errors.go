package kafka

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/segmentio/kafka-go"
)

var (
	// ErrBrokerUnavailable возвращается, когда EnsureConnected исчерпал попытки подключения
	ErrBrokerUnavailable = errors.New("kafka broker unavailable")
	// ErrChannelClosed оборачивает потерю соединения посреди операции.
	// Клиент переподключится при следующем EnsureConnected, саму операцию повторяет вызывающий код.
	ErrChannelClosed = errors.New("kafka connection closed")
	// ErrClientClosed возвращается после Close
	ErrClientClosed = errors.New("kafka client closed")
)

// permanentError помечает ошибку обработчика как постоянную
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent помечает ошибку как постоянную: сообщение уходит в DLQ без повторной доставки
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка как постоянная
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// IsChannelClosed определяет ошибки уровня соединения (обрыв TCP, недоступный лидер и т.п.)
func IsChannelClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChannelClosed) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// kafka.Writer возвращает WriteErrors - по ошибке на каждое сообщение батча
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil && IsChannelClosed(e) {
				return true
			}
		}
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	switch {
	case errors.Is(err, kafka.BrokerNotAvailable),
		errors.Is(err, kafka.LeaderNotAvailable),
		errors.Is(err, kafka.NotLeaderForPartition),
		errors.Is(err, kafka.NetworkException),
		errors.Is(err, kafka.RequestTimedOut):
		return true
	}

	// kafka.Error тоже реализует net.Error, но остальные коды брокера не про соединение
	var kafkaErr kafka.Error
	if errors.As(err, &kafkaErr) {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

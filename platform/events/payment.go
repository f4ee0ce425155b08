package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// SchemaVersion текущая версия схемы события payment.succeeded
	SchemaVersion = 1
	// PaymentSucceededType тип события в заголовке и в теле сообщения
	PaymentSucceededType = "payment.succeeded"
	// ContentTypeJSON кодировка тела сообщения
	ContentTypeJSON = "application/json"
)

// Заголовки сообщения
const (
	HeaderContentType   = "content-type"
	HeaderSchemaVersion = "schema-version"
	HeaderEventType     = "event-type"
)

var (
	// ErrMalformed возвращается для сообщений, которые нельзя разобрать или которые нарушают схему.
	// Такая ошибка постоянная: повторная доставка не поможет.
	ErrMalformed = errors.New("malformed payment event")
	// ErrUnsupportedVersion возвращается для неизвестной schema_version (рассинхрон producer/consumer)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported schema version", ErrMalformed)
)

// FieldError описывает нарушение схемы в конкретном поле
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap позволяет проверять errors.Is(err, ErrMalformed)
func (e *FieldError) Unwrap() error {
	return ErrMalformed
}

// ConfirmedPayment подтверждённый платёж, из которого строится событие
type ConfirmedPayment struct {
	PaymentID    string
	OrderID      string
	UserID       string
	RestaurantID string
	Amount       int64 // в минимальных единицах валюты
}

// PaymentSucceeded событие успешной оплаты. После создания не изменяется,
// кроме счётчика Attempt, который увеличивает publisher при повторной отправке.
type PaymentSucceeded struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	PaymentID     string    `json:"payment_id"`
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id,omitempty"`
	RestaurantID  string    `json:"restaurant_id,omitempty"`
	Amount        int64     `json:"amount"`
	OccurredAt    time.Time `json:"occurred_at"`
	Attempt       int       `json:"attempt"`
}

// NewPaymentSucceeded создаёт событие для подтверждённого платежа с attempt=1
func NewPaymentSucceeded(p ConfirmedPayment, now time.Time) PaymentSucceeded {
	return PaymentSucceeded{
		SchemaVersion: SchemaVersion,
		EventType:     PaymentSucceededType,
		PaymentID:     p.PaymentID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		RestaurantID:  p.RestaurantID,
		Amount:        p.Amount,
		OccurredAt:    now.UTC(),
		Attempt:       1,
	}
}

// Validate проверяет событие на соответствие схеме
func (e PaymentSucceeded) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, e.SchemaVersion, SchemaVersion)
	}
	if e.EventType != PaymentSucceededType {
		return &FieldError{Field: "event_type", Message: fmt.Sprintf("unexpected event type %q", e.EventType)}
	}
	if e.PaymentID == "" {
		return &FieldError{Field: "payment_id", Message: "payment_id is required"}
	}
	if e.OrderID == "" {
		return &FieldError{Field: "order_id", Message: "order_id is required"}
	}
	if e.Amount <= 0 {
		return &FieldError{Field: "amount", Message: "amount must be positive"}
	}
	if e.OccurredAt.IsZero() {
		return &FieldError{Field: "occurred_at", Message: "occurred_at is required"}
	}
	if e.Attempt < 1 {
		return &FieldError{Field: "attempt", Message: "attempt must be >= 1"}
	}
	return nil
}

// Encode валидирует событие и сериализует его в JSON
func Encode(e PaymentSucceeded) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode разбирает тело сообщения. Неизвестные поля, пропущенные обязательные поля
// и неизвестная версия схемы приводят к ошибке, оборачивающей ErrMalformed.
func Decode(b []byte) (PaymentSucceeded, error) {
	// Сначала смотрим только на версию: новая версия может содержать поля,
	// о которых этот consumer ещё не знает
	var head struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return PaymentSucceeded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.SchemaVersion != SchemaVersion {
		return PaymentSucceeded{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, head.SchemaVersion, SchemaVersion)
	}

	var e PaymentSucceeded
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return PaymentSucceeded{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// Хвост после JSON-объекта тоже считаем нарушением формата
	if dec.More() {
		return PaymentSucceeded{}, fmt.Errorf("%w: trailing data after event", ErrMalformed)
	}

	if err := e.Validate(); err != nil {
		return PaymentSucceeded{}, err
	}

	return e, nil
}

// IsMalformed сообщает, является ли ошибка нарушением схемы
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

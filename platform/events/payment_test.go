package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() PaymentSucceeded {
	return NewPaymentSucceeded(ConfirmedPayment{
		PaymentID:    "p1",
		OrderID:      "o1",
		UserID:       "u1",
		RestaurantID: "r1",
		Amount:       1500,
	}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	e := validEvent()

	b, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{name: "not json", payload: `{not json`},
		{name: "array instead of object", payload: `[1,2,3]`},
		{name: "missing payment_id", payload: `{"schema_version":1,"event_type":"payment.succeeded","order_id":"o1","amount":10,"occurred_at":"2026-01-02T03:04:05Z","attempt":1}`, field: "payment_id"},
		{name: "missing order_id", payload: `{"schema_version":1,"event_type":"payment.succeeded","payment_id":"p1","amount":10,"occurred_at":"2026-01-02T03:04:05Z","attempt":1}`, field: "order_id"},
		{name: "zero amount", payload: `{"schema_version":1,"event_type":"payment.succeeded","payment_id":"p1","order_id":"o1","amount":0,"occurred_at":"2026-01-02T03:04:05Z","attempt":1}`, field: "amount"},
		{name: "amount as string", payload: `{"schema_version":1,"event_type":"payment.succeeded","payment_id":"p1","order_id":"o1","amount":"10","occurred_at":"2026-01-02T03:04:05Z","attempt":1}`},
		{name: "missing occurred_at", payload: `{"schema_version":1,"event_type":"payment.succeeded","payment_id":"p1","order_id":"o1","amount":10,"attempt":1}`, field: "occurred_at"},
		{name: "attempt zero", payload: `{"schema_version":1,"event_type":"payment.succeeded","payment_id":"p1","order_id":"o1","amount":10,"occurred_at":"2026-01-02T03:04:05Z","attempt":0}`, field: "attempt"},
		{name: "wrong event type", payload: `{"schema_version":1,"event_type":"order.created","payment_id":"p1","order_id":"o1","amount":10,"occurred_at":"2026-01-02T03:04:05Z","attempt":1}`, field: "event_type"},
		{name: "unknown field", payload: `{"schema_version":1,"event_type":"payment.succeeded","payment_id":"p1","order_id":"o1","amount":10,"occurred_at":"2026-01-02T03:04:05Z","attempt":1,"currency":"USD"}`},
		{name: "trailing data", payload: `{"schema_version":1,"event_type":"payment.succeeded","payment_id":"p1","order_id":"o1","amount":10,"occurred_at":"2026-01-02T03:04:05Z","attempt":1} {}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, IsMalformed(err))

			if tt.field != "" {
				var fieldErr *FieldError
				require.True(t, errors.As(err, &fieldErr))
				assert.Equal(t, tt.field, fieldErr.Field)
			}
		})
	}
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	payload := `{"schema_version":2,"event_type":"payment.succeeded","payment_id":"p1","order_id":"o1","amount":10,"occurred_at":"2026-01-02T03:04:05Z","attempt":1,"currency":"USD"}`

	_, err := Decode([]byte(payload))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncode_RejectsInvalidEvent(t *testing.T) {
	e := validEvent()
	e.Amount = -5

	_, err := Encode(e)
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

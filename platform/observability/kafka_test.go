package observability

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier_SetReplacesExisting(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: "traceparent", Value: []byte("old")}}}
	c := NewHeaderCarrier(&msg)

	c.Set("traceparent", "new")
	c.Set("baggage", "k=v")

	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "new", c.Get("traceparent"))
	assert.Equal(t, "k=v", c.Get("baggage"))
	assert.ElementsMatch(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Empty(t, c.Get("missing"))
}

func TestProducerConsumerSpan_PropagatesTrace(t *testing.T) {
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample())))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	msg := kafka.Message{Topic: "payment_success", Key: []byte("o1")}
	pctx, pspan := StartProducerSpan(context.Background(), "payment", &msg)
	EndSpan(pspan, nil)

	_, cspan := StartConsumerSpan(context.Background(), "order", msg)
	defer cspan.End()

	producerTrace := trace.SpanFromContext(pctx).SpanContext().TraceID()
	assert.Equal(t, producerTrace, cspan.SpanContext().TraceID())
}

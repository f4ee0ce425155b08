package observability

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartProducerSpan создаёт producer span и кладёт trace context в заголовки msg.
// Span нужно завершить через EndSpan после записи.
func StartProducerSpan(ctx context.Context, serviceName string, msg *kafka.Message) (context.Context, trace.Span) {
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(ctx, "kafka.publish "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.kafka.message.key", string(msg.Key)),
		),
	)
	otel.GetTextMapPropagator().Inject(ctx, NewHeaderCarrier(msg))
	return ctx, span
}

// StartConsumerSpan извлекает trace context из заголовков msg и создаёт consumer span
func StartConsumerSpan(ctx context.Context, serviceName string, msg kafka.Message) (context.Context, trace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, NewHeaderCarrier(&msg))
	tracer := otel.Tracer(serviceName)
	return tracer.Start(ctx, "kafka.process "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.source.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
}

// EndSpan завершает span, помечая его ошибкой, если err != nil
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

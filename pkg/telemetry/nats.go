package telemetry

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aztec-room")

// headerCarrier adapts nats.Header to the TextMapCarrier the propagator needs.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string { return nats.Header(c).Get(key) }
func (c headerCarrier) Set(key, value string) { nats.Header(c).Set(key, value) }
func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func injectHeader(ctx context.Context) nats.Header {
	h := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(h))
	return h
}

func extract(ctx context.Context, h nats.Header) context.Context {
	if h == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(h))
}

func messagingAttrs(subject string, size int) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("messaging.system", "nats"),
		attribute.String("messaging.destination.name", subject),
		attribute.Int("messaging.message.payload_size_bytes", size),
	)
}

// Publish sends a NATS message with trace context in its headers (PRODUCER span).
func Publish(ctx context.Context, nc *nats.Conn, subject string, data []byte) error {
	ctx, span := tracer.Start(ctx, subject+" publish",
		trace.WithSpanKind(trace.SpanKindProducer), messagingAttrs(subject, len(data)))
	defer span.End()

	return nc.PublishMsg(&nats.Msg{Subject: subject, Data: data, Header: injectHeader(ctx)})
}

// Request sends a NATS request with trace context propagated (CLIENT span).
func Request(ctx context.Context, nc *nats.Conn, subject string, data []byte) (*nats.Msg, error) {
	ctx, span := tracer.Start(ctx, subject+" request",
		trace.WithSpanKind(trace.SpanKindClient), messagingAttrs(subject, len(data)))
	defer span.End()

	reply, err := nc.RequestMsgWithContext(ctx, &nats.Msg{Subject: subject, Data: data, Header: injectHeader(ctx)})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("messaging.message.response_size_bytes", len(reply.Data)))
	return reply, nil
}

// ConsumerSpan extracts trace context from a message and starts a CONSUMER
// span. The caller must End the span.
func ConsumerSpan(ctx context.Context, msg *nats.Msg, operation string) (context.Context, trace.Span) {
	ctx = extract(ctx, msg.Header)
	return tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindConsumer), messagingAttrs(msg.Subject, len(msg.Data)))
}

// ServerSpan extracts trace context from a message and starts a SERVER span
// for request/reply responders. The caller must End the span.
func ServerSpan(ctx context.Context, msg *nats.Msg, operation string) (context.Context, trace.Span) {
	ctx = extract(ctx, msg.Header)
	return tracer.Start(ctx, operation,
		trace.WithSpanKind(trace.SpanKindServer), messagingAttrs(msg.Subject, len(msg.Data)))
}

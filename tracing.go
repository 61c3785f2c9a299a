package mqttv3

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for client spans.
const defaultTracerName = "github.com/vitalvas/mqttv3"

// Span attribute keys.
const (
	attrClientID   = attribute.Key("mqtt.client_id")
	attrTopic      = attribute.Key("mqtt.topic")
	attrQoS        = attribute.Key("mqtt.qos")
	attrPacketID   = attribute.Key("mqtt.packet_id")
	attrRetain     = attribute.Key("mqtt.retain")
	attrFilters    = attribute.Key("mqtt.topic_filters")
	attrServer     = attribute.Key("mqtt.server")
	attrReturnCode = attribute.Key("mqtt.return_code")
)

// tracer wraps an OpenTelemetry tracer with the span shapes the client emits.
type tracer struct {
	t trace.Tracer
}

func newTracer(provider trace.TracerProvider) *tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &tracer{t: provider.Tracer(defaultTracerName)}
}

func (t *tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return t.t.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// endSpanOnDone ends span when tok completes.
func endSpanOnDone(span trace.Span, tok Token) {
	select {
	case <-tok.Done():
		endSpan(span, tok.Error())
	default:
		go func() {
			<-tok.Done()
			endSpan(span, tok.Error())
		}()
	}
}

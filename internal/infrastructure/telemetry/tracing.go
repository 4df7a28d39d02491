package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the tracer used for business spans
const TracerName = "fulfillment-sync"

// Span attribute keys
const (
	SpanAttrOrderID         = "order_id"
	SpanAttrOrderLabel      = "order_label"
	SpanAttrOrderStatus     = "order_status"
	SpanAttrGroupIndex      = "group_index"
	SpanAttrGroupIdentifier = "group_identifier"
	SpanAttrGroupStatus     = "group_status"
	SpanAttrHoldType        = "hold_type"
	SpanAttrErrorClass      = "error_class"
	SpanAttrAttempt         = "attempt"
	SpanAttrCRMOperation    = "crm_operation"
)

// StartSpan starts a new internal span. The caller must End it.
//
//	ctx, span := telemetry.StartSpan(ctx, "sync.process_order")
//	defer span.End()
func StartSpan(ctx context.Context, spanName string, kind ...trace.SpanKind) (context.Context, trace.Span) {
	spanKind := trace.SpanKindInternal
	if len(kind) > 0 {
		spanKind = kind[0]
	}
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, spanName, trace.WithSpanKind(spanKind))
}

// StartServiceSpan starts a span named {service}.{method}
func StartServiceSpan(ctx context.Context, service, method string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, method))
}

// SetAttributes adds key/value pairs to span; non-string keys are skipped.
func SetAttributes(span trace.Span, keyValues ...any) {
	if span == nil {
		return
	}
	span.SetAttributes(toAttributes(keyValues)...)
}

// RecordError records err on the span and marks the span failed.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds a timestamped event with attributes to the span
func AddEvent(span trace.Span, name string, keyValues ...any) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(toAttributes(keyValues)...))
}

func toAttributes(keyValues []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, toAttribute(key, keyValues[i+1]))
	}
	return attrs
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

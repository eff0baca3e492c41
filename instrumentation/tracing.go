package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY: these name metadata only. Never attach actual token values,
// authorization codes or client secrets to spans; traces outlive requests
// and are replicated across monitoring infrastructure.
const (
	AttrProviderName      = "auth.provider"
	AttrProviderOperation = "auth.provider.operation"
	AttrSessionPresent    = "auth.session.present"
	AttrFlowStep          = "auth.flow.step"
	AttrPollingStatus     = "auth.polling.status"
	AttrSubject           = "auth.subject"
	AttrErrorCode         = "auth.error.code"
)

// RecordError records an error on a span and marks it failed. Nil-safe.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks a span as successful. Nil-safe.
func SetSpanSuccess(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// SetSpanAttributes sets attributes on a span. Nil-safe.
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// AddFlowAttributes adds authorization flow attributes to a span. Nil-safe.
func AddFlowAttributes(span trace.Span, provider, step string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrProviderName, provider),
		attribute.String(AttrFlowStep, step),
	)
}

// AddProviderAttributes adds provider call attributes to a span. Nil-safe.
func AddProviderAttributes(span trace.Span, provider, operation string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrProviderName, provider),
		attribute.String(AttrProviderOperation, operation),
	)
}

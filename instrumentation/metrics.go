package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the broker's metric instruments.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization flow
	FlowInitialized   metric.Int64Counter
	CallbackProcessed metric.Int64Counter
	CodeExchanged     metric.Int64Counter
	CredentialIssued  metric.Int64Counter
	TokenRefreshed    metric.Int64Counter
	PollingStarted    metric.Int64Counter
	PollingResolved   metric.Int64Counter

	// Security
	RateLimitExceeded metric.Int64Counter
	AuthFailures      metric.Int64Counter

	// Provider
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram

	// Storage gauges, observed via RegisterStoreSizeCallbacks
	StorageSessionsCount metric.Int64ObservableGauge
	StoragePollingCount  metric.Int64ObservableGauge
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	brokerMeter := inst.Meter("broker")
	securityMeter := inst.Meter("security")
	providerMeter := inst.Meter("provider")
	storageMeter := inst.Meter("storage")

	var err error

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"auth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"auth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.FlowInitialized, err = brokerMeter.Int64Counter(
		"auth.flow.initialized",
		metric.WithDescription("Number of authorization flows initialized"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow.initialized counter: %w", err)
	}

	m.CallbackProcessed, err = brokerMeter.Int64Counter(
		"auth.callback.processed",
		metric.WithDescription("Number of provider callbacks processed"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.processed counter: %w", err)
	}

	m.CodeExchanged, err = brokerMeter.Int64Counter(
		"auth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.CredentialIssued, err = brokerMeter.Int64Counter(
		"auth.credential.issued",
		metric.WithDescription("Number of credential pairs issued"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential.issued counter: %w", err)
	}

	m.TokenRefreshed, err = brokerMeter.Int64Counter(
		"auth.token.refreshed",
		metric.WithDescription("Number of credential refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.PollingStarted, err = brokerMeter.Int64Counter(
		"auth.polling.started",
		metric.WithDescription("Number of polling sessions started"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create polling.started counter: %w", err)
	}

	m.PollingResolved, err = brokerMeter.Int64Counter(
		"auth.polling.resolved",
		metric.WithDescription("Number of polling sessions resolved by a callback"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create polling.resolved counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"auth.ratelimit.exceeded",
		metric.WithDescription("Number of rate limited requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.AuthFailures, err = securityMeter.Int64Counter(
		"auth.failures",
		metric.WithDescription("Number of authentication failures by reason"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.failures counter: %w", err)
	}

	m.ProviderAPICallsTotal, err = providerMeter.Int64Counter(
		"auth.provider.calls.total",
		metric.WithDescription("Total number of identity provider API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.calls.total counter: %w", err)
	}

	m.ProviderAPIDuration, err = providerMeter.Float64Histogram(
		"auth.provider.call.duration",
		metric.WithDescription("Identity provider call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.call.duration histogram: %w", err)
	}

	m.StorageSessionsCount, err = storageMeter.Int64ObservableGauge(
		"auth.storage.sessions.count",
		metric.WithDescription("Current number of stored authorization sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.sessions.count gauge: %w", err)
	}

	m.StoragePollingCount, err = storageMeter.Int64ObservableGauge(
		"auth.storage.polling.count",
		metric.WithDescription("Current number of stored polling sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.polling.count gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordFlowInitialized records an authorization flow start.
func (m *Metrics) RecordFlowInitialized(ctx context.Context, provider string) {
	m.FlowInitialized.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordCallbackProcessed records a provider callback, success or error.
func (m *Metrics) RecordCallbackProcessed(ctx context.Context, provider string, success bool) {
	m.CallbackProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordCodeExchange records an authorization code exchange attempt.
func (m *Metrics) RecordCodeExchange(ctx context.Context, provider string, success bool) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("success", success),
	))
}

// RecordCredentialIssued records an issued credential pair.
func (m *Metrics) RecordCredentialIssued(ctx context.Context) {
	m.CredentialIssued.Add(ctx, 1)
}

// RecordTokenRefresh records a credential refresh.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, success bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordPollingStarted records a polling session start.
func (m *Metrics) RecordPollingStarted(ctx context.Context) {
	m.PollingStarted.Add(ctx, 1)
}

// RecordPollingResolved records a polling session resolved by a callback.
func (m *Metrics) RecordPollingResolved(ctx context.Context, status string) {
	m.PollingResolved.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordRateLimitExceeded records a rate limited request.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordAuthFailure records an authentication failure by reason.
func (m *Metrics) RecordAuthFailure(ctx context.Context, reason string) {
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordProviderAPICall records one identity provider call.
func (m *Metrics) RecordProviderAPICall(ctx context.Context, provider, operation string, statusCode int, durationMs float64, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.Int("status", statusCode),
		attribute.Bool("error", err != nil),
	}
	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))
}

package instrumentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	inst, err := New(Config{})
	require.NoError(t, err)

	assert.NotNil(t, inst.Meter("broker"))
	assert.NotNil(t, inst.Tracer("broker"))
	assert.NotNil(t, inst.Metrics())
	assert.NotNil(t, inst.MeterProvider())
	assert.NotNil(t, inst.TracerProvider())
}

func TestMetricsRecording(t *testing.T) {
	inst, err := New(Config{ServiceName: "test", Enabled: true})
	require.NoError(t, err)

	ctx := context.Background()
	m := inst.Metrics()

	// No-op providers must absorb records without panicking
	m.RecordHTTPRequest(ctx, "POST", "/auth/exchange", 200, 12.5)
	m.RecordFlowInitialized(ctx, "certilia")
	m.RecordCallbackProcessed(ctx, "certilia", true)
	m.RecordCodeExchange(ctx, "certilia", false)
	m.RecordCredentialIssued(ctx)
	m.RecordTokenRefresh(ctx, true)
	m.RecordPollingStarted(ctx)
	m.RecordPollingResolved(ctx, "completed")
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordAuthFailure(ctx, "state_mismatch")
	m.RecordProviderAPICall(ctx, "certilia", "userinfo", 400, 30, errors.New("boom"))
}

func TestRegisterStoreSizeCallbacks(t *testing.T) {
	inst, err := New(Config{})
	require.NoError(t, err)

	err = inst.RegisterStoreSizeCallbacks(
		func() int64 { return 3 },
		func() int64 { return 1 },
	)
	assert.NoError(t, err)
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(Config{})
	require.NoError(t, err)

	assert.NoError(t, inst.Shutdown(context.Background()))
	assert.NoError(t, inst.Shutdown(context.Background()))
}

func TestSpanHelpersNilSafe(t *testing.T) {
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil)
	AddFlowAttributes(nil, "certilia", "exchange")
	AddProviderAttributes(nil, "certilia", "userinfo")
}

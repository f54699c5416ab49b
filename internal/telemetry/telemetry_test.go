package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutEndpointReturnsNoopThatDoesNotPanic(t *testing.T) {
	ctx := context.Background()
	tel, shutdown, err := New(ctx, Config{ServiceName: "agentcore-test"})
	require.NoError(t, err)
	require.NotNil(t, tel)

	spanCtx, span := tel.StartProviderSpan(ctx, "fake", "fake-model")
	assert.NotNil(t, spanCtx)
	tel.EndProviderSpan(spanCtx, span, "fake", "fake-model", nil)

	require.NoError(t, shutdown(ctx))
}

func TestNilTelemetrySpansAreSafeNoops(t *testing.T) {
	var tel *Telemetry
	ctx := context.Background()

	ctx1, span1 := tel.StartToolSpan(ctx, "bash", "call-1")
	tel.EndToolSpan(ctx1, span1, "bash", nil)

	ctx2, span2 := tel.StartCompactionSpan(ctx, "sess-1", "prune")
	tel.EndCompactionSpan(ctx2, span2, "prune", errors.New("boom"))
}

func TestEndSpanRecordsErrorWithoutPanicking(t *testing.T) {
	ctx := context.Background()
	tel, shutdown, err := New(ctx, Config{ServiceName: "agentcore-test"})
	require.NoError(t, err)
	defer shutdown(ctx)

	spanCtx, span := tel.StartToolSpan(ctx, "bash", "call-2")
	tel.EndToolSpan(spanCtx, span, "bash", errors.New("exec failed"))
}

func TestHTTPEndpointBuildsExporterWithoutError(t *testing.T) {
	// otlptracegrpc.NewClient never itself errors eagerly (dialing is
	// lazy), so a non-empty endpoint always produces a working exporter
	// here; this asserts New doesn't panic building one for an http
	// endpoint, which exercises the alternate exporter branch.
	ctx := context.Background()
	tel, shutdown, err := New(ctx, Config{
		ServiceName: "agentcore-test",
		Endpoint:    "localhost:4318",
		Protocol:    "http",
		Insecure:    true,
	})
	require.NoError(t, err)
	require.NotNil(t, tel)
	require.NoError(t, shutdown(ctx))
}

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderUnsupportedExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "fdud",
		ExporterType: "carrier-pigeon",
		Endpoint:     "localhost:4317",
	})
	assert.Error(t, err)
}

func TestTracerReturnsNamedTracer(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NotNil(t, Tracer("test"))
}

func TestPortalAttributes(t *testing.T) {
	attrs := PortalAttributes("jwfw", "grades", 200)
	require.Len(t, attrs, 3)
	assert.Equal(t, attribute.String(PortalKey, "jwfw"), attrs[0])
	assert.Equal(t, attribute.Int(StatusKey, 200), attrs[2])
}

func TestJobAttributes(t *testing.T) {
	attrs := JobAttributes("refresh", "ok", 1500)
	require.Len(t, attrs, 3)
	assert.Equal(t, attribute.Int64(JobDurationKey, 1500), attrs[2])
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(assert.AnError, "upstream")
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Bool(ErrorKey, true), attrs[0])
	assert.Equal(t, attribute.String(ErrorTypeKey, "upstream"), attrs[1])
}

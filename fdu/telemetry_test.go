package fdu_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/fduhole/fdusdk/fdu/fdutest"
)

func setupSpanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)))
	t.Cleanup(func() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
	})
	return exporter
}

func spanAttrs(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestLoginEmitsPortalSpans(t *testing.T) {
	exporter := setupSpanRecorder(t)

	mock := fdutest.NewMockPortal()
	defer mock.Close()
	client := mock.NewClient()

	require.NoError(t, client.Login(context.Background(), fdutest.UID, fdutest.Password))

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)

	var login *tracetest.SpanStub
	for i := range spans {
		if spans[i].Name == "uis.login" {
			login = &spans[i]
		}
	}
	require.NotNil(t, login, "no uis.login span recorded")

	attrs := spanAttrs(*login)
	assert.Equal(t, "uis", attrs["portal.name"].AsString())
	assert.Equal(t, "login", attrs["portal.operation"].AsString())
	assert.EqualValues(t, 200, attrs["portal.status_code"].AsInt64())
}

func TestUpstreamFailureSpanCarriesErrorClass(t *testing.T) {
	exporter := setupSpanRecorder(t)

	mock := fdutest.NewMockPortal()
	defer mock.Close()
	mock.Handle("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	client := mock.NewClient()

	_, err := client.GetPage(context.Background(), "my", "boom", mock.URL+"/boom")
	require.Error(t, err)

	var found bool
	for _, s := range exporter.GetSpans() {
		if s.Name != "my.boom" {
			continue
		}
		attrs := spanAttrs(s)
		assert.True(t, attrs["error"].AsBool())
		assert.Equal(t, "upstream_unavailable", attrs["error.type"].AsString())
		assert.EqualValues(t, 500, attrs["portal.status_code"].AsInt64())
		found = true
	}
	assert.True(t, found, "no my.boom span recorded")
}

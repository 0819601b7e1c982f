package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedForTest(t *testing.T) (*Traced, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	traced := &Traced{next: NewInMemory(), tracer: provider.Tracer(tracerName)}
	require.NoError(t, traced.EnsureCollection(context.Background(), testEvents))
	exporter.Reset()
	return traced, exporter
}

func TestTracedRecordsSpans(t *testing.T) {
	traced, exporter := newTracedForTest(t)
	ctx := context.Background()

	created, err := traced.Create(ctx, testEvents.Name, Document{"status": "open"})
	require.NoError(t, err)
	_, err = traced.Query(ctx, testEvents.Name, Eq("status", "open"))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "docstore.create", spans[0].Name)
	assert.Equal(t, "docstore.query", spans[1].Name)
	assert.Contains(t, spans[1].Attributes, attribute.Int("db.rows", 1))
	assert.Contains(t, spans[1].Attributes, attribute.String("db.collection", testEvents.Name))
	assert.NotEmpty(t, created.ID())
}

func TestTracedExpectedErrorsDoNotMarkSpanFailed(t *testing.T) {
	traced, exporter := newTracedForTest(t)

	err := traced.Delete(context.Background(), testEvents.Name, "missing", "open")
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Len(t, spans[0].Events, 1, "error is still recorded as an event")
}

func TestTracedUnexpectedErrorMarksSpanFailed(t *testing.T) {
	traced, exporter := newTracedForTest(t)

	_, err := traced.Create(context.Background(), testEvents.Name, Document{"id": 7})
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

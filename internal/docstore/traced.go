package docstore

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sangue/pkg/platform/sentinel"
)

const tracerName = "sangue/internal/docstore"

// Traced wraps a Store and records one span per operation.
type Traced struct {
	next   Store
	tracer trace.Tracer
}

// NewTraced decorates next with spans from the global tracer provider.
func NewTraced(next Store) *Traced {
	return &Traced{next: next, tracer: otel.Tracer(tracerName)}
}

func (t *Traced) start(ctx context.Context, op, collection string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("db.operation", op),
		attribute.String("db.collection", collection),
	)
	return t.tracer.Start(ctx, "docstore."+op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

// end records err on the span. Not-found and conflicts are expected outcomes
// and leave the span status unset.
func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, sentinel.ErrNotFound) &&
			!errors.Is(err, sentinel.ErrConflict) &&
			!errors.Is(err, sentinel.ErrPreconditionFailed) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func (t *Traced) EnsureCollection(ctx context.Context, spec CollectionSpec) (err error) {
	ctx, span := t.start(ctx, "ensure_collection", spec.Name)
	defer func() { end(span, err) }()
	return t.next.EnsureCollection(ctx, spec)
}

func (t *Traced) ReadAll(ctx context.Context, collection string) (docs []Document, err error) {
	ctx, span := t.start(ctx, "read_all", collection)
	defer func() {
		span.SetAttributes(attribute.Int("db.rows", len(docs)))
		end(span, err)
	}()
	return t.next.ReadAll(ctx, collection)
}

func (t *Traced) Query(ctx context.Context, collection string, filters ...Filter) (docs []Document, err error) {
	fields := make([]string, len(filters))
	for i, f := range filters {
		fields[i] = f.Field
	}
	ctx, span := t.start(ctx, "query", collection, attribute.StringSlice("db.filter_fields", fields))
	defer func() {
		span.SetAttributes(attribute.Int("db.rows", len(docs)))
		end(span, err)
	}()
	return t.next.Query(ctx, collection, filters...)
}

func (t *Traced) Create(ctx context.Context, collection string, doc Document) (_ Document, err error) {
	ctx, span := t.start(ctx, "create", collection)
	defer func() { end(span, err) }()
	return t.next.Create(ctx, collection, doc)
}

func (t *Traced) Replace(ctx context.Context, collection, id string, doc Document) (_ Document, err error) {
	ctx, span := t.start(ctx, "replace", collection,
		attribute.String("db.document_id", id),
		attribute.Bool("db.conditional", doc.ETag() != ""),
	)
	defer func() { end(span, err) }()
	return t.next.Replace(ctx, collection, id, doc)
}

func (t *Traced) Delete(ctx context.Context, collection, id, partitionValue string) (err error) {
	ctx, span := t.start(ctx, "delete", collection, attribute.String("db.document_id", id))
	defer func() { end(span, err) }()
	return t.next.Delete(ctx, collection, id, partitionValue)
}

func (t *Traced) Changes(ctx context.Context, collection string, after int64, limit int) (changes []Change, err error) {
	ctx, span := t.start(ctx, "changes", collection, attribute.Int64("db.after_seq", after))
	defer func() {
		span.SetAttributes(attribute.Int("db.rows", len(changes)))
		end(span, err)
	}()
	return t.next.Changes(ctx, collection, after, limit)
}

func (t *Traced) Head(ctx context.Context) (head int64, err error) {
	ctx, span := t.start(ctx, "head", "")
	defer func() {
		span.SetAttributes(attribute.Int64("db.head_seq", head))
		end(span, err)
	}()
	return t.next.Head(ctx)
}

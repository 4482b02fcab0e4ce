package docstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of store spans.
const TracerName = "storeharness.docstore"

// tracedStore wraps every backend returned by Factory with a span and
// latency metrics per call.
type tracedStore struct {
	Store
	tracer trace.Tracer
}

func instrument(s Store, tracer trace.Tracer) Store {
	return &tracedStore{Store: s, tracer: tracer}
}

// Unwrap returns the backend store.
func (t *tracedStore) Unwrap() Store { return t.Store }

func (t *tracedStore) start(ctx context.Context, op string) (context.Context, trace.Span, func(error)) {
	ctx, span := t.tracer.Start(ctx, "docstore."+op, trace.WithAttributes(
		attribute.String("docstore.kind", string(t.Kind())),
		attribute.String("docstore.index", t.Index()),
	))
	began := time.Now()
	return ctx, span, func(err error) {
		OperationDuration.WithLabelValues(string(t.Kind()), op).Observe(time.Since(began).Seconds())
		if err != nil {
			OperationErrors.WithLabelValues(string(t.Kind()), op).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (t *tracedStore) WriteDocuments(ctx context.Context, docs []Document) (err error) {
	ctx, span, done := t.start(ctx, "WriteDocuments")
	defer func() { done(err) }()
	span.SetAttributes(attribute.Int("document_count", len(docs)))
	return t.Store.WriteDocuments(ctx, docs)
}

func (t *tracedStore) GetAllDocuments(ctx context.Context) (docs []Document, err error) {
	ctx, span, done := t.start(ctx, "GetAllDocuments")
	defer func() { done(err) }()
	docs, err = t.Store.GetAllDocuments(ctx)
	span.SetAttributes(attribute.Int("document_count", len(docs)))
	return docs, err
}

func (t *tracedStore) GetDocumentCount(ctx context.Context) (n int, err error) {
	ctx, _, done := t.start(ctx, "GetDocumentCount")
	defer func() { done(err) }()
	return t.Store.GetDocumentCount(ctx)
}

func (t *tracedStore) QueryByEmbedding(ctx context.Context, emb []float32, topK int) (docs []Document, err error) {
	ctx, span, done := t.start(ctx, "QueryByEmbedding")
	defer func() { done(err) }()
	span.SetAttributes(attribute.Int("top_k", topK))
	return t.Store.QueryByEmbedding(ctx, emb, topK)
}

func (t *tracedStore) DeleteDocuments(ctx context.Context) (err error) {
	ctx, _, done := t.start(ctx, "DeleteDocuments")
	defer func() { done(err) }()
	return t.Store.DeleteDocuments(ctx)
}

package observer

import (
	"context"
	"time"

	"github.com/mirix-ai/mirix"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedBlobStore wraps a mirix.BlobStore with OTEL instrumentation.
// Upload latency dominates the async pipeline, so every operation gets a
// span and a duration sample.
type ObservedBlobStore struct {
	inner mirix.BlobStore
	inst  *Instruments
}

// WrapBlobStore returns an instrumented blob store.
func WrapBlobStore(inner mirix.BlobStore, inst *Instruments) *ObservedBlobStore {
	return &ObservedBlobStore{inner: inner, inst: inst}
}

func (o *ObservedBlobStore) Upload(ctx context.Context, localPath string) (mirix.BlobRef, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "blob.upload")
	defer span.End()
	start := time.Now()

	ref, err := o.inner.Upload(ctx, localPath)
	o.record(ctx, span, "upload", start, err)
	if err == nil {
		span.SetAttributes(AttrBlobName.String(ref.Name))
	}
	return ref, err
}

func (o *ObservedBlobStore) Delete(ctx context.Context, name string) error {
	ctx, span := o.inst.Tracer.Start(ctx, "blob.delete", trace.WithAttributes(
		AttrBlobName.String(name),
	))
	defer span.End()
	start := time.Now()

	err := o.inner.Delete(ctx, name)
	o.record(ctx, span, "delete", start, err)
	return err
}

func (o *ObservedBlobStore) List(ctx context.Context) ([]mirix.BlobRef, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "blob.list")
	defer span.End()
	start := time.Now()

	refs, err := o.inner.List(ctx)
	o.record(ctx, span, "list", start, err)
	return refs, err
}

func (o *ObservedBlobStore) record(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.inst.BlobOps.Add(ctx, 1, metric.WithAttributes(
		AttrBlobOp.String(op),
		attribute.String("status", status),
	))
	o.inst.BlobDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		AttrBlobOp.String(op),
	))
}

var _ mirix.BlobStore = (*ObservedBlobStore)(nil)

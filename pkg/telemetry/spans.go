package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/dex-analysis/pkg/errors"
)

// TracerName is the instrumentation scope of every span this module creates.
const TracerName = "github.com/dex-analysis"

// Span attribute keys.
const (
	AttrContainer   = attribute.Key("dex.container")
	AttrGranularity = attribute.Key("dex.granularity")
	AttrBlobPath    = attribute.Key("dex.blob.path")
	AttrBlobSize    = attribute.Key("dex.blob.size")
	AttrBlobCount   = attribute.Key("dex.blob.count")
	AttrClassCount  = attribute.Key("dex.class.count")
	AttrFailures    = attribute.Key("dex.failure.count")
	AttrErrorKind   = attribute.Key("dex.error.kind")
)

// Tracer returns the module tracer from the global provider.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(TracerName)
}

// StartRun opens the span covering one whole container analysis.
func StartRun(ctx context.Context, container, granularity string) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, "dex.analyze",
		oteltrace.WithAttributes(AttrContainer.String(container), AttrGranularity.String(granularity)))
}

// StartBlob opens the span covering parsing and attribution of one blob.
func StartBlob(ctx context.Context, path string, size int) (context.Context, oteltrace.Span) {
	return Tracer().Start(ctx, "dex.blob",
		oteltrace.WithAttributes(AttrBlobPath.String(path), AttrBlobSize.Int(size)))
}

// End finishes span, marking it failed with the error kind when err is set.
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(AttrErrorKind.String(apperrors.Kind(err)))
		span.SetStatus(codes.Error, apperrors.GetErrorMessage(err))
	}
	span.End()
}

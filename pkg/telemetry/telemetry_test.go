package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	apperrors "github.com/dex-analysis/pkg/errors"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_SERVICE_VERSION", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")

	cfg := LoadFromEnv("1.2.3")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, DefaultServiceName, cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "grpc", cfg.Protocol)

	assert.Equal(t, "unknown", LoadFromEnv("").ServiceVersion)
}

func TestLoadFromEnv_Custom(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "TRUE")
	t.Setenv("OTEL_SERVICE_NAME", "apk-breakdown")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Bearer a=b, x-team = mobile ,broken")
	t.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment=ci")

	cfg := LoadFromEnv("dev")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "apk-breakdown", cfg.ServiceName)
	assert.Equal(t, map[string]string{"Authorization": "Bearer a=b", "x-team": "mobile"}, cfg.Headers)
	assert.Equal(t, "ci", cfg.ResourceAttrs["deployment.environment"])
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in        string
		force     bool
		endpoint  string
		plaintext bool
	}{
		{"http://collector:4317", false, "collector:4317", true},
		{"https://collector:4317", false, "collector:4317", false},
		{"collector:4317", false, "collector:4317", false},
		{"collector:4317", true, "collector:4317", true},
	}
	for _, tt := range tests {
		endpoint, plaintext := splitEndpoint(tt.in, tt.force)
		assert.Equal(t, tt.endpoint, endpoint, tt.in)
		assert.Equal(t, tt.plaintext, plaintext, tt.in)
	}
}

func TestParseRatio(t *testing.T) {
	assert.Equal(t, 1.0, parseRatio(""))
	assert.Equal(t, 1.0, parseRatio("abc"))
	assert.Equal(t, 0.25, parseRatio("0.25"))
	assert.Equal(t, 0.0, parseRatio("-3"))
	assert.Equal(t, 1.0, parseRatio("7"))
}

func TestCreateSampler(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), createSampler(&Config{Sampler: "always_off"}).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), createSampler(&Config{Sampler: "bogus"}).Description())
	assert.Contains(t, createSampler(&Config{Sampler: "traceidratio", SamplerArg: "0.5"}).Description(), "0.5")
}

func TestBuildResource(t *testing.T) {
	res, err := buildResource(context.Background(), &Config{
		ServiceName:    "dex-analysis",
		ServiceVersion: "1.0.0",
		ResourceAttrs:  map[string]string{"team": "mobile"},
	})
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "dex-analysis", attrs["service.name"])
	assert.Equal(t, "mobile", attrs["team"])
}

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	shutdown, err = Init(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, run := StartRun(context.Background(), "app.apk", "class")
	_, ok := StartBlob(ctx, "classes.dex", 1024)
	End(ok, nil)
	_, bad := StartBlob(ctx, "classes2.dex", 12)
	End(bad, apperrors.Wrap(apperrors.CodeTruncatedTable, "type_ids", nil))
	End(run, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "dex.blob", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	var kind string
	for _, kv := range spans[1].Attributes() {
		if kv.Key == AttrErrorKind {
			kind = kv.Value.AsString()
		}
	}
	assert.Equal(t, "TruncatedTable", kind)
	assert.Equal(t, "dex.analyze", spans[2].Name())
	assert.Equal(t, spans[2].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

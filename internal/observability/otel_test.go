package observability

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitMeterProvider_WriteText(t *testing.T) {
	mp, err := InitMeterProvider(Config{
		ServiceName:    "flatfetch-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
	})
	require.NoError(t, err)
	require.NotNil(t, mp.exporter)
	logger := slog.New(slog.DiscardHandler)
	defer func() { _ = mp.Shutdown(context.Background(), logger) }()

	metrics, err := InitMetrics(logger)
	require.NoError(t, err)
	metrics.RecordFetch(context.Background(), 12*time.Millisecond, "full", false)
	metrics.RecordLookup(context.Background(), 3*time.Millisecond, "Wheel", 2, 8)

	var buf bytes.Buffer
	require.NoError(t, mp.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "flatfetch_fetch")
	assert.Contains(t, out, "flatfetch_lookup")
	assert.Contains(t, out, `graph="full"`)
}

func TestParseOTLPProtocol(t *testing.T) {
	for input, want := range map[string]otlpProtocol{
		"":              otlpProtocolGRPC,
		"grpc":          otlpProtocolGRPC,
		" GRPC ":        otlpProtocolGRPC,
		"http":          otlpProtocolHTTP,
		"http/protobuf": otlpProtocolHTTP,
	} {
		got, err := parseOTLPProtocol(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := parseOTLPProtocol("thrift")
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}

func TestExporterOptions(t *testing.T) {
	cfg := OTLPExporterConfig{
		Endpoint:         "collector:4317",
		Insecure:         true,
		Headers:          map[string]string{"x-tenant": "garage"},
		Timeout:          time.Second,
		Compression:      "GZIP",
		RetryEnabled:     true,
		RetryMaxAttempts: 3,
	}
	grpcOpts, err := traceGRPCOptions(cfg)
	require.NoError(t, err)
	assert.Len(t, grpcOpts, 6)

	logOpts, err := logGRPCOptions(cfg)
	require.NoError(t, err)
	assert.Len(t, logOpts, 6)

	cfg.Endpoint = "https://collector:4318/v1/traces"
	cfg.RetryEnabled = false
	httpOpts, err := traceHTTPOptions(cfg)
	require.NoError(t, err)
	assert.Len(t, httpOpts, 5)

	cfg.Insecure = false
	cfg.TLSCertFile = "/nonexistent/ca.pem"
	_, err = logHTTPOptions(cfg)
	assert.ErrorContains(t, err, "failed to read OTLP TLS CA file")
}

func TestBuildTLSConfig_FileNotFound(t *testing.T) {
	// Missing CA file should surface a clear error.
	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: "/nonexistent/ca.pem",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
}

func TestBuildTLSConfig_InvalidCertFormat(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/ca.pem"

	// Write a non-PEM payload to trigger parse failure.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
}

func TestBuildTLSConfig_MissingClientKeyPair(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/client.crt"

	// Only set the cert path to ensure missing key is rejected.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSClientCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTLP TLS client cert and key must both be set")
}

func TestTraceSamplerForRatio_Boundaries(t *testing.T) {
	never := traceSamplerForRatio(0)
	always := traceSamplerForRatio(1)

	decisionNever := never.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionNever)

	decisionAlways := always.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{2},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionAlways)
}

func TestTraceSamplerForRatio_ParentAwareMidRange(t *testing.T) {
	sampler := traceSamplerForRatio(0.5)

	parentSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{3},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	decisionSampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentSampled,
		TraceID:       trace.TraceID{4},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionSampledParent)

	parentNotSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{5},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	decisionUnsampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentNotSampled,
		TraceID:       trace.TraceID{6},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionUnsampledParent)
}

package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/clinicd/internal/config"
)

func TestFromObservability(t *testing.T) {
	obs := config.Default().Observability
	obs.EnableTelemetry = true
	obs.OTLPEndpoint = "otel.example.com:4317"
	obs.OTLPProtocol = ProtocolHTTP
	obs.TraceSampleRate = 0.5

	cfg := FromObservability(obs, "1.4.0")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "clinicd", cfg.ServiceName)
	assert.Equal(t, "1.4.0", cfg.ServiceVersion)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, 0.5, cfg.SampleRate)
	assert.False(t, cfg.Insecure, "remote collectors use TLS")
	require.NoError(t, cfg.Validate())

	local := FromObservability(config.Default().Observability, "")
	assert.True(t, local.Insecure)
	assert.Equal(t, "dev", local.ServiceVersion)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, false},
		{"enabled defaults", func(c *Config) {}, false},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, true},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"unknown protocol", func(c *Config) { c.Protocol = "thrift" }, true},
		{"plaintext remote", func(c *Config) { c.Endpoint = "collector.internal:4317" }, true},
		{"tls remote", func(c *Config) { c.Endpoint = "collector.internal:4317"; c.Insecure = false }, false},
		{"sample rate too high", func(c *Config) { c.SampleRate = 2 }, true},
		{"zero metrics interval", func(c *Config) { c.MetricsInterval = 0 }, true},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	tests := map[string]bool{
		"localhost:4317":         true,
		"http://localhost:4318":  true,
		"127.0.0.1:4317":         true,
		"127.0.0.2":              true,
		"[::1]:4317":             true,
		"::1":                    true,
		"https://otel.io:443":    false,
		"10.0.0.4:4317":          false,
		"localhost.evil.com:443": false,
	}
	for endpoint, want := range tests {
		assert.Equal(t, want, isLocalEndpoint(endpoint), endpoint)
	}
}

func TestNewSampler(t *testing.T) {
	assert.Contains(t, newSampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, newSampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased")
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, tel.Enabled())
	assert.Nil(t, tel.LoggerProvider())
	assert.Equal(t, HealthStatus{}, tel.Health())
	assert.NotNil(t, tel.Tracer("clinicd"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "udp"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledWithOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	tel, err := New(context.Background(), cfg, WithSpanExporter(spans), WithMetricReader(reader))
	require.NoError(t, err)

	assert.True(t, tel.Enabled())
	assert.False(t, tel.Health().Degraded)
	assert.NotNil(t, tel.LoggerProvider())

	_, span := tel.Tracer("clinicd.test").Start(context.Background(), "partition.Partition")
	span.End()
	require.NoError(t, tel.ForceFlush(context.Background()))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "partition.Partition", got[0].Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.Health().Enabled)
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()

	_, span := tt.Tracer("clinicd.test").Start(context.Background(), "extraction.llm")
	span.SetAttributes(attribute.String("llm.provider", "openai"))
	span.End()

	counter, err := tt.Meter("clinicd.test").Int64Counter("clinicd.test.calls")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	assert.Equal(t, "openai", tt.SpanAttr(t, "extraction.llm", "llm.provider").AsString())
	assert.Nil(t, tt.Span("missing"))
	require.NotNil(t, tt.Metric(t, "clinicd.test.calls"))
	assert.Nil(t, tt.Metric(t, "clinicd.test.other"))
}

func TestGRPCCredentials(t *testing.T) {
	info := grpcCredentials().Info()
	assert.Equal(t, "tls", info.SecurityProtocol)
}

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/clinicd/internal/phi"
)

// newBufferLogger returns a logger writing JSON lines into a buffer.
func newBufferLogger(t *testing.T, cfg *Config) (*zap.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := newLogger(cfg, nil, zapcore.AddSync(&buf))
	require.NoError(t, err)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	l, err := New(nil, nil)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_WithOTELProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Stdout = false

	l, err := New(cfg, noop.NewLoggerProvider())
	require.NoError(t, err)
	l.Info("bridged")
}

func TestNew_NoOutput(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Stdout = false

	// OTEL is requested but there is no provider to bridge to.
	_, err := New(cfg, nil)
	require.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "logfmt"

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid logging config")
}

func TestLogger_ScrubsMessageAndFields(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())

	l.Info("extraction failed for Mr. Okafor",
		zap.String("detail", "MRN: A12345 missing vitals"),
		zap.Error(errors.New("call 555-123-4567 for Ms. Delgado")),
		zap.Int("elements", 9),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	entry := lines[0]

	assert.NotContains(t, entry["msg"], "Okafor")
	assert.NotContains(t, entry["detail"], "A12345")
	assert.NotContains(t, entry["error"], "555-123-4567")
	assert.NotContains(t, entry["error"], "Delgado")
	assert.Equal(t, float64(9), entry["elements"])
	assert.Equal(t, "clinicd", entry["service"])
}

func TestLogger_RedactKeys(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())

	l.With(zap.String("API_KEY", "sk-live-abcdef")).Info("llm configured",
		zap.String("patient_name", "Okafor"),
		zap.Strings("sections", []string{"medication_list"}),
	)

	entry := decodeLines(t, buf)[0]
	assert.Equal(t, redacted, entry["API_KEY"])
	assert.Equal(t, redacted, entry["patient_name"])
	assert.Equal(t, []interface{}{"medication_list"}, entry["sections"])
}

func TestLogger_CustomScrubber(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Scrubber = phi.NoopScrubber{}
	l, buf := newBufferLogger(t, cfg)

	l.Info("reviewing Mr. Okafor")

	assert.Equal(t, "reviewing Mr. Okafor", decodeLines(t, buf)[0]["msg"])
}

func TestLogger_SamplingKeepsErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Initial = 2
	cfg.Sampling.Thereafter = 0
	l, buf := newBufferLogger(t, cfg)

	for i := 0; i < 10; i++ {
		l.Info("retrying")
		l.Error("partition failed")
	}

	var infos, errs int
	for _, entry := range decodeLines(t, buf) {
		switch entry["msg"] {
		case "retrying":
			infos++
		case "partition failed":
			errs++
		}
	}
	assert.Equal(t, 2, infos)
	assert.Equal(t, 10, errs)
}

func TestLogger_ConsoleFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = FormatConsole
	l, buf := newBufferLogger(t, cfg)

	l.Warn("layout missing")

	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "layout missing")
}

func TestSync_IgnoresStdoutErrors(t *testing.T) {
	assert.NoError(t, Sync(zap.NewNop()))
}

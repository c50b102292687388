package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/clinicd/internal/config"
	"github.com/fyrsmithlabs/clinicd/internal/phi"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config controls how the logger is built.
type Config struct {
	Level  zapcore.Level
	Format string

	// Stdout and OTEL select the outputs. OTEL only takes effect when a
	// LoggerProvider is passed to New.
	Stdout bool
	OTEL   bool

	// Sampling applies below error level. Errors are never dropped.
	Sampling SamplingConfig

	// Fields are attached to every entry.
	Fields map[string]string

	// RedactKeys are field names whose values are masked outright.
	RedactKeys []string

	// Scrubber redacts identifiers in messages and string values. Nil
	// builds the default phi rule set.
	Scrubber phi.Scrubber
}

// SamplingConfig mirrors zapcore.NewSamplerWithOptions.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// NewDefaultConfig returns JSON logging at info level on stdout.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: FormatJSON,
		Stdout: true,
		OTEL:   true,
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Fields: map[string]string{"service": "clinicd"},
		RedactKeys: []string{
			"api_key", "authorization", "password", "secret", "token",
			"patient_name", "mrn", "date_of_birth", "ssn", "prompt", "response",
		},
	}
}

// FromObservability applies the LOG_LEVEL and LOG_FORMAT settings to the
// defaults.
func FromObservability(obs config.ObservabilityConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if obs.LogLevel != "" {
		lvl, err := LevelFromString(obs.LogLevel)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	if obs.LogFormat != "" {
		cfg.Format = obs.LogFormat
	}
	if obs.ServiceName != "" {
		cfg.Fields["service"] = obs.ServiceName
	}
	return cfg, nil
}

// LevelFromString parses a level name. "warning" is accepted for "warn".
func LevelFromString(level string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != FormatJSON && c.Format != FormatConsole {
		return fmt.Errorf("format must be %q or %q, got %q", FormatJSON, FormatConsole, c.Format)
	}
	if !c.Stdout && !c.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q must have a non-empty key and value", k)
		}
	}
	return nil
}

package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/clinicd/internal/phi"
)

const instrumentationName = "github.com/fyrsmithlabs/clinicd"

// New builds a logger writing to stdout and, when provider is non-nil and
// cfg.OTEL is set, to the OpenTelemetry log pipeline.
func New(cfg *Config, provider log.LoggerProvider) (*zap.Logger, error) {
	return newLogger(cfg, provider, zapcore.Lock(os.Stdout))
}

func newLogger(cfg *Config, provider log.LoggerProvider, out zapcore.WriteSyncer) (*zap.Logger, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	scrubber := cfg.Scrubber
	if scrubber == nil {
		s, err := phi.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create log scrubber: %w", err)
		}
		scrubber = s
	}

	keys := keySet(cfg.RedactKeys)
	cores := make([]zapcore.Core, 0, 2)
	if cfg.Stdout {
		stdout := zapcore.NewCore(newEncoder(cfg.Format), out, cfg.Level)
		cores = append(cores, newScrubbingCore(stdout, scrubber, keys))
	}
	if cfg.OTEL && provider != nil {
		bridge := otelzap.NewCore(instrumentationName, otelzap.WithLoggerProvider(provider))
		cores = append(cores, newScrubbingCore(&levelRangeCore{Core: bridge, min: cfg.Level, max: zapcore.FatalLevel}, scrubber, keys))
	}
	if len(cores) == 0 {
		return nil, errors.New("no log output available")
	}

	core := zapcore.NewTee(cores...)
	if cfg.Sampling.Enabled {
		core = newSampledCore(core, cfg.Sampling)
	}

	fields := make([]zap.Field, 0, len(cfg.Fields))
	for k, v := range cfg.Fields {
		fields = append(fields, zap.String(k, v))
	}

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(fields...),
	), nil
}

func newEncoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == FormatConsole {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewJSONEncoder(encCfg)
}

// newSampledCore samples entries below error level. Error and above always
// pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	loud := &levelRangeCore{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel}
	rest := &levelRangeCore{Core: core, min: zapcore.DebugLevel, max: zapcore.WarnLevel}
	return zapcore.NewTee(loud, zapcore.NewSamplerWithOptions(rest, cfg.Tick, cfg.Initial, cfg.Thereafter))
}

// levelRangeCore only accepts entries with min <= level <= max.
type levelRangeCore struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c *levelRangeCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && lvl <= c.max && c.Core.Enabled(lvl)
}

func (c *levelRangeCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelRangeCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelRangeCore{Core: c.Core.With(fields), min: c.min, max: c.max}
}

// Sync flushes l, ignoring the EINVAL and ENOTTY errors Linux returns for
// stdout.
func Sync(l *zap.Logger) error {
	err := l.Sync()
	var errno syscall.Errno
	if errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}

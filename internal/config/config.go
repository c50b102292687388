// Package config provides configuration loading for clinicd.
//
// Configuration is loaded from environment variables with sensible defaults,
// optionally layered over a YAML file (see LoadWithFile).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete clinicd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	LLM           LLMConfig           `koanf:"llm"`
	Partition     PartitionConfig     `koanf:"partition"`
	Audit         AuditConfig         `koanf:"audit"`
	Layout        LayoutConfig        `koanf:"layout"`
	Inbox         InboxConfig         `koanf:"inbox"`
	NATS          NATSConfig          `koanf:"nats"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxUploadMB     int           `koanf:"max_upload_mb"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	OTLPProtocol    string  `koanf:"otlp_protocol"` // grpc | http/protobuf
	TraceSampleRate float64 `koanf:"trace_sample_rate"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"` // json | console
}

// LLMConfig holds LLM field extractor configuration.
type LLMConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Provider string `koanf:"provider"` // openai | anthropic
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`

	MaxTokens int           `koanf:"max_tokens"`
	Timeout   time.Duration `koanf:"timeout"`
	// MaxRetries counts retries after the first request.
	MaxRetries int           `koanf:"max_retries"`
	MaxBackoff time.Duration `koanf:"max_backoff"`
}

// PartitionConfig holds document-partitioning API configuration.
type PartitionConfig struct {
	APIURL   string        `koanf:"api_url"`
	APIKey   Secret        `koanf:"api_key"`
	Strategy string        `koanf:"strategy"`
	Timeout  time.Duration `koanf:"timeout"`
}

// AuditConfig controls the LLM response audit trail.
type AuditConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Dir      string `koanf:"dir"`
	ScrubPHI bool   `koanf:"scrub_phi"`

	// DetectCredentials extends scrubbing with the gitleaks rule set.
	DetectCredentials bool `koanf:"detect_credentials"`
}

// LayoutConfig points at optional layout files: the section table (YAML or
// TOML) and the discharge summary template.
type LayoutConfig struct {
	Path              string `koanf:"path"`
	DischargeTemplate string `koanf:"discharge_template"`
}

// InboxConfig controls the drop-directory watcher.
type InboxConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
	UseLLM  bool   `koanf:"use_llm"`
}

// NATSConfig controls document event publishing.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// LLM providers accepted by Validate.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var validStrategies = map[string]bool{
	"auto":     true,
	"fast":     true,
	"hi_res":   true,
	"ocr_only": true,
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9090,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadMB:     50,
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "clinicd",
			OTLPEndpoint:    "localhost:4317",
			OTLPProtocol:    "grpc",
			TraceSampleRate: 1.0,
			LogLevel:        "info",
			LogFormat:       "json",
		},
		LLM: LLMConfig{
			Enabled:    true,
			Provider:   ProviderOpenAI,
			MaxTokens:  1000,
			Timeout:    30 * time.Second,
			MaxRetries: 4,
			MaxBackoff: 60 * time.Second,
		},
		Partition: PartitionConfig{
			APIURL:   "https://api.unstructuredapp.io",
			Strategy: "hi_res",
			Timeout:  120 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:           true,
			Dir:               "llm_audit",
			ScrubPHI:          true,
			DetectCredentials: true,
		},
		Inbox: InboxConfig{
			UseLLM: true,
		},
		NATS: NATSConfig{
			URL: "nats://127.0.0.1:4222",
		},
	}
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - SERVER_HOST, SERVER_HTTP_PORT (default: localhost:9090)
//   - SERVER_SHUTDOWN_TIMEOUT (default: 10s), SERVER_MAX_UPLOAD_MB (default: 50)
//   - OTEL_ENABLE (default: false), OTEL_SERVICE_NAME (default: clinicd)
//   - OTEL_EXPORTER_OTLP_ENDPOINT (default: localhost:4317)
//   - OTEL_EXPORTER_OTLP_PROTOCOL (default: grpc), OTEL_TRACES_SAMPLE_RATE (default: 1.0)
//   - LOG_LEVEL (default: info), LOG_FORMAT (default: json)
//   - LLM_ENABLED (default: true), LLM_PROVIDER (default: openai), LLM_MODEL
//   - LLM_API_KEY, falling back to OPENAI_API_KEY or ANTHROPIC_API_KEY
//   - LLM_BASE_URL, LLM_MAX_TOKENS, LLM_TIMEOUT, LLM_MAX_RETRIES, LLM_MAX_BACKOFF
//   - PARTITION_API_URL, PARTITION_API_KEY (or UNSTRUCTURED_API_KEY)
//   - PARTITION_STRATEGY (default: hi_res), PARTITION_TIMEOUT (default: 120s)
//   - AUDIT_ENABLED (default: true), AUDIT_DIR, AUDIT_SCRUB_PHI (default: true),
//     AUDIT_DETECT_CREDENTIALS (default: true)
//   - LAYOUT_PATH, LAYOUT_DISCHARGE_TEMPLATE
//   - INBOX_ENABLED, INBOX_DIR, INBOX_USE_LLM (default: true)
//   - NATS_ENABLED, NATS_URL
//
// Example:
//
//	cfg := config.Load()
//	fmt.Println("Server port:", cfg.Server.Port)
func Load() *Config {
	d := Default()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", d.Server.Host),
			Port:            getEnvInt("SERVER_HTTP_PORT", d.Server.Port),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", d.Server.ShutdownTimeout),
			MaxUploadMB:     getEnvInt("SERVER_MAX_UPLOAD_MB", d.Server.MaxUploadMB),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", d.Observability.EnableTelemetry),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", d.Observability.ServiceName),
			OTLPEndpoint:    getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", d.Observability.OTLPEndpoint),
			OTLPProtocol:    getEnvString("OTEL_EXPORTER_OTLP_PROTOCOL", d.Observability.OTLPProtocol),
			TraceSampleRate: getEnvFloat("OTEL_TRACES_SAMPLE_RATE", d.Observability.TraceSampleRate),
			LogLevel:        strings.ToLower(getEnvString("LOG_LEVEL", d.Observability.LogLevel)),
			LogFormat:       strings.ToLower(getEnvString("LOG_FORMAT", d.Observability.LogFormat)),
		},
		LLM: LLMConfig{
			Enabled:    getEnvBool("LLM_ENABLED", d.LLM.Enabled),
			Provider:   strings.ToLower(getEnvString("LLM_PROVIDER", d.LLM.Provider)),
			Model:      getEnvString("LLM_MODEL", d.LLM.Model),
			APIKey:     Secret(getEnvString("LLM_API_KEY", "")),
			BaseURL:    getEnvString("LLM_BASE_URL", d.LLM.BaseURL),
			MaxTokens:  getEnvInt("LLM_MAX_TOKENS", d.LLM.MaxTokens),
			Timeout:    getEnvDuration("LLM_TIMEOUT", d.LLM.Timeout),
			MaxRetries: getEnvInt("LLM_MAX_RETRIES", d.LLM.MaxRetries),
			MaxBackoff: getEnvDuration("LLM_MAX_BACKOFF", d.LLM.MaxBackoff),
		},
		Partition: PartitionConfig{
			APIURL:   getEnvString("PARTITION_API_URL", d.Partition.APIURL),
			APIKey:   Secret(getEnvString("PARTITION_API_KEY", "")),
			Strategy: getEnvString("PARTITION_STRATEGY", d.Partition.Strategy),
			Timeout:  getEnvDuration("PARTITION_TIMEOUT", d.Partition.Timeout),
		},
		Audit: AuditConfig{
			Enabled:           getEnvBool("AUDIT_ENABLED", d.Audit.Enabled),
			Dir:               getEnvString("AUDIT_DIR", d.Audit.Dir),
			ScrubPHI:          getEnvBool("AUDIT_SCRUB_PHI", d.Audit.ScrubPHI),
			DetectCredentials: getEnvBool("AUDIT_DETECT_CREDENTIALS", d.Audit.DetectCredentials),
		},
		Layout: LayoutConfig{
			Path:              getEnvString("LAYOUT_PATH", ""),
			DischargeTemplate: getEnvString("LAYOUT_DISCHARGE_TEMPLATE", ""),
		},
		Inbox: InboxConfig{
			Enabled: getEnvBool("INBOX_ENABLED", d.Inbox.Enabled),
			Dir:     getEnvString("INBOX_DIR", d.Inbox.Dir),
			UseLLM:  getEnvBool("INBOX_USE_LLM", d.Inbox.UseLLM),
		},
		NATS: NATSConfig{
			Enabled: getEnvBool("NATS_ENABLED", d.NATS.Enabled),
			URL:     getEnvString("NATS_URL", d.NATS.URL),
		},
	}

	applyKeyFallbacks(cfg)
	return cfg
}

// applyKeyFallbacks fills API keys from the providers' conventional
// environment variables when they were not configured explicitly.
func applyKeyFallbacks(cfg *Config) {
	if !cfg.LLM.APIKey.IsSet() {
		switch cfg.LLM.Provider {
		case ProviderOpenAI:
			cfg.LLM.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
		case ProviderAnthropic:
			cfg.LLM.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
		}
	}
	if !cfg.Partition.APIKey.IsSet() {
		cfg.Partition.APIKey = Secret(os.Getenv("UNSTRUCTURED_API_KEY"))
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout or upload limit is not positive
//   - Service name is empty (when telemetry is enabled)
//   - The OTLP protocol, trace sample rate or log format is invalid
//   - The LLM provider is unknown (when the LLM is enabled)
//   - A URL has an unexpected scheme
//   - The partition strategy is unknown
//   - A directory contains a parent reference
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d MB", c.Server.MaxUploadMB)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	switch c.Observability.OTLPProtocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("invalid otlp protocol: %q (must be grpc or http/protobuf)", c.Observability.OTLPProtocol)
	}
	if r := c.Observability.TraceSampleRate; r < 0 || r > 1 {
		return fmt.Errorf("invalid trace sample rate: %g (must be 0-1)", r)
	}
	switch c.Observability.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q (must be json or console)", c.Observability.LogFormat)
	}

	if c.LLM.Enabled {
		switch c.LLM.Provider {
		case ProviderOpenAI, ProviderAnthropic:
		default:
			return fmt.Errorf("invalid llm provider: %q (must be openai or anthropic)", c.LLM.Provider)
		}
		if c.LLM.MaxRetries < 0 {
			return fmt.Errorf("invalid llm max retries: %d", c.LLM.MaxRetries)
		}
	}
	if c.LLM.BaseURL != "" {
		if err := validateURL(c.LLM.BaseURL, "http", "https"); err != nil {
			return fmt.Errorf("llm base url: %w", err)
		}
	}

	if err := validateURL(c.Partition.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("partition api url: %w", err)
	}
	if !validStrategies[c.Partition.Strategy] {
		return fmt.Errorf("invalid partition strategy: %q", c.Partition.Strategy)
	}

	if c.Audit.Enabled {
		if c.Audit.Dir == "" {
			return errors.New("audit dir required when audit is enabled")
		}
		if err := validateDir(c.Audit.Dir); err != nil {
			return fmt.Errorf("audit dir: %w", err)
		}
	}

	if c.Inbox.Enabled {
		if c.Inbox.Dir == "" {
			return errors.New("inbox dir required when inbox is enabled")
		}
		if err := validateDir(c.Inbox.Dir); err != nil {
			return fmt.Errorf("inbox dir: %w", err)
		}
	}

	if c.NATS.Enabled {
		if err := validateURL(c.NATS.URL, "nats", "tls", "ws", "wss"); err != nil {
			return fmt.Errorf("nats url: %w", err)
		}
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid url %q (scheme must be one of %s)", raw, strings.Join(schemes, ", "))
}

func validateDir(dir string) error {
	for _, part := range strings.Split(strings.ReplaceAll(dir, "\\", "/"), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal not allowed: %s", dir)
		}
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

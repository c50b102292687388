package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/clinicd/internal/document"
	"github.com/fyrsmithlabs/clinicd/internal/logging"
	"github.com/fyrsmithlabs/clinicd/internal/sections"
)

const instrumentationName = "github.com/fyrsmithlabs/clinicd/internal/extraction"

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-haiku-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 1000
	defaultTemperature      = 0.1
	defaultTimeout          = 30 * time.Second
	defaultMaxAttempts      = 5
	defaultBaseBackoff      = 1 * time.Second
	defaultMaxBackoff       = 60 * time.Second
)

// Rate limiter defaults: 50 requests per minute for both APIs.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

const systemPrompt = "You are a medical data extraction assistant. Extract structured data from medical documents and return ONLY valid JSON, no explanations or additional text."

const extractPrompt = `Extract all structured medical data from the following document sections. Return ONLY a valid JSON object with these fields:

- patient_info: Object with fields: name, mrn, age, gender, date_of_birth (all optional)
- diagnoses: Array of diagnosis strings
- medications: Array of objects with "name" and "dosage" fields
- allergies: Array of allergy strings (empty array if "no known allergies" or "NKA")
- vital_signs: Object with fields: blood_pressure, heart_rate, temperature, respiratory_rate, oxygen_saturation (all optional)

Document Text:
%s

Return ONLY the JSON object, no other text. Example format:
{
  "patient_info": {"name": "John Doe", "mrn": "12345", "age": "45", "gender": "Male"},
  "diagnoses": ["Hypertension", "Diabetes"],
  "medications": [{"name": "Metformin", "dosage": "500 mg"}],
  "allergies": [],
  "vital_signs": {"blood_pressure": "120/80", "heart_rate": "72"}
}`

// ErrThrottled is returned when the service kept rate limiting after every
// allowed attempt.
var ErrThrottled = errors.New("rate limit exceeded after all retry attempts")

// completion is one provider's chat endpoint.
type completion interface {
	// newRequest builds the HTTP request for one prompt.
	newRequest(ctx context.Context, system, user string) (*http.Request, error)
	// text extracts the generated text from a 200 response body.
	text(body []byte) (string, error)
	// errorMessage extracts a readable message from an error response body.
	errorMessage(body []byte) string
}

// llmExtractor implements FieldExtractor over a chat completion API.
type llmExtractor struct {
	provider    string
	model       string
	api         completion
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	audit       AuditSink
	logger      *zap.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

func newLLMExtractor(cfg Config, audit AuditSink, logger *zap.Logger) (*llmExtractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key required", cfg.Provider)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if audit == nil {
		audit = NoOpAuditSink{}
	}

	cfg = withDefaults(cfg)
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var api completion
	switch cfg.Provider {
	case ProviderOpenAI:
		api = &openAIAPI{cfg: cfg}
	case ProviderAnthropic:
		api = &anthropicAPI{cfg: cfg}
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}

	return &llmExtractor{
		provider:    cfg.Provider,
		model:       cfg.Model,
		api:         api,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		audit:       audit,
		logger:      logger.Named("llm"),
		metrics:     NewMetrics(),
		tracer:      otel.Tracer(instrumentationName),
	}, nil
}

// withDefaults fills unset fields with the provider defaults.
func withDefaults(cfg Config) Config {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
		if cfg.Provider == ProviderAnthropic {
			cfg.Model = defaultAnthropicModel
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
		if cfg.Provider == ProviderAnthropic {
			cfg.BaseURL = defaultAnthropicBaseURL
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return cfg
}

// ExtractFromSections sends one batched prompt covering the chosen sections.
func (l *llmExtractor) ExtractFromSections(ctx context.Context, secs *sections.Sections, selected []string, label string) (document.Record, error) {
	ctx, span := l.tracer.Start(ctx, "extraction.llm",
		trace.WithAttributes(
			attribute.String("llm.provider", l.provider),
			attribute.String("llm.model", l.model),
			attribute.Int("llm.selected_sections", len(selected)),
		))
	defer span.End()

	body := buildPrompt(secs, selected)
	if body == "" {
		span.SetAttributes(attribute.Bool("llm.skipped", true))
		return document.NewRecord(), nil
	}
	prompt := fmt.Sprintf(extractPrompt, body)

	start := time.Now()
	raw, err := l.complete(ctx, prompt)
	l.metrics.LLMDuration.WithLabelValues(l.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrThrottled) {
			outcome = "throttled"
		}
		l.metrics.LLMRequestsTotal.WithLabelValues(l.provider, outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm request failed")
		return document.NewRecord(), err
	}

	rec, parsed, perr := parseRecordJSON(raw)
	l.writeAudit(ctx, label, prompt, raw, parsed)
	if perr != nil {
		l.metrics.LLMRequestsTotal.WithLabelValues(l.provider, "malformed").Inc()
		logging.For(ctx, l.logger).Warn("discarding malformed llm response",
			zap.String("document", label),
			zap.Error(perr))
		span.SetAttributes(attribute.Bool("llm.malformed", true))
		return document.NewRecord(), nil
	}

	l.metrics.LLMRequestsTotal.WithLabelValues(l.provider, "ok").Inc()
	return rec, nil
}

// complete sends the prompt, retrying throttling, server and network
// errors with capped exponential backoff.
func (l *llmExtractor) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff(l.baseBackoff, l.maxBackoff, attempt-1)
			logging.For(ctx, l.logger).Warn("llm request failed, retrying",
				zap.String("provider", l.provider),
				zap.Int("attempt", attempt-1),
				zap.Int("max_attempts", l.maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
		}

		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter error: %w", err)
		}

		text, err := l.doRequest(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}

	var throttled *throttleError
	if errors.As(lastErr, &throttled) {
		return "", fmt.Errorf("%w (%d attempts): %v", ErrThrottled, l.maxAttempts, lastErr)
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs one HTTP round trip.
func (l *llmExtractor) doRequest(ctx context.Context, prompt string) (string, error) {
	req, err := l.api.newRequest(ctx, systemPrompt, prompt)
	if err != nil {
		return "", err
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: &throttleError{status: resp.StatusCode}}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, l.api.errorMessage(body))}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, l.api.errorMessage(body))
	}

	text, err := l.api.text(body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (l *llmExtractor) writeAudit(ctx context.Context, label, prompt, raw string, parsed any) {
	rec := AuditRecord{
		Timestamp:       time.Now(),
		Model:           l.model,
		Provider:        l.provider,
		Document:        label,
		Response:        parsed,
		RawResponseText: raw,
		PromptPreview:   promptPreview(prompt),
		Prompt:          prompt,
	}
	if parsed == nil {
		rec.Response = map[string]string{"raw_response": raw}
	}
	if err := l.audit.Write(ctx, rec); err != nil {
		logging.For(ctx, l.logger).Warn("failed to write llm audit record", zap.String("document", label), zap.Error(err))
	}
}

// Available returns true if the extractor is configured.
func (l *llmExtractor) Available() bool {
	return l.api != nil
}

// Provider names the backing service.
func (l *llmExtractor) Provider() string {
	return l.provider
}

// Close releases idle connections. In-flight calls are not interrupted.
func (l *llmExtractor) Close() error {
	l.httpClient.CloseIdleConnections()
	return nil
}

// buildPrompt concatenates the chosen sections under "=== NAME ===" banners.
// Unknown and empty sections are skipped.
func buildPrompt(secs *sections.Sections, selected []string) string {
	names := selected
	if len(names) == 0 {
		names = secs.Names()
	}

	var parts []string
	for _, name := range names {
		if !secs.Has(name) {
			continue
		}
		text := secs.Text(name)
		if strings.TrimSpace(text) == "" {
			continue
		}
		banner := strings.ToUpper(strings.ReplaceAll(name, "_", " "))
		parts = append(parts, "=== "+banner+" ===\n"+text+"\n")
	}
	return strings.Join(parts, "\n")
}

// backoff returns base doubled retry-1 times, capped at limit.
func backoff(base, limit time.Duration, retry int) time.Duration {
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openAIAPI speaks the OpenAI chat completions protocol.
type openAIAPI struct {
	cfg Config
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *openAIAPI) newRequest(ctx context.Context, system, user string) (*http.Request, error) {
	payload, err := json.Marshal(openAIRequest{
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	return req, nil
}

func (o *openAIAPI) text(body []byte) (string, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *openAIAPI) errorMessage(body []byte) string {
	var e openAIError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}

// anthropicAPI speaks the Anthropic messages protocol.
type anthropicAPI struct {
	cfg Config
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *anthropicAPI) newRequest(ctx context.Context, system, user string) (*http.Request, error) {
	payload, err := json.Marshal(anthropicRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		System:      system,
		Messages:    []anthropicMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", a.cfg.APIKey)
	req.Header.Set("Anthropic-Version", "2023-06-01")
	return req, nil
}

func (a *anthropicAPI) text(body []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return b.String(), nil
}

func (a *anthropicAPI) errorMessage(body []byte) string {
	var e anthropicError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}

// throttleError reports a rate-limiting response.
type throttleError struct {
	status int
}

func (e *throttleError) Error() string {
	return fmt.Sprintf("rate limited (%d)", e.status)
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

var _ FieldExtractor = (*llmExtractor)(nil)

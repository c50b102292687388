package partition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
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
)

const instrumentationName = "github.com/fyrsmithlabs/clinicd/internal/partition"

const (
	DefaultURL        = "https://api.unstructuredapp.io"
	DefaultStrategy   = "hi_res"
	DefaultHiResModel = "yolox"
	DefaultTimeout    = 120 * time.Second

	generalPath = "/general/v0/general"

	// maxResponseSize bounds the element JSON read from the API.
	maxResponseSize = 64 << 20
)

// ErrNotConfigured indicates the client has no API key.
var ErrNotConfigured = errors.New("partition API key not configured")

// Config configures the partition API client.
type Config struct {
	URL        string
	APIKey     string
	Strategy   string
	HiResModel string
	Timeout    time.Duration
}

// Client sends PDFs to the hosted partition API and decodes the returned
// elements.
type Client struct {
	endpoint   string
	apiKey     string
	strategy   string
	hiResModel string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewClient creates a partition client. Unset fields take their defaults.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultStrategy
	}
	if cfg.HiResModel == "" {
		cfg.HiResModel = DefaultHiResModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		endpoint:   Endpoint(cfg.URL),
		apiKey:     cfg.APIKey,
		strategy:   cfg.Strategy,
		hiResModel: cfg.HiResModel,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// Rate limit: 10 documents per minute with burst of 2.
		limiter: rate.NewLimiter(rate.Limit(10.0/60.0), 2),
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}, nil
}

// Endpoint resolves the partition URL. Hosts of the legacy hosted API get
// the general partition path appended; other URLs are used as given.
func Endpoint(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.Contains(base, "platform.unstructuredapp.io/api/v1"):
		return base
	case strings.Contains(base, "api.unstructuredapp.io"), strings.Contains(base, "api.unstructured.io"):
		if strings.Contains(base, generalPath) {
			return base
		}
		return base + generalPath
	default:
		return base
	}
}

// Partition uploads content as filename and returns its elements in
// document order.
func (c *Client) Partition(ctx context.Context, filename string, content io.Reader) ([]document.Element, error) {
	ctx, span := c.tracer.Start(ctx, "partition.Partition",
		trace.WithAttributes(attribute.String("partition.strategy", c.strategy)))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	body, contentType, err := c.multipartBody(filename, content)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("unstructured-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("partition request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("partition API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-200 response")
		return nil, err
	}

	elements, err := document.DecodeElements(bytes.NewReader(data))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("partition.elements", len(elements)))
	c.logger.Info("document partitioned",
		zap.String("file", filename),
		zap.Int("elements", len(elements)),
		zap.Duration("duration", time.Since(start)))

	return elements, nil
}

func (c *Client) multipartBody(filename string, content io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("files", filename)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", fmt.Errorf("copying upload: %w", err)
	}
	if err := w.WriteField("strategy", c.strategy); err != nil {
		return nil, "", err
	}
	if c.strategy == DefaultStrategy {
		if err := w.WriteField("hi_res_model_name", c.hiResModel); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

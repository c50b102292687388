package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRequests    = "clinicd.http.requests_total"
	metricDuration    = "clinicd.http.request_duration_seconds"
	metricUploadBytes = "clinicd.http.upload_size_bytes"
	metricInFlight    = "clinicd.http.active_requests"

	uploadRoute = "/api/v1/documents"
)

// apiMetrics records OTEL request metrics for the API.
type apiMetrics struct {
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	uploadBytes metric.Int64Histogram
	inFlight    metric.Int64UpDownCounter
}

// newAPIMetrics creates the instruments on meter. Instruments that fail to
// register are left nil and skipped; the joined error is returned for
// logging.
func newAPIMetrics(meter metric.Meter) (*apiMetrics, error) {
	m := &apiMetrics{}
	var errs [4]error

	m.requests, errs[0] = meter.Int64Counter(metricRequests,
		metric.WithDescription("API requests by method, route and status."),
		metric.WithUnit("{request}"))
	m.duration, errs[1] = meter.Float64Histogram(metricDuration,
		metric.WithDescription("API request latency. Uploads include partitioning and extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120))
	m.uploadBytes, errs[2] = meter.Int64Histogram(metricUploadBytes,
		metric.WithDescription("Size of document upload bodies."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 16<<10, 128<<10, 1<<20, 5<<20, 20<<20, 50<<20))
	m.inFlight, errs[3] = meter.Int64UpDownCounter(metricInFlight,
		metric.WithDescription("API requests currently being served."),
		metric.WithUnit("{request}"))

	return m, errors.Join(errs[:]...)
}

// middleware records one data point per request. The route label is the
// matched pattern (/api/v1/documents/:id), never the raw path, so document
// IDs do not become label values.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := req.Context()
			start := time.Now()

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			err := next(c)
			if err != nil {
				// Write the error response now so its status is recorded.
				// The error handler skips committed responses.
				c.Error(err)
			}

			route := routeLabel(c.Path())
			attrs := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("route", route),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.uploadBytes != nil && req.Method == http.MethodPost && route == uploadRoute && req.ContentLength > 0 {
				m.uploadBytes.Record(ctx, req.ContentLength, attrs)
			}
			return err
		}
	}
}

// routeLabel maps the empty route of unmatched requests to "unmatched".
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

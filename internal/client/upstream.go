// Package client provides the outbound HTTP client used for relayed calls.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"api-relay-go/internal/config"
	"api-relay-go/internal/envelope"
	"api-relay-go/internal/metrics"
	"api-relay-go/internal/model"
	"api-relay-go/internal/telemetry"
)

// UpstreamClient sends relayed requests to arbitrary upstream URLs.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     telemetry.Instrumenter
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics and tracer parameters are optional; pass nil to disable them.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tracer telemetry.Instrumenter) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if tracer == nil {
		tracer = telemetry.Noop()
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
		tracer:  tracer,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	ctx, span := c.tracer.Start(req.Context(), req)
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		span.End(0, err)
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	span.End(resp.StatusCode, nil)
	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		StatusText: envelope.StatusText(resp),
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Send builds a request from its parts and executes it.
// The provided context controls the lifetime of the upstream request.
func (c *UpstreamClient) Send(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}

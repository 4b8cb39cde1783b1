// Package telemetry traces upstream relay calls with OpenTelemetry.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "api-relay-go/internal/telemetry"

var httpHostKey = attribute.Key("http.host")

// Config selects the OTLP exporter. Tracing is disabled when Endpoint is empty.
type Config struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
	Version     string
	Headers     map[string]string
	DialTimeout time.Duration
}

// Enabled reports whether an exporter endpoint is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Instrumenter starts one span per upstream request.
type Instrumenter interface {
	Start(ctx context.Context, req *http.Request) (context.Context, Span)
	Shutdown(ctx context.Context) error
}

// Span is an in-flight upstream request span.
type Span interface {
	End(statusCode int, err error)
}

type providerOptions struct {
	spanProcessors []sdktrace.SpanProcessor
}

// Option customizes the tracer provider built by New.
type Option func(*providerOptions)

// WithSpanProcessor registers an additional span processor (tests use a recorder).
func WithSpanProcessor(proc sdktrace.SpanProcessor) Option {
	return func(opts *providerOptions) {
		if proc != nil {
			opts.spanProcessors = append(opts.spanProcessors, proc)
		}
	}
}

type manager struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	shutdown sync.Once
}

// New builds an Instrumenter. It returns a no-op implementation when neither
// an endpoint nor a span processor is configured.
func New(cfg Config, opts ...Option) (Instrumenter, error) {
	builder := providerOptions{}
	for _, opt := range opts {
		opt(&builder)
	}

	if !cfg.Enabled() && len(builder.spanProcessors) == 0 {
		return Noop(), nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(resourceAttributes(cfg)...),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Enabled() {
		exporter, err := newExporter(cfg)
		if err != nil {
			return nil, err
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	for _, proc := range builder.spanProcessors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(proc))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	return &manager{tracer: tp.Tracer(tracerName), provider: tp}, nil
}

func (m *manager) Start(ctx context.Context, req *http.Request) (context.Context, Span) {
	if req == nil || req.URL == nil {
		return ctx, noopSpan{}
	}

	ctx, span := m.tracer.Start(
		ctx,
		fmt.Sprintf("%s %s", req.Method, req.URL.Host),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(req.Method),
			semconv.HTTPSchemeKey.String(req.URL.Scheme),
			httpHostKey.String(req.URL.Host),
			semconv.HTTPURLKey.String(redactedURL(req)),
		),
	)
	return ctx, &requestSpan{span: span}
}

func (m *manager) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	var shutdownErr error
	m.shutdown.Do(func() {
		shutdownErr = m.provider.Shutdown(ctx)
	})
	return shutdownErr
}

type requestSpan struct {
	span trace.Span
}

// End records the outcome. Upstream 4xx/5xx mark the span as an error even
// though the relay itself passes them through.
func (rs *requestSpan) End(statusCode int, err error) {
	if statusCode > 0 {
		rs.span.SetAttributes(semconv.HTTPStatusCodeKey.Int(statusCode))
	}

	switch {
	case err != nil:
		rs.span.RecordError(err)
		rs.span.SetStatus(codes.Error, err.Error())
	case statusCode >= 400:
		rs.span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
	default:
		rs.span.SetStatus(codes.Ok, "OK")
	}
	rs.span.End()
}

// Noop returns an Instrumenter that records nothing.
func Noop() Instrumenter {
	return noopInstrumenter{}
}

type noopInstrumenter struct{}

type noopSpan struct{}

func (noopInstrumenter) Start(ctx context.Context, _ *http.Request) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopInstrumenter) Shutdown(context.Context) error { return nil }

func (noopSpan) End(int, error) {}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	if !cfg.Enabled() {
		return nil, errors.New("telemetry endpoint is required")
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		clientOpts = append(clientOpts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, fmt.Errorf("telemetry exporter: %w", err)
	}
	return exp, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if strings.TrimSpace(cfg.Version) != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	return attrs
}

// redactedURL drops the query string and user info; relayed targets often
// carry credentials there.
func redactedURL(req *http.Request) string {
	u := *req.URL
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

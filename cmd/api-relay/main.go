package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"api-relay-go/internal/apiclient"
	"api-relay-go/internal/client"
	"api-relay-go/internal/config"
	"api-relay-go/internal/handler"
	"api-relay-go/internal/lookup"
	"api-relay-go/internal/metrics"
	"api-relay-go/internal/middleware"
	"api-relay-go/internal/service"
	"api-relay-go/internal/telemetry"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cli struct {
	config.CLI `kong:"embed"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`

	Serve  serveCmd  `kong:"cmd,default='1',help='Run the relay server (default).'"`
	Lookup lookupCmd `kong:"cmd,help='Fetch a reference list from the backend and print it as JSON.'"`
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("api-relay"),
		kong.Description("Same-origin HTTP relay and request helper for the API demo tool."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)
	kctx.FatalIfErrorf(kctx.Run(&c.CLI))
}

type serveCmd struct{}

func (serveCmd) Run(globals *config.CLI) error {
	app := fx.New(
		fx.Provide(
			func() *config.CLI { return globals },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newInstrumenter,
			newEcho,
			client.NewUpstreamClient,
			service.NewRelayService,
			handler.NewRelayHandler,
			handler.NewUploadHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, handler.RegisterMetrics, warnConfigPermissions, startServer),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

type lookupCmd struct {
	Kind   string `kong:"arg,enum='broadcasters,channels,packages,stb-vendors,subscribers',help='List to fetch: ${enum}.'"`
	Domain string `kong:"help='Backend base URL (overrides client.domain).',env='API_DOMAIN'"`
	Token  string `kong:"help='Credential token (overrides client.token).',env='API_TOKEN'"`
}

func (l *lookupCmd) Run(globals *config.CLI) error {
	cfg, err := config.Load(globals)
	if err != nil {
		return err
	}
	// stdout carries the result.
	logger := newLoggerTo(cfg, os.Stderr)

	kind, err := lookup.ParseKind(l.Kind)
	if err != nil {
		return err
	}

	domain := firstNonEmpty(l.Domain, cfg.Client.Domain)
	token := firstNonEmpty(l.Token, cfg.Client.Token)
	if domain == "" {
		logger.Warn("no backend domain configured, set --domain or client.domain")
	}

	tracer, err := telemetry.New(telemetryConfig(cfg))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := apiclient.New(cfg, client.NewUpstreamClient(cfg, logger, nil, tracer), logger)
	logger.Debug("lookup", "kind", kind, "proxy", api.UsesProxy())
	items := lookup.NewService(api, logger).List(ctx, kind, domain, token)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func newLogger(cfg *config.Config) *slog.Logger {
	return newLoggerTo(cfg, os.Stdout)
}

func newLoggerTo(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Headers:     cfg.Telemetry.Headers,
	}
}

func newInstrumenter(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (telemetry.Instrumenter, error) {
	tracer, err := telemetry.New(telemetryConfig(cfg))
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Telemetry.Endpoint)
	}
	lc.Append(fx.Hook{
		OnStop: tracer.Shutdown,
	})
	return tracer, nil
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// Relay calls wait for the upstream; the outbound client timeout bounds them.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.RelayCORS(config.RelayPath, config.UploadPath))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting relay",
				"addr", addr,
				"version", version,
				"use_proxy", cfg.Client.ProxyEnabled(),
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"api-relay-go/internal/config"
	"api-relay-go/internal/metrics"
	"api-relay-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler, upload *UploadHandler, health *HealthHandler) {
	e.GET(config.HealthPath, health.Healthz)
	e.GET(config.StatusPath, health.Status)

	cors := middleware.RelayCORS()

	e.POST(config.RelayPath, relay.Handle, cors)
	e.GET(config.RelayPath, relay.Info, cors)
	e.OPTIONS(config.RelayPath, Preflight, cors)

	e.POST(config.UploadPath, upload.Handle, cors)
	e.OPTIONS(config.UploadPath, Preflight, cors)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

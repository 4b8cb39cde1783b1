package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"api-relay-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UseProxy bool   `json:"use_proxy"`
	RelayURL string `json:"relay_url"`
}

// Status returns relay status information, including the client proxy toggle.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:   "ok",
		Version:  string(h.version),
		UseProxy: h.cfg.Client.ProxyEnabled(),
		RelayURL: h.cfg.Client.RelayURL,
	})
}

package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"api-relay-go/internal/model"
	"api-relay-go/internal/service"
)

// infoMessage is returned by the informational GET probe on the JSON relay.
const infoMessage = "Proxy API is running. Use POST method to proxy requests."

// RelayHandler serves the JSON relay endpoint.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Handle decodes a relay request, forwards it and writes the envelope with
// the upstream's own status code.
func (h *RelayHandler) Handle(c echo.Context) error {
	var rr model.RelayRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&rr); err != nil {
		return writeError(c, h.logger, service.RelayJSON,
			&model.Error{Kind: model.KindInput, Message: "invalid relay request: " + err.Error(), Err: err})
	}

	env, err := h.service.Forward(c.Request().Context(), &rr)
	if err != nil {
		return writeError(c, h.logger, service.RelayJSON, err)
	}
	return writeEnvelope(c, env)
}

// Info answers the plain GET probe.
func (h *RelayHandler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": infoMessage})
}

// Preflight answers CORS preflight requests; the headers come from the CORS middleware.
func Preflight(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// writeEnvelope writes env at env.Status. Statuses that forbid a body are
// passed through without one.
func writeEnvelope(c echo.Context, env *model.RelayResponse) error {
	if !bodyAllowed(env.Status) {
		return c.NoContent(env.Status)
	}
	return c.JSON(env.Status, env)
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

// writeError maps a relay failure to its HTTP response: input errors are 400,
// everything else 500. The body is {"error": message}.
func writeError(c echo.Context, logger *slog.Logger, relay string, err error) error {
	status := http.StatusInternalServerError
	kind := "unknown"

	var re *model.Error
	if errors.As(err, &re) {
		kind = re.Kind.String()
		if re.Kind == model.KindInput {
			status = http.StatusBadRequest
		}
	}

	logger.Error("relay error",
		"relay", relay,
		"kind", kind,
		"err", err,
		"path", c.Request().URL.Path,
	)

	return c.JSON(status, map[string]string{"error": err.Error()})
}

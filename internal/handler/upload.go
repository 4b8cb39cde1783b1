package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"api-relay-go/internal/model"
	"api-relay-go/internal/service"
)

// UploadHandler serves the multipart file relay endpoint.
type UploadHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(svc *service.RelayService, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		service: svc,
		logger:  logger.With("component", "upload_handler"),
	}
}

// Handle reads the url, token, authToken and file form fields and forwards the
// file as a fresh multipart upload. Any other form field is ignored.
func (h *UploadHandler) Handle(c echo.Context) error {
	ur := &model.UploadRequest{
		URL:         c.FormValue("url"),
		Credential:  c.FormValue("token"),
		BearerToken: c.FormValue("authToken"),
	}

	// A missing or unreadable file leaves File.Content nil; the service
	// rejects that as an input error.
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err == nil {
			defer func() { _ = f.Close() }()
			ur.File = model.UploadFile{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Content:     f,
			}
		}
	}

	env, err := h.service.Upload(c.Request().Context(), ur)
	if err != nil {
		return writeError(c, h.logger, service.RelayUpload, err)
	}
	return writeEnvelope(c, env)
}

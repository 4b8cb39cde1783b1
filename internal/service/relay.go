// Package service implements the JSON and multipart relay forwarding logic.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"api-relay-go/internal/client"
	"api-relay-go/internal/envelope"
	"api-relay-go/internal/metrics"
	"api-relay-go/internal/model"
)

// Input validation messages returned to the caller verbatim.
const (
	MsgURLRequired        = "URL is required"
	MsgURLAndFileRequired = "URL and file are required"
)

// CredentialHeader carries the backend session token.
const CredentialHeader = "x-credential"

// Relay labels used for metrics and logs.
const (
	RelayJSON   = "json"
	RelayUpload = "upload"
)

// skippedRequestHeaders are caller headers never forwarded upstream. The Go
// transport manages framing, and Accept-Encoding is left to the transport so
// that the body arrives fully decoded.
var skippedRequestHeaders = map[string]bool{
	"Host":                true,
	"Content-Length":      true,
	"Accept-Encoding":     true,
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

const defaultTextContentType = "text/plain;charset=UTF-8"

// Upstream executes outbound requests.
type Upstream interface {
	Send(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.UpstreamResponse, error)
}

// RelayService forwards relay requests and normalizes the upstream responses.
type RelayService struct {
	upstream Upstream
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRelayService creates a RelayService. The metrics parameter is optional.
func NewRelayService(c *client.UpstreamClient, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return newRelayService(c, logger, m)
}

func newRelayService(u Upstream, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return &RelayService{
		upstream: u,
		logger:   logger.With("component", "relay_service"),
		metrics:  m,
	}
}

// Forward relays a JSON-described request. Every upstream response, whatever
// its status, yields an envelope; only input and transport failures return an error.
func (s *RelayService) Forward(ctx context.Context, rr *model.RelayRequest) (*model.RelayResponse, error) {
	if rr == nil || strings.TrimSpace(rr.URL) == "" {
		return nil, s.fail(RelayJSON, model.InputError(MsgURLRequired))
	}

	method := strings.ToUpper(strings.TrimSpace(rr.Method))
	if method == "" {
		method = http.MethodGet
	}

	header := forwardableHeaders(rr.Headers)

	var body io.Reader
	if payload, ok := bodyPayload(method, rr.Body); ok {
		body = strings.NewReader(payload)
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", defaultTextContentType)
		}
	}

	s.logger.Debug("forwarding request",
		"relay", RelayJSON,
		"method", method,
		"url", rr.URL,
		"has_body", body != nil,
	)

	return s.roundTrip(ctx, RelayJSON, method, rr.URL, header, body)
}

// Upload relays a single file as a multipart/form-data POST.
func (s *RelayService) Upload(ctx context.Context, ur *model.UploadRequest) (*model.RelayResponse, error) {
	if ur == nil || strings.TrimSpace(ur.URL) == "" || ur.File.Content == nil {
		return nil, s.fail(RelayUpload, model.InputError(MsgURLAndFileRequired))
	}

	payload, contentType, err := multipartBody(ur.File)
	if err != nil {
		return nil, s.fail(RelayUpload, model.TransportError(fmt.Errorf("read upload file: %w", err)))
	}

	header := make(http.Header)
	header.Set("Content-Type", contentType)
	if ur.BearerToken != "" {
		header.Set("Authorization", "Bearer "+ur.BearerToken)
	}
	if ur.Credential != "" {
		header.Set(CredentialHeader, ur.Credential)
	}

	s.logger.Debug("forwarding upload",
		"relay", RelayUpload,
		"url", ur.URL,
		"file", ur.File.Name,
		"bytes", payload.Len(),
	)

	return s.roundTrip(ctx, RelayUpload, http.MethodPost, ur.URL, header, payload)
}

func (s *RelayService) roundTrip(ctx context.Context, relay, method, url string, header http.Header, body io.Reader) (*model.RelayResponse, error) {
	resp, err := s.upstream.Send(ctx, method, url, header, body)
	if err != nil {
		return nil, s.fail(relay, model.TransportError(err))
	}

	env, err := envelope.Normalize(resp)
	if err != nil {
		return nil, s.fail(relay, model.TransportError(err))
	}

	if env.Status >= http.StatusBadRequest {
		s.logger.Debug("upstream error status passed through",
			"relay", relay,
			"status", env.Status,
		)
	}
	return env, nil
}

func (s *RelayService) fail(relay string, e *model.Error) error {
	if s.metrics != nil {
		s.metrics.RelayFailures.WithLabelValues(relay, e.Kind.String()).Inc()
	}
	return e
}

// forwardableHeaders copies caller headers verbatim, minus the ones the
// transport owns.
func forwardableHeaders(src map[string]string) http.Header {
	dst := make(http.Header, len(src))
	for key, val := range src {
		if skippedRequestHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst.Set(key, val)
	}
	return dst
}

// bodyPayload returns the text to send upstream. GET and DELETE never carry a
// body; null, "", false and 0 count as no body. Strings are sent as-is, any
// other JSON value as its JSON text.
func bodyPayload(method string, raw json.RawMessage) (string, bool) {
	if method == http.MethodGet || method == http.MethodDelete {
		return "", false
	}

	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", `""`, "false", "0":
		return "", false
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s, s != ""
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed), true
	}
	return compact.String(), true
}

// multipartBody builds a fresh multipart body holding only the "file" part.
func multipartBody(f model.UploadFile) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	name := f.Name
	if name == "" {
		name = "blob"
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

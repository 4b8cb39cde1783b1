// Package envelope normalizes upstream HTTP responses into relay envelopes.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"api-relay-go/internal/model"
)

const jsonMediaType = "application/json"

// FilterHeaders flattens h into a map keyed by lower-case header name.
// CORS control headers and Content-Encoding are dropped; repeated values are
// joined with ", ".
func FilterHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, vals := range h {
		name := strings.ToLower(key)
		if strings.HasPrefix(name, "access-control") || name == "content-encoding" {
			continue
		}
		if prev, ok := out[name]; ok {
			out[name] = prev + ", " + strings.Join(vals, ", ")
			continue
		}
		out[name] = strings.Join(vals, ", ")
	}
	return out
}

// IsJSON reports whether a Content-Type value declares a JSON payload.
func IsJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), jsonMediaType)
}

// DecodeBody parses text as JSON when contentType declares JSON and the text is
// valid JSON. Everything else is returned verbatim as text.
func DecodeBody(contentType string, text []byte) model.Body {
	if IsJSON(contentType) {
		trimmed := bytes.TrimSpace(text)
		if json.Valid(trimmed) {
			return model.JSONBody(append(json.RawMessage(nil), trimmed...))
		}
	}
	return model.TextBody(string(text))
}

// Normalize reads and closes resp.Body and returns the relay envelope.
func Normalize(resp *model.UpstreamResponse) (*model.RelayResponse, error) {
	defer func() { _ = resp.Body.Close() }()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	return &model.RelayResponse{
		Status:     resp.StatusCode,
		StatusText: resp.StatusText,
		Headers:    FilterHeaders(resp.Header),
		Data:       DecodeBody(resp.Header.Get("Content-Type"), text),
	}, nil
}

// StatusText returns the reason phrase of an *http.Response, falling back to
// the canonical text when the upstream sent none (e.g. HTTP/2).
func StatusText(resp *http.Response) string {
	code := fmt.Sprintf("%03d", resp.StatusCode)
	if reason, ok := strings.CutPrefix(resp.Status, code); ok {
		if reason = strings.TrimSpace(reason); reason != "" {
			return reason
		}
	}
	return http.StatusText(resp.StatusCode)
}

// Package model defines shared types for the relay.
package model

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// RelayRequest is the JSON document accepted by the JSON relay.
type RelayRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// UploadRequest carries a single file to be forwarded as multipart/form-data.
type UploadRequest struct {
	URL         string
	BearerToken string
	Credential  string
	File        UploadFile
}

// UploadFile is the binary payload of an UploadRequest.
type UploadFile struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// UpstreamResponse is the raw response returned by the upstream.
// The caller is responsible for closing Body.
type UpstreamResponse struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       io.ReadCloser
}

// RelayResponse is the normalized envelope returned for every reachable upstream.
type RelayResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Data       Body              `json:"data"`
}

// SystemEnvelope is the backend's own {ec, data} wrapper.
type SystemEnvelope struct {
	EC   int64           `json:"ec"`
	Data json.RawMessage `json:"data"`
}

// BodyKind tells whether a Body holds parsed JSON or raw text.
type BodyKind int

const (
	BodyText BodyKind = iota
	BodyJSON
)

// Body is a response payload that is either a JSON value or raw text.
type Body struct {
	Kind BodyKind
	JSON json.RawMessage
	Text string
}

// TextBody returns a Body holding raw text.
func TextBody(s string) Body {
	return Body{Kind: BodyText, Text: s}
}

// JSONBody returns a Body holding a JSON value.
func JSONBody(raw json.RawMessage) Body {
	return Body{Kind: BodyJSON, JSON: raw}
}

// Raw returns the JSON encoding of the body: the value itself for JSON
// bodies, a JSON string for text bodies.
func (b Body) Raw() json.RawMessage {
	if b.Kind == BodyJSON {
		return b.JSON
	}
	out, _ := json.Marshal(b.Text)
	return out
}

// MarshalJSON implements json.Marshaler.
func (b Body) MarshalJSON() ([]byte, error) {
	return b.Raw(), nil
}

// UnmarshalJSON implements json.Unmarshaler. JSON strings become text bodies,
// any other value is kept as JSON.
func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*b = TextBody(s)
		return nil
	}
	*b = JSONBody(append(json.RawMessage(nil), trimmed...))
	return nil
}

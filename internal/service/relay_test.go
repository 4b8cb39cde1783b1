package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"api-relay-go/internal/client"
	"api-relay-go/internal/config"
	"api-relay-go/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService() *RelayService {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 10},
	}
	logger := discardLogger()
	return NewRelayService(client.NewUpstreamClient(cfg, logger, nil, nil), logger, nil)
}

// countingUpstream records calls without touching the network.
type countingUpstream struct {
	calls atomic.Int32
}

func (u *countingUpstream) Send(context.Context, string, string, http.Header, io.Reader) (*model.UpstreamResponse, error) {
	u.calls.Add(1)
	return nil, errors.New("unexpected upstream call")
}

func TestForward_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("X-Credential") != "tok" {
			t.Errorf("x-credential = %q, want %q", r.Header.Get("X-Credential"), "tok")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"n":1}` {
			t.Errorf("body = %q, want %q", body, `{"n":1}`)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "https://backend.example")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ec":0,"data":{"ok":true}}`))
	}))
	defer upstream.Close()

	env, err := newTestService().Forward(context.Background(), &model.RelayRequest{
		URL:     upstream.URL + "/a",
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/json", "x-credential": "tok"},
		Body:    json.RawMessage(`{"n": 1}`),
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if env.Status != http.StatusOK || env.StatusText != "OK" {
		t.Errorf("status = %d %q, want 200 OK", env.Status, env.StatusText)
	}
	if _, ok := env.Headers["access-control-allow-origin"]; ok {
		t.Error("access-control-allow-origin should be filtered")
	}
	if env.Data.Kind != model.BodyJSON || string(env.Data.JSON) != `{"ec":0,"data":{"ok":true}}` {
		t.Errorf("Data = %+v", env.Data)
	}
}

func TestForward_StatusPassThrough(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantKind    model.BodyKind
	}{
		{"404 json", http.StatusNotFound, "application/json", `{"error":"missing"}`, model.BodyJSON},
		{"500 html with json content type", http.StatusInternalServerError, "application/json", `<html>boom</html>`, model.BodyText},
		{"502 plain", http.StatusBadGateway, "text/plain", `bad gateway`, model.BodyText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer upstream.Close()

			env, err := newTestService().Forward(context.Background(), &model.RelayRequest{URL: upstream.URL})
			if err != nil {
				t.Fatalf("Forward() error = %v; upstream error statuses are not relay failures", err)
			}
			if env.Status != tt.status {
				t.Errorf("Status = %d, want %d", env.Status, tt.status)
			}
			if env.Data.Kind != tt.wantKind {
				t.Errorf("Data.Kind = %v, want %v", env.Data.Kind, tt.wantKind)
			}
			if tt.wantKind == model.BodyText && env.Data.Text != tt.body {
				t.Errorf("Data.Text = %q, want %q", env.Data.Text, tt.body)
			}
		})
	}
}

func TestForward_NoBodyForGetAndDelete(t *testing.T) {
	for _, method := range []string{"", http.MethodGet, "get", http.MethodDelete} {
		t.Run("method="+method, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				if len(body) != 0 {
					t.Errorf("body = %q, want empty", body)
				}
				if r.ContentLength > 0 {
					t.Errorf("ContentLength = %d, want 0", r.ContentLength)
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			defer upstream.Close()

			_, err := newTestService().Forward(context.Background(), &model.RelayRequest{
				URL:    upstream.URL,
				Method: method,
				Body:   json.RawMessage(`{"ignored":true}`),
			})
			if err != nil {
				t.Fatalf("Forward() error = %v", err)
			}
		})
	}
}

func TestForward_MissingURL(t *testing.T) {
	up := &countingUpstream{}
	svc := newRelayService(up, discardLogger(), nil)

	_, err := svc.Forward(context.Background(), &model.RelayRequest{Method: "POST"})
	if err == nil {
		t.Fatal("Forward() expected error, got nil")
	}
	if model.KindOf(err) != model.KindInput {
		t.Errorf("kind = %v, want input", model.KindOf(err))
	}
	if err.Error() != MsgURLRequired {
		t.Errorf("message = %q, want %q", err.Error(), MsgURLRequired)
	}
	if up.calls.Load() != 0 {
		t.Errorf("upstream calls = %d, want 0", up.calls.Load())
	}
}

func TestForward_Unreachable(t *testing.T) {
	_, err := newTestService().Forward(context.Background(), &model.RelayRequest{URL: "http://127.0.0.1:1/a"})
	if err == nil {
		t.Fatal("Forward() expected transport error, got nil")
	}
	if model.KindOf(err) != model.KindTransport {
		t.Errorf("kind = %v, want transport", model.KindOf(err))
	}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
}

func TestBodyPayload(t *testing.T) {
	tests := []struct {
		name   string
		method string
		raw    string
		want   string
		wantOK bool
	}{
		{"object", http.MethodPost, `{"a": 1}`, `{"a":1}`, true},
		{"array", http.MethodPut, `[1, 2]`, `[1,2]`, true},
		{"string sent verbatim", http.MethodPost, `"{\"raw\":true}"`, `{"raw":true}`, true},
		{"number", http.MethodPatch, `42`, `42`, true},
		{"true", http.MethodPost, `true`, `true`, true},
		{"absent", http.MethodPost, ``, ``, false},
		{"null", http.MethodPost, `null`, ``, false},
		{"empty string", http.MethodPost, `""`, ``, false},
		{"false", http.MethodPost, `false`, ``, false},
		{"zero", http.MethodPost, `0`, ``, false},
		{"GET drops body", http.MethodGet, `{"a":1}`, ``, false},
		{"DELETE drops body", http.MethodDelete, `{"a":1}`, ``, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := bodyPayload(tt.method, json.RawMessage(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("payload = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForwardableHeaders(t *testing.T) {
	dst := forwardableHeaders(map[string]string{
		"Content-Type":    "application/json",
		"x-credential":    "tok",
		"Authorization":   "Bearer abc",
		"Host":            "evil.example",
		"Content-Length":  "99",
		"Accept-Encoding": "br",
		"Connection":      "close",
	})

	tests := []struct {
		key     string
		wantLen int
	}{
		{"Content-Type", 1},
		{"X-Credential", 1},
		{"Authorization", 1},
		{"Host", 0},
		{"Content-Length", 0},
		{"Accept-Encoding", 0},
		{"Connection", 0},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := len(dst.Values(tt.key)); got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}

func TestForward_DefaultContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != defaultTextContentType {
			t.Errorf("Content-Type = %q, want %q", ct, defaultTextContentType)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	_, err := newTestService().Forward(context.Background(), &model.RelayRequest{
		URL:    upstream.URL,
		Method: http.MethodPost,
		Body:   json.RawMessage(`"hello"`),
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
}

func TestUpload_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer auth-123" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Credential"); got != "cred-456" {
			t.Errorf("x-credential = %q", got)
		}

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Fatalf("Content-Type = %q, err = %v", r.Header.Get("Content-Type"), err)
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		if part.FormName() != "file" || part.FileName() != "devices.csv" {
			t.Errorf("part = %q/%q, want file/devices.csv", part.FormName(), part.FileName())
		}
		if ct := part.Header.Get("Content-Type"); ct != "text/csv" {
			t.Errorf("part Content-Type = %q, want text/csv", ct)
		}
		data, _ := io.ReadAll(part)
		if string(data) != "sn,vendor\n1,acme\n" {
			t.Errorf("file content = %q", data)
		}
		if _, err := mr.NextPart(); err != io.EOF {
			t.Errorf("expected exactly one part, got err = %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ec":0,"data":{"imported":1}}`))
	}))
	defer upstream.Close()

	env, err := newTestService().Upload(context.Background(), &model.UploadRequest{
		URL:         upstream.URL + "/stb/v1/import",
		BearerToken: "auth-123",
		Credential:  "cred-456",
		File: model.UploadFile{
			Name:        "devices.csv",
			ContentType: "text/csv",
			Content:     strings.NewReader("sn,vendor\n1,acme\n"),
		},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if env.Status != http.StatusOK || env.Data.Kind != model.BodyJSON {
		t.Errorf("envelope = %+v", env)
	}
}

func TestUpload_OptionalTokens(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("Authorization should be absent, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Credential") != "" {
			t.Errorf("x-credential should be absent, got %q", r.Header.Get("X-Credential"))
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("denied"))
	}))
	defer upstream.Close()

	env, err := newTestService().Upload(context.Background(), &model.UploadRequest{
		URL:  upstream.URL,
		File: model.UploadFile{Name: "a.bin", Content: strings.NewReader("\x00\x01")},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if env.Status != http.StatusUnauthorized || env.Data.Text != "denied" {
		t.Errorf("envelope = %+v, want passthrough 401", env)
	}
}

func TestUpload_MissingInput(t *testing.T) {
	tests := []struct {
		name string
		req  *model.UploadRequest
	}{
		{"missing url", &model.UploadRequest{File: model.UploadFile{Name: "a", Content: strings.NewReader("x")}}},
		{"missing file", &model.UploadRequest{URL: "https://cas.example.com/stb/v1/import"}},
		{"nil request", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &countingUpstream{}
			svc := newRelayService(up, discardLogger(), nil)

			_, err := svc.Upload(context.Background(), tt.req)
			if err == nil {
				t.Fatal("Upload() expected error, got nil")
			}
			if err.Error() != MsgURLAndFileRequired {
				t.Errorf("message = %q, want %q", err.Error(), MsgURLAndFileRequired)
			}
			if model.KindOf(err) != model.KindInput {
				t.Errorf("kind = %v, want input", model.KindOf(err))
			}
			if up.calls.Load() != 0 {
				t.Errorf("upstream calls = %d, want 0", up.calls.Load())
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk read failed")
}

func TestUpload_UnreadableFile(t *testing.T) {
	up := &countingUpstream{}
	svc := newRelayService(up, discardLogger(), nil)

	_, err := svc.Upload(context.Background(), &model.UploadRequest{
		URL:  "https://cas.example.com/stb/v1/import",
		File: model.UploadFile{Name: "a.csv", Content: failingReader{}},
	})
	if err == nil {
		t.Fatal("Upload() expected error, got nil")
	}
	if model.KindOf(err) != model.KindTransport {
		t.Errorf("kind = %v, want transport", model.KindOf(err))
	}
	if !strings.Contains(err.Error(), "disk read failed") {
		t.Errorf("error = %q, want underlying read error", err.Error())
	}
	if up.calls.Load() != 0 {
		t.Errorf("upstream calls = %d, want 0", up.calls.Load())
	}
}

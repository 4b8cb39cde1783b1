package envelope

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"testing"

	"api-relay-go/internal/model"
)

func TestFilterHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type":                     {"application/json"},
		"Content-Encoding":                 {"gzip"},
		"Access-Control-Allow-Origin":      {"https://backend.example"},
		"Access-Control-Allow-Credentials": {"true"},
		"X-Request-Id":                     {"abc"},
		"Set-Cookie":                       {"a=1", "b=2"},
	}

	got := FilterHeaders(src)

	tests := []struct {
		name    string
		key     string
		want    string
		present bool
	}{
		{"Content-Type kept", "content-type", "application/json", true},
		{"X-Request-Id kept", "x-request-id", "abc", true},
		{"repeated values joined", "set-cookie", "a=1, b=2", true},
		{"Content-Encoding dropped", "content-encoding", "", false},
		{"Access-Control-Allow-Origin dropped", "access-control-allow-origin", "", false},
		{"Access-Control-Allow-Credentials dropped", "access-control-allow-credentials", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := got[tt.key]
			if ok != tt.present {
				t.Fatalf("header %q present = %v, want %v", tt.key, ok, tt.present)
			}
			if v != tt.want {
				t.Errorf("header %q = %q, want %q", tt.key, v, tt.want)
			}
		})
	}

	for key := range got {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "access-control") || lower == "content-encoding" {
			t.Errorf("filtered header %q leaked", key)
		}
	}
}

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		text        string
		wantKind    model.BodyKind
	}{
		{"json object", "application/json", `{"ec":0,"data":{"ok":true}}`, model.BodyJSON},
		{"json with charset", "application/json; charset=utf-8", `[1,2,3]`, model.BodyJSON},
		{"json upper case", "Application/JSON", `{"a":1}`, model.BodyJSON},
		{"malformed json falls back", "application/json", `<html>502 Bad Gateway</html>`, model.BodyText},
		{"empty json body falls back", "application/json", ``, model.BodyText},
		{"html", "text/html", `{"looks":"like json"}`, model.BodyText},
		{"no content type", "", `hello`, model.BodyText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeBody(tt.contentType, []byte(tt.text))
			if got.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Kind == model.BodyText && got.Text != tt.text {
				t.Errorf("Text = %q, want %q", got.Text, tt.text)
			}
			if got.Kind == model.BodyJSON {
				var want, have any
				_ = json.Unmarshal([]byte(tt.text), &want)
				_ = json.Unmarshal(got.JSON, &have)
				if !reflect.DeepEqual(want, have) {
					t.Errorf("JSON = %s, want %s", got.JSON, tt.text)
				}
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestNormalize(t *testing.T) {
	resp := &model.UpstreamResponse{
		StatusCode: http.StatusNotFound,
		StatusText: "Not Found",
		Header: http.Header{
			"Content-Type":                {"application/json"},
			"Access-Control-Allow-Origin": {"*"},
		},
		Body: io.NopCloser(strings.NewReader(`{"error":"missing"}`)),
	}

	env, err := Normalize(resp)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if env.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", env.Status, http.StatusNotFound)
	}
	if env.StatusText != "Not Found" {
		t.Errorf("StatusText = %q, want %q", env.StatusText, "Not Found")
	}
	if _, ok := env.Headers["access-control-allow-origin"]; ok {
		t.Error("access-control-allow-origin should be filtered")
	}
	if env.Data.Kind != model.BodyJSON {
		t.Errorf("Data.Kind = %v, want JSON", env.Data.Kind)
	}
}

func TestNormalize_ReadError(t *testing.T) {
	resp := &model.UpstreamResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(failingReader{}),
	}

	if _, err := Normalize(resp); err == nil {
		t.Fatal("Normalize() expected read error, got nil")
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		want string
	}{
		{"reason phrase", &http.Response{StatusCode: 200, Status: "200 OK"}, "OK"},
		{"custom reason", &http.Response{StatusCode: 418, Status: "418 Short And Stout"}, "Short And Stout"},
		{"missing reason", &http.Response{StatusCode: 404, Status: "404"}, "Not Found"},
		{"empty status", &http.Response{StatusCode: 500}, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusText(tt.resp); got != tt.want {
				t.Errorf("StatusText() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Package apiclient is the request helper used to call the demo backend,
// either through the JSON relay or directly. It unwraps the backend's
// {ec, data} envelope and reports ec != 0 as an error.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"api-relay-go/internal/config"
	"api-relay-go/internal/envelope"
	"api-relay-go/internal/model"
)

// MsgDomainRequired is returned when Request is called without a domain.
const MsgDomainRequired = "Domain is required"

const (
	credentialHeader = "x-credential"
	errorSnippetLen  = 200
)

// Sender executes outbound HTTP requests.
type Sender interface {
	Send(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.UpstreamResponse, error)
}

// Options are the per-call settings of Request.
type Options struct {
	// Method defaults to GET.
	Method string
	// Headers override the default Content-Type and are sent verbatim.
	Headers map[string]string
	// Body is sent for methods other than GET and DELETE. Strings are sent
	// as-is, anything else is encoded as JSON.
	Body any
}

// Response is the result of a successful call.
type Response struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Data       json.RawMessage   `json:"data"`
	// SystemResponse is the original {ec, data} envelope when the backend sent one.
	SystemResponse *model.SystemEnvelope `json:"systemResponse,omitempty"`
}

// Decode unmarshals the unwrapped data into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// Client calls the backend. The proxy toggle is fixed at construction.
type Client struct {
	sender   Sender
	relayURL string
	useProxy bool
	logger   *slog.Logger
}

// New creates a Client from the [client] config section.
func New(cfg *config.Config, sender Sender, logger *slog.Logger) *Client {
	return &Client{
		sender:   sender,
		relayURL: cfg.Client.RelayURL,
		useProxy: cfg.Client.ProxyEnabled(),
		logger:   logger.With("component", "api_client"),
	}
}

// UsesProxy reports whether calls go through the JSON relay.
func (c *Client) UsesProxy() bool {
	return c.useProxy
}

// Request calls domain+endpoint. A token, when given, is sent in the
// x-credential header. Every failure is a *model.Error.
func (c *Client) Request(ctx context.Context, domain, endpoint, token string, opts Options) (*Response, error) {
	if domain == "" {
		return nil, model.InputError(MsgDomainRequired)
	}

	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	target := domain + endpoint

	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range opts.Headers {
		headers[http.CanonicalHeaderKey(k)] = v
	}
	if token != "" {
		headers[http.CanonicalHeaderKey(credentialHeader)] = token
	}

	body, err := encodeBody(method, opts.Body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("api request",
		"method", method,
		"url", target,
		"proxy", c.useProxy,
	)

	var env *model.RelayResponse
	if c.useProxy {
		env, err = c.viaRelay(ctx, method, target, headers, body)
	} else {
		env, err = c.direct(ctx, method, target, headers, body)
	}
	if err != nil {
		return nil, err
	}
	return unwrap(env)
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, domain, endpoint, token string, headers map[string]string) (*Response, error) {
	return c.Request(ctx, domain, endpoint, token, Options{Method: http.MethodGet, Headers: headers})
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, domain, endpoint, token string, body any, headers map[string]string) (*Response, error) {
	return c.Request(ctx, domain, endpoint, token, Options{Method: http.MethodPost, Headers: headers, Body: body})
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, domain, endpoint, token string, body any, headers map[string]string) (*Response, error) {
	return c.Request(ctx, domain, endpoint, token, Options{Method: http.MethodPut, Headers: headers, Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, domain, endpoint, token string, headers map[string]string) (*Response, error) {
	return c.Request(ctx, domain, endpoint, token, Options{Method: http.MethodDelete, Headers: headers})
}

// viaRelay posts a RelayRequest to the JSON relay and decodes its envelope.
func (c *Client) viaRelay(ctx context.Context, method, target string, headers map[string]string, body json.RawMessage) (*model.RelayResponse, error) {
	payload, err := json.Marshal(model.RelayRequest{
		URL:     target,
		Method:  method,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, &model.Error{Kind: model.KindInput, Message: "encode relay request: " + err.Error(), Err: err}
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	resp, err := c.sender.Send(ctx, http.MethodPost, c.relayURL, header, bytes.NewReader(payload))
	if err != nil {
		return nil, model.TransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.TransportError(fmt.Errorf("read relay response: %w", err))
	}

	if !isSuccess(resp.StatusCode) {
		return nil, failure(resp.StatusCode, resp.StatusText, raw, true)
	}

	env := &model.RelayResponse{
		Status:     resp.StatusCode,
		StatusText: resp.StatusText,
		Headers:    map[string]string{},
		Data:       model.JSONBody(json.RawMessage("null")),
	}
	// Statuses such as 204 arrive without an envelope.
	if len(bytes.TrimSpace(raw)) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, model.TransportError(fmt.Errorf("decode relay envelope: %w", err))
	}
	return env, nil
}

// direct calls the target itself and normalizes the response the same way
// the relay does.
func (c *Client) direct(ctx context.Context, method, target string, headers map[string]string, body json.RawMessage) (*model.RelayResponse, error) {
	header := make(http.Header, len(headers))
	for k, v := range headers {
		header.Set(k, v)
	}

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(bodyText(body))
	}

	resp, err := c.sender.Send(ctx, method, target, header, reader)
	if err != nil {
		return nil, model.TransportError(err)
	}

	env, err := envelope.Normalize(resp)
	if err != nil {
		return nil, model.TransportError(err)
	}

	if !isSuccess(env.Status) {
		return nil, failure(env.Status, env.StatusText, []byte(rawText(env.Data)), false)
	}
	return env, nil
}

// encodeBody returns the JSON encoding of body, or nil when no body is sent.
// null, "", false and 0 count as no body.
func encodeBody(method string, body any) (json.RawMessage, error) {
	if body == nil || method == http.MethodGet || method == http.MethodDelete {
		return nil, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &model.Error{Kind: model.KindInput, Message: "encode request body: " + err.Error(), Err: err}
	}

	switch string(raw) {
	case "null", `""`, "false", "0":
		return nil, nil
	}
	return raw, nil
}

// bodyText is the wire form of an encoded body: strings go out unquoted.
func bodyText(raw json.RawMessage) string {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func rawText(b model.Body) string {
	if b.Kind == model.BodyJSON {
		return string(b.JSON)
	}
	return b.Text
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// failure builds the error for a non-2xx response. A body that is not JSON
// yields "Invalid response format" with the start of the text. Otherwise the
// body's error field is used, or a generic status line.
//
// When the relay itself reported the failure (an {"error"} body with no
// envelope status), the relay's classification is kept: 400 is an input
// error, anything else a transport error.
func failure(status int, statusText string, raw []byte, fromRelay bool) *model.Error {
	if !json.Valid(raw) {
		return model.StatusError(status, "Invalid response format: "+truncate(string(raw), errorSnippetLen))
	}

	var body struct {
		Error      string `json:"error"`
		Status     int    `json:"status"`
		StatusText string `json:"statusText"`
	}
	_ = json.Unmarshal(raw, &body)

	if fromRelay && body.Error != "" && body.Status == 0 {
		kind := model.KindTransport
		if status == http.StatusBadRequest {
			kind = model.KindInput
		}
		return &model.Error{Kind: kind, Message: body.Error, Status: status}
	}

	if body.Status != 0 {
		status = body.Status
	}
	if body.StatusText != "" {
		statusText = body.StatusText
	}
	if body.Error != "" {
		return model.StatusError(status, body.Error)
	}
	return model.StatusError(status, fmt.Sprintf("API request failed: %d %s", status, statusText))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// unwrap turns a normalized envelope into a Response, replacing {ec, data}
// bodies with their data.
func unwrap(env *model.RelayResponse) (*Response, error) {
	resp := &Response{
		Status:     env.Status,
		StatusText: env.StatusText,
		Headers:    env.Headers,
		Data:       env.Data.Raw(),
	}
	if env.Data.Kind != model.BodyJSON {
		return resp, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Data.JSON, &fields); err != nil {
		return resp, nil // not an object
	}
	ecRaw, hasEC := fields["ec"]
	inner, hasData := fields["data"]
	if !hasEC || !hasData {
		return resp, nil
	}

	// Only a numeric zero is success; null, strings and booleans fail.
	var ec any
	_ = json.Unmarshal(ecRaw, &ec)
	num, isNumber := ec.(float64)
	if !isNumber {
		return nil, &model.Error{
			Kind:    model.KindUpstreamLogical,
			Data:    inner,
			Message: fmt.Sprintf("API error (ec: %s): %s", bytes.TrimSpace(ecRaw), detail(inner)),
		}
	}
	if num != 0 {
		return nil, model.LogicalError(int64(num), inner, detail(inner))
	}

	resp.Data = inner
	resp.SystemResponse = &model.SystemEnvelope{EC: 0, Data: inner}
	return resp, nil
}

// detail renders envelope data for an error message: strings as-is, other
// values as JSON text.
func detail(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return string(data)
	}
	return compact.String()
}

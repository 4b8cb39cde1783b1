// Package lookup fetches the backend's reference lists (broadcasters,
// channels, packages, STB vendors, subscribers) through the request helper.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"api-relay-go/internal/apiclient"
)

// Kind names a reference list.
type Kind string

const (
	Broadcasters Kind = "broadcasters"
	Channels     Kind = "channels"
	Packages     Kind = "packages"
	StbVendors   Kind = "stb-vendors"
	Subscribers  Kind = "subscribers"
)

var endpoints = map[Kind]string{
	Broadcasters: "/broadcasters/v1?page=1&record=10",
	Channels:     "/channels/v1?page=1&r=10",
	Packages:     "/packages/v1?page=1&record=20",
	StbVendors:   "/stb-vendor/v1?page=1&r=10",
	Subscribers:  "/subscriber/v1?page=1&r=10",
}

// Kinds returns every known kind in lexical order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(endpoints))
	for k := range endpoints {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := endpoints[k]; !ok {
		return "", fmt.Errorf("unknown lookup kind %q", s)
	}
	return k, nil
}

// Endpoint returns the list endpoint for k.
func (k Kind) Endpoint() string {
	return endpoints[k]
}

// Getter is the GET call of the request helper.
type Getter interface {
	Get(ctx context.Context, domain, endpoint, token string, headers map[string]string) (*apiclient.Response, error)
}

// Service fetches reference lists. Failures never propagate: they are logged
// and an empty list is returned.
type Service struct {
	client Getter
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(c Getter, logger *slog.Logger) *Service {
	return &Service{
		client: c,
		logger: logger.With("component", "lookup"),
	}
}

// Broadcasters lists broadcasters, ten per page.
func (s *Service) Broadcasters(ctx context.Context, domain, token string) []Broadcaster {
	return fetch[Broadcaster](ctx, s, Broadcasters, domain, token)
}

// Channels lists channels, ten per page.
func (s *Service) Channels(ctx context.Context, domain, token string) []Channel {
	return fetch[Channel](ctx, s, Channels, domain, token)
}

// Packages lists packages, twenty per page.
func (s *Service) Packages(ctx context.Context, domain, token string) []Package {
	return fetch[Package](ctx, s, Packages, domain, token)
}

// StbVendors lists set-top box vendors.
func (s *Service) StbVendors(ctx context.Context, domain, token string) []StbVendor {
	return fetch[StbVendor](ctx, s, StbVendors, domain, token)
}

// Subscribers lists subscribers.
func (s *Service) Subscribers(ctx context.Context, domain, token string) []Subscriber {
	return fetch[Subscriber](ctx, s, Subscribers, domain, token)
}

// List fetches the list named by kind as typed items.
func (s *Service) List(ctx context.Context, kind Kind, domain, token string) any {
	switch kind {
	case Broadcasters:
		return s.Broadcasters(ctx, domain, token)
	case Channels:
		return s.Channels(ctx, domain, token)
	case Packages:
		return s.Packages(ctx, domain, token)
	case StbVendors:
		return s.StbVendors(ctx, domain, token)
	case Subscribers:
		return s.Subscribers(ctx, domain, token)
	default:
		s.logger.Error("unknown lookup kind", "kind", kind)
		return []any{}
	}
}

func fetch[T any](ctx context.Context, s *Service, kind Kind, domain, token string) []T {
	if domain == "" {
		return []T{}
	}

	resp, err := s.client.Get(ctx, domain, kind.Endpoint(), token, nil)
	if err != nil {
		s.logger.Error("lookup failed", "kind", kind, "err", err)
		return []T{}
	}

	items := extractList(resp.Data)
	if items == nil {
		s.logger.Debug("lookup returned no list", "kind", kind)
		return []T{}
	}

	var out []T
	if err := json.Unmarshal(items, &out); err != nil {
		s.logger.Error("decode lookup list", "kind", kind, "err", err)
		return []T{}
	}
	if out == nil {
		out = []T{}
	}
	return out
}

// extractList returns the JSON array held by data: data itself, or its data
// or items field. Any other shape yields nil.
func extractList(data json.RawMessage) json.RawMessage {
	if isArray(data) {
		return data
	}

	var wrapper struct {
		Data  json.RawMessage `json:"data"`
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil
	}
	if isArray(wrapper.Data) {
		return wrapper.Data
	}
	if isArray(wrapper.Items) {
		return wrapper.Items
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/api-relay/config.toml",
	"configs/config.toml",
}

// Relay routes; metrics.path must not collide with them.
const (
	RelayPath  = "/api/proxy"
	UploadPath = "/api/proxy-upload"
	HealthPath = "/healthz"
	StatusPath = "/relay/status"
)

// CLI holds global command-line flags parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	UseProxy *bool  `kong:"help='Route client calls through the JSON relay (overrides config).',env='USE_PROXY'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Upstream  UpstreamConfig  `toml:"upstream" yaml:"upstream"`
	Client    ClientConfig    `toml:"client" yaml:"client"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (8000)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// UpstreamConfig holds outbound connection settings shared by every relayed call.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections" yaml:"idle_connections"`
}

// ClientConfig configures the client request helper.
type ClientConfig struct {
	RelayURL string `toml:"relay_url" yaml:"relay_url"`
	// UseProxy is a pointer so that an omitted key keeps the default (true).
	UseProxy *bool  `toml:"use_proxy" yaml:"use_proxy"`
	Domain   string `toml:"domain" yaml:"domain"`
	Token    string `toml:"token" yaml:"token"`
}

// ProxyEnabled reports whether client calls go through the JSON relay.
func (c ClientConfig) ProxyEnabled() bool {
	return c.UseProxy == nil || *c.UseProxy
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// TelemetryConfig holds OpenTelemetry exporter settings. An empty endpoint disables tracing.
type TelemetryConfig struct {
	Endpoint    string            `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool              `toml:"insecure" yaml:"insecure"`
	ServiceName string            `toml:"service_name" yaml:"service_name"`
	Headers     map[string]string `toml:"headers" yaml:"headers"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/api-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := decode(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.UseProxy != nil {
		v := *cli.UseProxy
		c.Client.UseProxy = &v
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if c.Client.RelayURL != "" {
		if err := validateAbsoluteURL(c.Client.RelayURL); err != nil {
			return fmt.Errorf("client.relay_url: %w", err)
		}
	}
	if c.Client.Domain != "" {
		if err := validateAbsoluteURL(c.Client.Domain); err != nil {
			return fmt.Errorf("client.domain: %w", err)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{RelayPath, UploadPath, HealthPath, StatusPath} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https; got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("must be absolute; got %q", raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because the file formats cannot
// distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 32 * 1024 * 1024 // 32 MB, uploads go through here
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Client.RelayURL == "" {
		c.Client.RelayURL = fmt.Sprintf("http://127.0.0.1:%d%s", c.Server.Port, RelayPath)
	}
	if c.Client.UseProxy == nil {
		enabled := true
		c.Client.UseProxy = &enabled
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "api-relay"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may hold a backend token.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

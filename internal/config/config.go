// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/image-relay/config.toml",
	"configs/config.toml",
}

// Backend modes.
const (
	BackendModeHTTP   = "http"
	BackendModeScript = "script"
)

// Input modes select how the upload is read from the inbound request.
const (
	InputModeMultipart = "multipart"
	InputModeRaw       = "raw"
	InputModeAuto      = "auto"
)

// Ingestion modes select where the upload is materialized.
const (
	IngestionBuffered = "buffered"
	IngestionStaged   = "staged"
)

// Content type policies for the outbound backend request.
const (
	ForwardOriginal    = "original"
	ForwardOctetStream = "octet-stream"
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config          string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host            string   `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port            int      `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL      string   `kong:"help='Image processing backend URL (overrides config).',env='BACKEND_URL'"`
	MaxPayloadBytes int64    `kong:"help='Maximum accepted upload size in bytes (overrides config).',env='MAX_PAYLOAD_BYTES'"`
	IngestionMode   string   `kong:"help='Ingestion mode: buffered|staged (overrides config).',env='INGESTION_MODE'"`
	LogLevel        string   `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	BrevoAPIKey     string   `kong:"name='brevo-api-key',help='Transactional email API key (overrides config).',env='SENDINBLUE_API_KEY'"`
	RecipientEmails []string `kong:"help='Notification recipients, comma separated (overrides config).',env='RECIPIENT_EMAILS'"`
}

// Config is the top-level application configuration. It is built once by
// Load and treated as read-only afterwards.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Relay   RelayConfig   `toml:"relay"`
	Notify  NotifyConfig  `toml:"notify"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host               string          `toml:"host"`
	Port               int             `toml:"port"` // 0 means "use default" (3000)
	ReadTimeoutSeconds int             `toml:"read_timeout_seconds"`
	StaticDir          string          `toml:"static_dir"`
	CORSOrigins        []string        `toml:"cors_origins"`
	RateLimit          RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RelayConfig describes one deployment of the image relay: where uploads
// come from, how they are held and which backend processes them.
type RelayConfig struct {
	BackendURL          string   `toml:"backend_url"`
	BackendMode         string   `toml:"backend_mode"`
	ScriptCommand       []string `toml:"script_command"`
	MaxPayloadBytes     int64    `toml:"max_payload_bytes"`
	UploadField         string   `toml:"upload_field"`
	InputMode           string   `toml:"input_mode"`
	IngestionMode       string   `toml:"ingestion_mode"`
	StagingDir          string   `toml:"staging_dir"`
	ForwardContentType  string   `toml:"forward_content_type"`
	ResponseContentType string   `toml:"response_content_type"`
	PassthroughStatus   bool     `toml:"passthrough_status"`
	TimeoutSeconds      int      `toml:"timeout_seconds"`
	IdleConnections     int      `toml:"idle_connections"`
}

// NotifyConfig holds transactional email settings for the contact endpoint.
type NotifyConfig struct {
	APIKey       string   `toml:"api_key"`
	BaseURL      string   `toml:"base_url"`
	Sender       string   `toml:"sender"`
	Recipients   []string `toml:"recipients"`
	Subject      string   `toml:"subject"`
	BodyMaxBytes int64    `toml:"body_max_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/image-relay/config.toml then configs/config.toml. Running without a
// file is allowed; every required value can come from flags or environment.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BackendURL != "" {
		c.Relay.BackendURL = cli.BackendURL
	}
	if cli.MaxPayloadBytes != 0 {
		c.Relay.MaxPayloadBytes = cli.MaxPayloadBytes
	}
	if cli.IngestionMode != "" {
		c.Relay.IngestionMode = cli.IngestionMode
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.BrevoAPIKey != "" {
		c.Notify.APIKey = cli.BrevoAPIKey
	}
	if len(cli.RecipientEmails) > 0 {
		c.Notify.Recipients = cli.RecipientEmails
	}
}

// setDefaults fills zero-valued fields. It runs before validate so that enum
// fields are always checked against their effective value.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadTimeoutSeconds == 0 {
		c.Server.ReadTimeoutSeconds = 300
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Relay.BackendMode == "" {
		c.Relay.BackendMode = BackendModeHTTP
	}
	if c.Relay.MaxPayloadBytes == 0 {
		c.Relay.MaxPayloadBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Relay.UploadField == "" {
		c.Relay.UploadField = "file"
	}
	if c.Relay.InputMode == "" {
		c.Relay.InputMode = InputModeMultipart
	}
	if c.Relay.IngestionMode == "" {
		if c.Relay.BackendMode == BackendModeScript {
			c.Relay.IngestionMode = IngestionStaged
		} else {
			c.Relay.IngestionMode = IngestionBuffered
		}
	}
	if c.Relay.StagingDir == "" {
		c.Relay.StagingDir = os.TempDir()
	}
	if c.Relay.ForwardContentType == "" {
		c.Relay.ForwardContentType = ForwardOctetStream
	}
	if c.Relay.TimeoutSeconds == 0 {
		c.Relay.TimeoutSeconds = 120
	}
	if c.Relay.IdleConnections == 0 {
		c.Relay.IdleConnections = 16
	}
	if c.Notify.BaseURL == "" {
		c.Notify.BaseURL = "https://api.brevo.com"
	}
	if c.Notify.Subject == "" {
		c.Notify.Subject = "New Contact Form Submission"
	}
	if c.Notify.BodyMaxBytes == 0 {
		c.Notify.BodyMaxBytes = 64 * 1024
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
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSeconds < 0 {
		return fmt.Errorf("server.read_timeout_seconds must be non-negative; got %d", c.Server.ReadTimeoutSeconds)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	if err := c.Relay.validate(); err != nil {
		return err
	}

	if c.Notify.BodyMaxBytes < 0 {
		return fmt.Errorf("notify.body_max_bytes must be non-negative; got %d", c.Notify.BodyMaxBytes)
	}
	if _, err := url.ParseRequestURI(c.Notify.BaseURL); err != nil {
		return fmt.Errorf("notify.base_url is not a valid URL: %w", err)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// reservedRoutes are paths owned by the relay's own handlers.
var reservedRoutes = []string{"/process-image", "/upload", "/send-email", "/healthz", "/relay/status"}

func (r *RelayConfig) validate() error {
	switch r.BackendMode {
	case BackendModeHTTP:
		if r.BackendURL == "" {
			return fmt.Errorf("relay.backend_url is required")
		}
		u, err := url.Parse(r.BackendURL)
		if err != nil {
			return fmt.Errorf("relay.backend_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("relay.backend_url must use http or https; got %q", r.BackendURL)
		}
		if u.Host == "" {
			return fmt.Errorf("relay.backend_url has no host; got %q", r.BackendURL)
		}
	case BackendModeScript:
		if len(r.ScriptCommand) == 0 || r.ScriptCommand[0] == "" {
			return fmt.Errorf("relay.script_command is required when backend_mode is %q", BackendModeScript)
		}
		if r.IngestionMode != IngestionStaged {
			return fmt.Errorf("relay.ingestion_mode must be %q when backend_mode is %q; got %q",
				IngestionStaged, BackendModeScript, r.IngestionMode)
		}
	default:
		return fmt.Errorf("relay.backend_mode must be one of: http, script; got %q", r.BackendMode)
	}

	if r.MaxPayloadBytes < 0 {
		return fmt.Errorf("relay.max_payload_bytes must be non-negative; got %d", r.MaxPayloadBytes)
	}
	switch r.InputMode {
	case InputModeMultipart, InputModeRaw, InputModeAuto:
	default:
		return fmt.Errorf("relay.input_mode must be one of: multipart, raw, auto; got %q", r.InputMode)
	}
	switch r.IngestionMode {
	case IngestionBuffered, IngestionStaged:
	default:
		return fmt.Errorf("relay.ingestion_mode must be one of: buffered, staged; got %q", r.IngestionMode)
	}
	switch r.ForwardContentType {
	case ForwardOriginal, ForwardOctetStream:
	default:
		return fmt.Errorf("relay.forward_content_type must be one of: original, octet-stream; got %q", r.ForwardContentType)
	}
	if strings.ContainsAny(r.UploadField, " \t\r\n\"") {
		return fmt.Errorf("relay.upload_field contains invalid characters; got %q", r.UploadField)
	}
	if r.TimeoutSeconds < 0 {
		return fmt.Errorf("relay.timeout_seconds must be non-negative; got %d", r.TimeoutSeconds)
	}
	if r.IdleConnections < 0 {
		return fmt.Errorf("relay.idle_connections must be non-negative; got %d", r.IdleConnections)
	}
	return nil
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

// ReadTimeout returns the inbound read timeout.
func (c *ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// Timeout returns the bound on a single backend call.
func (r *RelayConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Enabled reports whether the notification gateway has enough settings to send.
func (n *NotifyConfig) Enabled() bool {
	return n.APIKey != "" && len(n.Recipients) > 0
}

// WarnPermissions logs a warning if the config file is readable by group or others.
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

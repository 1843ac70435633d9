package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AlertsConfig holds failure-notification delivery targets. An empty config
// is valid — failed builds are then logged but no notification is sent.
type AlertsConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Email    EmailConfig     `yaml:"email"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// EmailConfig defines SMTP delivery of failure alerts. Delivery is enabled
// when Host, From, and To are all set.
type EmailConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	From string `yaml:"from"`
	To   string `yaml:"to"`

	// UserEnv/PassEnv name the environment variables holding SMTP credentials.
	// Both empty means the server accepts unauthenticated submission.
	UserEnv string `yaml:"user_env"`
	PassEnv string `yaml:"pass_env"`
}

// Enabled reports whether the email target is sufficiently configured.
func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.From != "" && e.To != ""
}

// User returns the SMTP username resolved from the environment.
func (e EmailConfig) User() string {
	if e.UserEnv == "" {
		return ""
	}
	return os.Getenv(e.UserEnv)
}

// Pass returns the SMTP password resolved from the environment.
func (e EmailConfig) Pass() string {
	if e.PassEnv == "" {
		return ""
	}
	return os.Getenv(e.PassEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort  = 8080
	DefaultDBPath    = "pipepulse.db"
	DefaultBranch    = "main"
	DefaultIngestRPM = 300
	DefaultSMTPPort  = 587
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// DBPath is the SQLite database file holding the build history.
	DBPath string `yaml:"db_path"`

	// DefaultBranch is substituted when an ingested payload omits the branch.
	DefaultBranch string `yaml:"default_branch"`

	// IngestRPM caps ingest/webhook requests per client IP per minute.
	// Zero disables rate limiting.
	IngestRPM int `yaml:"ingest_rpm"`

	// AllowOrigins lists dashboard origins permitted by CORS.
	AllowOrigins []string `yaml:"allow_origins"`

	// Alerts holds failure-notification delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:      DefaultHTTPPort,
			DBPath:        DefaultDBPath,
			DefaultBranch: DefaultBranch,
			IngestRPM:     DefaultIngestRPM,
			Alerts: AlertsConfig{
				Email: EmailConfig{Port: DefaultSMTPPort},
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.DBPath == "" {
		return fmt.Errorf("server.db_path must not be empty")
	}
	if cfg.Server.IngestRPM < 0 {
		return fmt.Errorf("server.ingest_rpm must not be negative")
	}
	for _, wh := range cfg.Server.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks type %q unknown: want slack|http", wh.Type)
		}
	}
	if e := cfg.Server.Alerts.Email; e.Enabled() && (e.Port <= 0 || e.Port > 65535) {
		return fmt.Errorf("server.alerts.email.port %d is out of range [1, 65535]", e.Port)
	}
	return nil
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPollInterval = 60 * time.Second
	DefaultBufferSize   = 500
	DefaultPageSize     = 20
)

// Config is the agent-side configuration parsed from the `agent:` section of
// config.yaml. The `server:` key in the same file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerURL is the base URL of the pipepulse server, e.g.
	// "http://localhost:8080". Builds are POSTed to {ServerURL}/ingest/{provider}.
	ServerURL string `yaml:"server_url"`

	// PollInterval controls how often each source is polled.
	PollInterval time.Duration `yaml:"poll_interval"`

	// BufferSize is the maximum number of builds held in memory while the
	// server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// Sources is the list of CI systems to poll.
	Sources []Source `yaml:"sources"`
}

// Source describes one polled CI system.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Type is the CI system type: github | jenkins.
	Type string `yaml:"type"`

	// GitHub fields — used when Type == "github".
	// Repo is the "owner/name" repository whose workflow runs are polled.
	Repo string `yaml:"repo"`
	// TokenEnv is the name of the environment variable holding the API token.
	// For GitHub this is a PAT; for Jenkins, the user's API token.
	TokenEnv string `yaml:"token_env"`

	// Jenkins fields — used when Type == "jenkins".
	// BaseURL is the Jenkins root URL, e.g. "https://jenkins.example.com".
	BaseURL string `yaml:"base_url"`
	// Job is the Jenkins job name to poll.
	Job string `yaml:"job"`
	// User is the Jenkins username for basic auth (safe to store in config).
	User string `yaml:"user"`

	// PageSize caps how many recent runs are fetched per poll.
	PageSize int `yaml:"page_size"`
}

// Token returns the API token resolved from the environment.
// Returns empty string if TokenEnv is unset or the variable is not found.
func (s Source) Token() string {
	if s.TokenEnv == "" {
		return ""
	}
	return os.Getenv(s.TokenEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("agent config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			PollInterval: DefaultPollInterval,
			BufferSize:   DefaultBufferSize,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Agent.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if u, err := url.Parse(cfg.Agent.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("agent.server_url %q is not an absolute URL", cfg.Agent.ServerURL)
	}
	if cfg.Agent.PollInterval <= 0 {
		return fmt.Errorf("agent.poll_interval must be positive")
	}
	if cfg.Agent.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	for i, src := range cfg.Agent.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		switch src.Type {
		case "github":
			if src.Repo == "" {
				return fmt.Errorf("sources[%d] %q: repo is required for github sources", i, src.ID)
			}
		case "jenkins":
			if src.BaseURL == "" {
				return fmt.Errorf("sources[%d] %q: base_url is required for jenkins sources", i, src.ID)
			}
			if src.Job == "" {
				return fmt.Errorf("sources[%d] %q: job is required for jenkins sources", i, src.ID)
			}
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
		if src.PageSize < 0 {
			return fmt.Errorf("sources[%d] %q: page_size must not be negative", i, src.ID)
		}
	}
	return nil
}

// Package config provides YAML-based configuration loading for the group
// chat responder.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from config.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Slack    SlackConfig    `yaml:"slack"`
	LLM      LLMConfig      `yaml:"llm"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Router   RouterConfig   `yaml:"router"`
	Logging  LoggingConfig  `yaml:"logging"`
	Agents   []AgentConfig  `yaml:"agents"`
}

// ServerConfig holds webhook listener settings.
type ServerConfig struct {
	Port        int             `yaml:"port"`
	WebhookPath string          `yaml:"webhook_path"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds inbound webhook requests with a token bucket.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DatabaseConfig selects and addresses the message store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// SlackConfig holds Slack Web API credentials.
type SlackConfig struct {
	BotToken      string `yaml:"bot_token"`
	SigningSecret string `yaml:"signing_secret"` // optional; enables request verification
}

// LLMConfig addresses an OpenAI-compatible chat-completions backend.
type LLMConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Timeout returns the per-call HTTP timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// DispatchConfig sizes the background worker pool.
type DispatchConfig struct {
	Workers        int `yaml:"workers"`
	QueueSize      int `yaml:"queue_size"`
	TaskTimeoutSec int `yaml:"task_timeout_sec"`
}

// TaskTimeout returns the deadline applied to each dispatched envelope.
func (c DispatchConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSec) * time.Second
}

// RouterConfig tunes Direct-mode fan-out.
type RouterConfig struct {
	MaxParallel int `yaml:"max_parallel"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// AgentConfig seeds one agent and its documents.
type AgentConfig struct {
	ExternalID string           `yaml:"external_id"`
	Name       string           `yaml:"name"`
	Documents  []DocumentConfig `yaml:"documents"`
}

// DocumentConfig is one seeded grounding document.
type DocumentConfig struct {
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// Load reads a YAML config file from path and returns a validated Config.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.WebhookPath == "" {
		c.Server.WebhookPath = "/slack/events"
	}
	if c.Server.RateLimit.RPS == 0 {
		c.Server.RateLimit.RPS = 20
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 40
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "groupchat.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 120
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 8
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 256
	}
	if c.Dispatch.TaskTimeoutSec == 0 {
		c.Dispatch.TaskTimeoutSec = 300
	}
	if c.Router.MaxParallel == 0 {
		c.Router.MaxParallel = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Slack.BotToken == "" {
		errs = append(errs, "slack.bot_token is required")
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, "llm.api_key is required")
	}
	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required for mysql")
		}
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of mysql, sqlite", c.Database.Driver))
	}
	if c.Dispatch.Workers < 0 {
		errs = append(errs, "dispatch.workers must be positive")
	}
	if c.Dispatch.QueueSize < 0 {
		errs = append(errs, "dispatch.queue_size must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not one of text, json", c.Logging.Format))
	}
	seen := make(map[string]bool)
	for i, a := range c.Agents {
		if a.ExternalID == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].external_id is required", i))
		} else if seen[a.ExternalID] {
			errs = append(errs, fmt.Sprintf("agents[%d].external_id %q is duplicated", i, a.ExternalID))
		}
		seen[a.ExternalID] = true
		if a.Name == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].name is required", i))
		}
		for j, d := range a.Documents {
			if d.Title == "" {
				errs = append(errs, fmt.Sprintf("agents[%d].documents[%d].title is required", i, j))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

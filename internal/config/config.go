// Package config loads the orchestratord YAML configuration file,
// mirroring the nesting style of the teacher's internal/config package:
// one struct per concern, env expansion before parsing, defaults applied
// after.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root orchestratord configuration document.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Controller    ControllerConfig    `yaml:"controller"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Debounce      DebounceConfig      `yaml:"debounce"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Observability ObservabilityConfig `yaml:"observability"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Deployment    DeploymentConfig    `yaml:"deployment"`
	LLM           LLMConfig           `yaml:"llm"`
}

// ServerConfig configures the HTTP listener that fronts the orchestrator.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the Postgres-backed repository adapters.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ControllerConfig configures the external home-automation controller client.
type ControllerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SchedulerConfig configures the cron-driven analysis scheduler.
type SchedulerConfig struct {
	Role         string        `yaml:"role"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// DebounceConfig configures the entity-update debouncer.
type DebounceConfig struct {
	Capacity      int           `yaml:"capacity"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// NotificationsConfig configures the insight notifier channel.
type NotificationsConfig struct {
	MobileAppTarget string `yaml:"mobile_app_target"`
}

// ObservabilityConfig configures OTLP trace export.
type ObservabilityConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// WebhookConfig configures the inbound webhook handler's auth mode.
type WebhookConfig struct {
	Secret     string `yaml:"secret"`
	JWTEnabled bool   `yaml:"jwt_enabled"`
}

// DeploymentConfig selects between the monolith and distributed
// remote-architect deployment modes (§6).
type DeploymentConfig struct {
	Mode               string `yaml:"mode"` // "monolith" | "distributed"
	RemoteArchitectAddr string `yaml:"remote_architect_addr"`
}

// LLMConfig configures the Anthropic-backed completion provider.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// Load reads path, expands environment variables, decodes it against
// Config and applies defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Controller.Timeout == 0 {
		cfg.Controller.Timeout = 10 * time.Second
	}
	if cfg.Scheduler.Role == "" {
		cfg.Scheduler.Role = "all"
	}
	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = time.Minute
	}
	if cfg.Debounce.Capacity == 0 {
		cfg.Debounce.Capacity = 1000
	}
	if cfg.Debounce.FlushInterval == 0 {
		cfg.Debounce.FlushInterval = 5 * time.Second
	}
	if cfg.Observability.SamplingRate == 0 {
		cfg.Observability.SamplingRate = 1.0
	}
	if cfg.Deployment.Mode == "" {
		cfg.Deployment.Mode = "monolith"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-5"
	}
}

// DefaultConfigPath is the fallback config location when --config is unset,
// grounded on the teacher's profile.DefaultConfigPath.
func DefaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.config/aether/orchestratord.yaml"
	}
	return "orchestratord.yaml"
}

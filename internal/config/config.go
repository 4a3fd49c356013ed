// Package config loads and validates the service configuration from a YAML
// file with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	LLM     LLMConfig     `yaml:"llm"`
	History HistoryConfig `yaml:"history"`
	Copilot CopilotConfig `yaml:"copilot"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// LLMConfig selects and configures the reasoning backend.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint, e.g. for proxies or
	// OpenAI-compatible servers. Optional.
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
}

// HistoryConfig selects the session history backend.
type HistoryConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the SQLite database file. Required when Backend is "sqlite".
	Path string `yaml:"path"`
}

// CopilotConfig tunes the orchestration engine.
type CopilotConfig struct {
	SystemPrompt        string        `yaml:"system_prompt"`
	HistoryLimit        int           `yaml:"history_limit"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`
	ToolTimeout         time.Duration `yaml:"tool_timeout"`
	// SeedDemoData loads fixture pilots and challenges into the in-memory
	// directory at startup.
	SeedDemoData bool `yaml:"seed_demo_data"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables
// tracing.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

const defaultSystemPrompt = `You are the assistant for a municipal innovation platform. You help city
staff find, create, and manage innovation pilot projects and challenges.
Use the available tools to answer questions about pilots and to make
changes when asked. Be concise and factual.`

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "json"},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
			MaxTokens: 1024,
		},
		History: HistoryConfig{Backend: "memory"},
		Copilot: CopilotConfig{
			SystemPrompt:        defaultSystemPrompt,
			HistoryLimit:        50,
			ConfirmationTimeout: 5 * time.Minute,
			ToolTimeout:         30 * time.Second,
			SeedDemoData:        true,
		},
		Tracing: TracingConfig{ServiceName: "copilot", SampleRate: 1.0},
	}
}

// Load reads the YAML file at path, expands ${VAR} references from the
// environment, applies defaults for unset fields, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw YAML into a validated Config.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.History.Backend == "" {
		c.History.Backend = d.History.Backend
	}
	if c.Copilot.SystemPrompt == "" {
		c.Copilot.SystemPrompt = d.Copilot.SystemPrompt
	}
	if c.Copilot.HistoryLimit <= 0 {
		c.Copilot.HistoryLimit = d.Copilot.HistoryLimit
	}
	if c.Copilot.ConfirmationTimeout == 0 {
		c.Copilot.ConfirmationTimeout = d.Copilot.ConfirmationTimeout
	}
	if c.Copilot.ToolTimeout <= 0 {
		c.Copilot.ToolTimeout = d.Copilot.ToolTimeout
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = d.Tracing.SampleRate
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai":
	case "":
		return fmt.Errorf("llm.provider is required")
	default:
		return fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	switch c.History.Backend {
	case "memory":
	case "sqlite":
		if c.History.Path == "" {
			return fmt.Errorf("history.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("history.backend must be memory or sqlite, got %q", c.History.Backend)
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}

	if c.Copilot.ConfirmationTimeout < 0 {
		return fmt.Errorf("copilot.confirmation_timeout must not be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}

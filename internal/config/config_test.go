package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseFullConfig(t *testing.T) {
	data := []byte(`
server:
  addr: ":9090"
log:
  level: debug
  format: text
llm:
  provider: openai
  model: gpt-4o
  api_key: sk-test
  max_tokens: 2048
history:
  backend: sqlite
  path: /var/lib/copilot/history.db
copilot:
  confirmation_timeout: 2m
  tool_timeout: 10s
  history_limit: 25
tracing:
  endpoint: localhost:4317
  sample_rate: 0.5
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("LLM = %+v", cfg.LLM)
	}
	if cfg.History.Backend != "sqlite" || cfg.History.Path != "/var/lib/copilot/history.db" {
		t.Fatalf("History = %+v", cfg.History)
	}
	if cfg.Copilot.ConfirmationTimeout != 2*time.Minute {
		t.Fatalf("ConfirmationTimeout = %v", cfg.Copilot.ConfirmationTimeout)
	}
	if cfg.Copilot.ToolTimeout != 10*time.Second {
		t.Fatalf("ToolTimeout = %v", cfg.Copilot.ToolTimeout)
	}
	if cfg.Tracing.SampleRate != 0.5 {
		t.Fatalf("SampleRate = %v", cfg.Tracing.SampleRate)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Fatalf("Log = %+v", cfg.Log)
	}
	if cfg.History.Backend != "memory" {
		t.Fatalf("History.Backend = %q", cfg.History.Backend)
	}
	if cfg.Copilot.HistoryLimit != 50 {
		t.Fatalf("HistoryLimit = %d", cfg.Copilot.HistoryLimit)
	}
	if cfg.Copilot.ConfirmationTimeout != 5*time.Minute {
		t.Fatalf("ConfirmationTimeout = %v", cfg.Copilot.ConfirmationTimeout)
	}
	if cfg.Copilot.SystemPrompt == "" {
		t.Fatal("SystemPrompt default missing")
	}
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("COPILOT_TEST_KEY", "sk-from-env")

	cfg, err := Parse([]byte(`
llm:
  provider: anthropic
  model: claude-sonnet-4-20250514
  api_key: ${COPILOT_TEST_KEY}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Fatalf("APIKey = %q, want value from environment", cfg.LLM.APIKey)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"unknown provider",
			"llm:\n  provider: cohere\n  model: m\n",
			"llm.provider",
		},
		{
			"missing model",
			"llm:\n  provider: anthropic\n  model: \"\"\n",
			"llm.model",
		},
		{
			"sqlite without path",
			"llm:\n  provider: anthropic\n  model: m\nhistory:\n  backend: sqlite\n",
			"history.path",
		},
		{
			"unknown history backend",
			"llm:\n  provider: anthropic\n  model: m\nhistory:\n  backend: postgres\n  path: x\n",
			"history.backend",
		},
		{
			"bad log format",
			"llm:\n  provider: anthropic\n  model: m\nlog:\n  format: xml\n",
			"log.format",
		},
		{
			"sample rate out of range",
			"llm:\n  provider: anthropic\n  model: m\ntracing:\n  sample_rate: 1.5\n",
			"sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copilot.yaml")
	content := "llm:\n  provider: anthropic\n  model: claude-sonnet-4-20250514\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("Provider = %q", cfg.LLM.Provider)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
}

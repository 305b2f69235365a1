package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("expected gemini, got %s", cfg.LLM.Provider)
	}
	if cfg.Accumulate.MessageLimit != 20 {
		t.Errorf("expected message limit 20, got %d", cfg.Accumulate.MessageLimit)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("expected 1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Database.Backend != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Database.Backend)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte(`
agent:
  name: desktop-monitor
  is_screen_monitor: true
accumulate:
  message_limit: 5
`), 0644)

	cfg := Load(path)
	if cfg.Agent.Name != "desktop-monitor" {
		t.Errorf("expected desktop-monitor, got %s", cfg.Agent.Name)
	}
	if !cfg.Agent.IsScreenMonitor {
		t.Error("expected screen monitor enabled")
	}
	if cfg.Accumulate.MessageLimit != 5 {
		t.Errorf("expected message limit 5, got %d", cfg.Accumulate.MessageLimit)
	}
	// Defaults preserved
	if cfg.LLM.Provider != "gemini" {
		t.Errorf("default should be preserved, got %s", cfg.LLM.Provider)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MIRIX_LLM_API_KEY", "env-key")
	t.Setenv("MIRIX_DATABASE_DSN", "postgres://localhost/mirix")

	cfg := Load("/nonexistent/path.yaml")
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Database.Backend != "postgres" {
		t.Errorf("expected dsn to switch backend to postgres, got %s", cfg.Database.Backend)
	}
	// Fallback: embedding gets LLM key
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("expected embedding fallback to env-key, got %s", cfg.Embedding.APIKey)
	}
}

func TestMemoryModelFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte(`
llm:
  model: gpt-4.1
  memory_model: ""
`), 0644)

	cfg := Load(path)
	if cfg.LLM.MemoryModel != "gpt-4.1" {
		t.Errorf("expected memory model fallback to gpt-4.1, got %s", cfg.LLM.MemoryModel)
	}
}

func TestAgentStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := &AgentState{
		AgentName:                "mirix",
		Model:                    "gemini-2.5-flash",
		MemoryModel:              "gemini-2.0-flash",
		Timezone:                 "America/New_York",
		IncludeRecentScreenshots: true,
		IsScreenMonitor:          true,
		BackupType:               "sqlite",
		BackupTimestamp:          "2026-08-24T10:00:00Z",
	}
	if err := SaveState(dir, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadState(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *got != *st {
		t.Errorf("state mismatch: got %+v want %+v", got, st)
	}

	// The snapshot metadata uses the documented key names.
	data, err := os.ReadFile(filepath.Join(dir, "agent_config.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"model_name", "memory_model_name", "timezone_str", "is_screen_monitor", "backup_type", "backup_timestamp"} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("agent_config.json missing key %q:\n%s", key, data)
		}
	}
}

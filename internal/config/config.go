package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Database   DatabaseConfig   `yaml:"database"`
	Upload     UploadConfig     `yaml:"upload"`
	Accumulate AccumulateConfig `yaml:"accumulate"`
	Observer   ObserverConfig   `yaml:"observer"`
}

type AgentConfig struct {
	Name                     string `yaml:"name"`
	IsScreenMonitor          bool   `yaml:"is_screen_monitor"`
	SkipMetaMemoryManager    bool   `yaml:"skip_meta_memory_manager"`
	IncludeRecentScreenshots bool   `yaml:"include_recent_screenshots"`
	Timezone                 string `yaml:"timezone"`
}

type LLMConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	MemoryModel string `yaml:"memory_model"`
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
}

type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Backend string `yaml:"backend"` // sqlite or postgres
	Path    string `yaml:"path"`    // sqlite file
	DSN     string `yaml:"dsn"`     // postgres connection string
}

type UploadConfig struct {
	Workers           int `yaml:"workers"`
	AttemptTimeoutSec int `yaml:"attempt_timeout_sec"`
	RetryDelaySec     int `yaml:"retry_delay_sec"`
}

type AccumulateConfig struct {
	MessageLimit         int `yaml:"message_limit"`
	UploadWaitTimeoutSec int `yaml:"upload_wait_timeout_sec"`
}

type ObserverConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Agent:      AgentConfig{Name: "mirix", Timezone: "UTC", IncludeRecentScreenshots: true},
		LLM:        LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash", MemoryModel: "gemini-2.5-flash"},
		Embedding:  EmbeddingConfig{Provider: "gemini", Model: "gemini-embedding-001", Dimensions: 1536},
		Database:   DatabaseConfig{Backend: "sqlite", Path: filepath.Join(home, ".mirix", "mirix.db")},
		Upload:     UploadConfig{Workers: 4, AttemptTimeoutSec: 30, RetryDelaySec: 1},
		Accumulate: AccumulateConfig{MessageLimit: 20, UploadWaitTimeoutSec: 10},
	}
}

// Load reads config: defaults -> YAML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "mirix.yaml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("MIRIX_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MIRIX_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MIRIX_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
		cfg.Database.Backend = "postgres"
	}
	if v := os.Getenv("MIRIX_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MIRIX_OBSERVER_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
		cfg.Observer.Enabled = true
	}
	if os.Getenv("MIRIX_OBSERVER_ENABLED") == "true" || os.Getenv("MIRIX_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.LLM.MemoryModel == "" {
		cfg.LLM.MemoryModel = cfg.LLM.Model
	}

	return cfg
}

// AgentState is the mutable runtime state persisted alongside a database
// snapshot as agent_config.json.
type AgentState struct {
	AgentName                string `json:"agent_name"`
	Model                    string `json:"model_name"`
	MemoryModel              string `json:"memory_model_name"`
	Timezone                 string `json:"timezone_str"`
	Persona                  string `json:"persona,omitempty"`
	IncludeRecentScreenshots bool   `json:"include_recent_screenshots"`
	IsScreenMonitor          bool   `json:"is_screen_monitor"`
	BackupType               string `json:"backup_type"`
	BackupTimestamp          string `json:"backup_timestamp"`
}

// SaveState writes st to dir/agent_config.json.
func SaveState(dir string, st *AgentState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "agent_config.json"), data, 0o644)
}

// LoadState reads dir/agent_config.json.
func LoadState(dir string) (*AgentState, error) {
	data, err := os.ReadFile(filepath.Join(dir, "agent_config.json"))
	if err != nil {
		return nil, err
	}
	var st AgentState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

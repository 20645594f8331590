package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds the document database location.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai" or "hash"
	ModelName string `yaml:"model_name"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Dimension int    `yaml:"dimension"`
	IndexFile string `yaml:"index_file"`
}

// OSCConfig holds the control-protocol endpoints.
type OSCConfig struct {
	ListenIP   string `yaml:"listen_ip"`
	ListenPort int    `yaml:"listen_port"`
	SendIP     string `yaml:"send_ip"`
	SendPort   int    `yaml:"send_port"`
}

// SearchConfig bounds invocation searches.
type SearchConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// OrchestratorConfig tunes niche admission.
type OrchestratorConfig struct {
	OverlapThreshold float64 `yaml:"overlap_threshold"`
	TickInterval     float64 `yaml:"tick_interval"` // seconds
	MaxAdmitsPerTick int     `yaml:"max_admits_per_tick"`
	DefaultDuration  float64 `yaml:"default_duration"`  // seconds
	DefaultFreqLow   float64 `yaml:"default_freq_low"`  // Hz
	DefaultFreqHigh  float64 `yaml:"default_freq_high"` // Hz
}

// Config is the root configuration tree.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	OSC          OSCConfig          `yaml:"osc"`
	Search       SearchConfig       `yaml:"search"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// Load reads a config from path. An empty path or a missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "hibikido.db"},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			ModelName: "all-MiniLM-L6-v2",
			BaseURL:   "http://127.0.0.1:8181/v1",
			APIKeyEnv: "HIBIKIDO_EMBED_API_KEY",
			Dimension: 384,
			IndexFile: "hibikido.index",
		},
		OSC: OSCConfig{
			ListenIP:   "127.0.0.1",
			ListenPort: 9000,
			SendIP:     "127.0.0.1",
			SendPort:   9001,
		},
		Search: SearchConfig{TopK: 10, MinScore: 0.3},
		Orchestrator: OrchestratorConfig{
			OverlapThreshold: 0.2,
			TickInterval:     0.1,
			MaxAdmitsPerTick: 5,
			DefaultDuration:  1.0,
			DefaultFreqLow:   200,
			DefaultFreqHigh:  2000,
		},
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Database.Path == "" {
		cfg.Database.Path = def.Database.Path
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = def.Embedding.Provider
	}
	if cfg.Embedding.ModelName == "" {
		cfg.Embedding.ModelName = def.Embedding.ModelName
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = def.Embedding.BaseURL
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = def.Embedding.APIKeyEnv
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = def.Embedding.Dimension
	}
	if cfg.Embedding.IndexFile == "" {
		cfg.Embedding.IndexFile = def.Embedding.IndexFile
	}
	if cfg.OSC.ListenIP == "" {
		cfg.OSC.ListenIP = def.OSC.ListenIP
	}
	if cfg.OSC.ListenPort == 0 {
		cfg.OSC.ListenPort = def.OSC.ListenPort
	}
	if cfg.OSC.SendIP == "" {
		cfg.OSC.SendIP = def.OSC.SendIP
	}
	if cfg.OSC.SendPort == 0 {
		cfg.OSC.SendPort = def.OSC.SendPort
	}
	if cfg.Search.TopK == 0 && cfg.Search.MinScore == 0 {
		cfg.Search = def.Search
	}
	if cfg.Orchestrator.OverlapThreshold == 0 {
		cfg.Orchestrator.OverlapThreshold = def.Orchestrator.OverlapThreshold
	}
	if cfg.Orchestrator.TickInterval == 0 {
		cfg.Orchestrator.TickInterval = def.Orchestrator.TickInterval
	}
	if cfg.Orchestrator.MaxAdmitsPerTick == 0 {
		cfg.Orchestrator.MaxAdmitsPerTick = def.Orchestrator.MaxAdmitsPerTick
	}
	if cfg.Orchestrator.DefaultDuration == 0 {
		cfg.Orchestrator.DefaultDuration = def.Orchestrator.DefaultDuration
	}
	if cfg.Orchestrator.DefaultFreqLow == 0 {
		cfg.Orchestrator.DefaultFreqLow = def.Orchestrator.DefaultFreqLow
	}
	if cfg.Orchestrator.DefaultFreqHigh == 0 {
		cfg.Orchestrator.DefaultFreqHigh = def.Orchestrator.DefaultFreqHigh
	}
}

func validate(cfg *Config) error {
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: embedding.dimension must be positive")
	}
	if t := cfg.Orchestrator.OverlapThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("config: orchestrator.overlap_threshold must be in (0, 1], got %g", t)
	}
	if cfg.Orchestrator.TickInterval <= 0 {
		return fmt.Errorf("config: orchestrator.tick_interval must be positive")
	}
	if cfg.Search.TopK < 0 {
		return fmt.Errorf("config: search.top_k must not be negative")
	}
	if cfg.Orchestrator.DefaultFreqLow > cfg.Orchestrator.DefaultFreqHigh {
		return fmt.Errorf("config: orchestrator default frequency band is inverted")
	}
	return nil
}

// Package config defines the PlanForge application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level PlanForge configuration.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Decompose  DecomposeConfig  `json:"decompose" yaml:"decompose"`
	DataDir    string           `json:"data_dir" yaml:"data_dir"`
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"` // "text" or "json"
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":8000"
}

// AuthConfig controls API authentication. When Enabled is false all
// routes are open, which suits local development with the mock provider.
type AuthConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
}

// LLMConfig selects and configures the decomposition backend.
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider"` // "mock", "openai", "ollama"
	Model       string  `json:"model,omitempty" yaml:"model"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// SimulationConfig sets defaults for execution simulation runs.
type SimulationConfig struct {
	MaxConcurrent int     `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	FailureRate   float64 `json:"failure_rate" yaml:"failure_rate"`
	MaxJitter     float64 `json:"max_jitter" yaml:"max_jitter"`
}

// DecomposeConfig sets defaults for decomposition runs.
type DecomposeConfig struct {
	MaxDepth    int `json:"max_depth" yaml:"max_depth"`
	MaxSubtasks int `json:"max_subtasks" yaml:"max_subtasks"`
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// DefaultConfig returns a config with sensible defaults. The mock
// provider is selected so a fresh install runs without credentials.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		LLM: LLMConfig{
			Provider:    "mock",
			MaxTokens:   2000,
			Temperature: 0.7,
		},
		Simulation: SimulationConfig{
			MaxConcurrent: 3,
			FailureRate:   0.1,
			MaxJitter:     0.25,
		},
		Decompose: DecomposeConfig{
			MaxDepth:    2,
			MaxSubtasks: 8,
			Concurrency: 4,
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML config file, overlays environment variables and
// validates the result. An empty path skips the file and applies
// defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
// Environment wins over the file.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PLANFORGE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PLANFORGE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PLANFORGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PLANFORGE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	switch c.LLM.Provider {
	case "openai":
		if v := os.Getenv("OPENAI_MODEL"); v != "" {
			c.LLM.Model = v
		}
	case "ollama":
		if v := os.Getenv("OLLAMA_MODEL"); v != "" {
			c.LLM.Model = v
		}
		if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
			c.LLM.BaseURL = v
		}
	}
	if v := os.Getenv("MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse MAX_TOKENS: %w", err)
		}
		c.LLM.MaxTokens = n
	}
	if v := os.Getenv("TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse TEMPERATURE: %w", err)
		}
		c.LLM.Temperature = f
	}
	return nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	switch c.LLM.Provider {
	case "mock", "openai", "ollama":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.Auth.Enabled && c.Auth.AdminPass == "" {
		return fmt.Errorf("config: auth enabled but admin_pass is not set")
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		return fmt.Errorf("config: openai provider requires an api key")
	}
	if c.Simulation.MaxConcurrent < 1 {
		return fmt.Errorf("config: max_concurrent_tasks must be at least 1")
	}
	if c.Simulation.FailureRate < 0 || c.Simulation.FailureRate > 1 {
		return fmt.Errorf("config: failure_rate must be between 0 and 1")
	}
	if c.Simulation.MaxJitter < 0 {
		return fmt.Errorf("config: max_jitter must not be negative")
	}
	if c.Decompose.MaxDepth < 1 || c.Decompose.MaxDepth > 3 {
		return fmt.Errorf("config: max_depth must be between 1 and 3")
	}
	return nil
}

// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PlaceholderAPIKey is the value shipped in example env files. A key equal to
// it is treated the same as a missing key.
const PlaceholderAPIKey = "your-api-key-here"

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	Provider ProviderConfig
	Search   SearchConfig
	Agent    AgentConfig
	Executor ExecutorConfig
}

// ProviderConfig controls the AI backend adapter.
type ProviderConfig struct {
	Model          string
	BaseURL        string
	APIKey         string
	AccountURL     string // tenant/account id resolution endpoint, responses protocol only
	SystemPrompt   string
	RequestTimeout time.Duration
}

// SearchConfig controls the web lookup client.
type SearchConfig struct {
	APIKey     string
	BaseURL    string
	MaxResults int
}

// AgentConfig controls per-session behavior of the orchestrator.
type AgentConfig struct {
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	TokenWarnLimit int // advisory threshold on the chars/4 estimate
	PresetDir      string
	VerifyDir      string
}

// ExecutorConfig controls host command execution.
type ExecutorConfig struct {
	Backend          string // "docker" or "local"
	ContainerRuntime string // Docker runtime: "" = default (runc), "runsc" = gVisor
	LocalRoot        string // per-user workspace root for the local backend
	CommandTimeout   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/hostpilot.db"),
		Provider: ProviderConfig{
			Model:          getEnv("AI_MODEL", "gpt-4o-mini"),
			BaseURL:        getEnv("AI_BASE_URL", "https://api.openai.com"),
			APIKey:         getEnv("AI_API_KEY", ""),
			AccountURL:     getEnv("AI_ACCOUNT_URL", ""),
			SystemPrompt:   getEnv("AI_SYSTEM_PROMPT", ""),
			RequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),
		},
		Search: SearchConfig{
			APIKey:     getEnv("SEARCH_API_KEY", ""),
			BaseURL:    getEnv("SEARCH_BASE_URL", "https://api.tavily.com/search"),
			MaxResults: getEnvInt("SEARCH_MAX_RESULTS", 5),
		},
		Agent: AgentConfig{
			IdleTimeout:    getEnvDuration("AGENT_IDLE_TIMEOUT", 10*time.Minute),
			SweepInterval:  getEnvDuration("AGENT_SWEEP_INTERVAL", time.Minute),
			TokenWarnLimit: getEnvInt("AGENT_TOKEN_WARN_LIMIT", 3000),
			PresetDir:      getEnv("AGENT_PRESET_DIR", "./data/presets"),
			VerifyDir:      getEnv("AGENT_VERIFY_DIR", "./data/verify"),
		},
		Executor: ExecutorConfig{
			Backend:          getEnv("EXECUTOR_BACKEND", "docker"),
			ContainerRuntime: getEnv("CONTAINER_RUNTIME", ""),
			LocalRoot:        getEnv("EXECUTOR_LOCAL_ROOT", "./data/workspaces"),
			CommandTimeout:   getEnvDuration("EXECUTOR_COMMAND_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("AI_MODEL cannot be empty")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("AI_BASE_URL cannot be empty")
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("AI_REQUEST_TIMEOUT must be > 0")
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("SEARCH_MAX_RESULTS must be > 0")
	}
	if c.Agent.IdleTimeout <= 0 {
		return fmt.Errorf("AGENT_IDLE_TIMEOUT must be > 0")
	}
	if c.Agent.SweepInterval <= 0 {
		return fmt.Errorf("AGENT_SWEEP_INTERVAL must be > 0")
	}
	switch c.Executor.Backend {
	case "docker", "local":
	default:
		return fmt.Errorf("EXECUTOR_BACKEND must be \"docker\" or \"local\", got %q", c.Executor.Backend)
	}
	return nil
}

// HasProviderKey reports whether a usable AI API key is configured.
// A placeholder key counts as missing so the failure surfaces as a readable
// reply instead of an HTTP 401 from the backend.
func (c *Config) HasProviderKey() bool {
	key := strings.TrimSpace(c.Provider.APIKey)
	return key != "" && key != PlaceholderAPIKey
}

// HasSearchKey reports whether a usable search API key is configured.
func (c *Config) HasSearchKey() bool {
	key := strings.TrimSpace(c.Search.APIKey)
	return key != "" && key != PlaceholderAPIKey
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the openlord server and chat client.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Tools     ToolsConfig     `yaml:"tools"`
	LogLevel  string          `yaml:"logLevel"`
}

// ServerConfig configures the chat endpoint and the orchestrator behind it.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	MaxTokens      int           `yaml:"maxTokens"`
	MaxRoundTrips  int           `yaml:"maxRoundTrips"`
	// StrictModels rejects unknown model ids instead of falling back.
	StrictModels bool   `yaml:"strictModels"`
	Persona      string `yaml:"persona,omitempty"`
}

// ProvidersConfig holds credentials for the three generation backends.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Gemini    ProviderConfig `yaml:"gemini"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseURL,omitempty"`
}

type ToolsConfig struct {
	Weather WeatherConfig `yaml:"weather"`
	Search  SearchConfig  `yaml:"search"`
}

type WeatherConfig struct {
	BaseURL   string        `yaml:"baseURL"`
	RedisAddr string        `yaml:"redisAddr,omitempty"` // empty disables the cache
	CacheTTL  time.Duration `yaml:"cacheTTL"`
}

type SearchConfig struct {
	BaseURL           string  `yaml:"baseURL"`
	APIKey            string  `yaml:"apiKey,omitempty"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: 30 * time.Second,
			MaxTokens:      500,
			MaxRoundTrips:  4,
		},
		Tools: ToolsConfig{
			Weather: WeatherConfig{
				BaseURL:  "https://api.open-meteo.com",
				CacheTTL: 10 * time.Minute,
			},
			Search: SearchConfig{
				BaseURL:           "https://api.tavily.com",
				RequestsPerSecond: 2,
			},
		},
		LogLevel: "INFO",
	}
}

// Load reads the YAML file at path on top of Defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables; getenv is usually
// os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	set(&c.Providers.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_GENERATIVE_AI_API_KEY")
	set(&c.Tools.Search.APIKey, "TAVILY_API_KEY")
	set(&c.Tools.Weather.RedisAddr, "REDIS_ADDR")
	set(&c.Server.Addr, "OPENLORD_ADDR")
	set(&c.LogLevel, "LOG_LEVEL")
}

// Validate checks that budgets are usable.
func (c *Config) Validate() error {
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.requestTimeout must be positive")
	}
	if c.Server.MaxTokens <= 0 {
		return fmt.Errorf("server.maxTokens must be positive")
	}
	if c.Server.MaxRoundTrips < 0 {
		return fmt.Errorf("server.maxRoundTrips must not be negative")
	}
	if c.Tools.Search.RequestsPerSecond <= 0 {
		return fmt.Errorf("tools.search.requestsPerSecond must be positive")
	}
	return nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

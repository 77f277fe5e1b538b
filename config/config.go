package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	OpenAIAPIKey     string  `yaml:"openai_api_key"`
	OpenAIBaseURL    string  `yaml:"openai_base_url"`
	LightModel       string  `yaml:"light_model"`
	HeavyModel       string  `yaml:"heavy_model"`
	Temperature      float64 `yaml:"temperature"`
	HeavyCharLimit   int     `yaml:"heavy_char_limit"`
	ContextCount     int     `yaml:"context_count"`
	OverfetchMargin  int     `yaml:"overfetch_margin"`
	FetchConcurrency int     `yaml:"fetch_concurrency"`
	FetchTimeoutSecs int     `yaml:"fetch_timeout_secs"`
	CachePath        string  `yaml:"cache_path"`
	CacheMaxAgeHours int     `yaml:"cache_max_age_hours"`
	LogLevel         string  `yaml:"log_level"`
}

// Load reads configuration from a YAML file and applies defaults. A missing
// file is not an error: an interactive tool should start from environment
// variables alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path from environment or default.
func GetConfigPath() string {
	if path := os.Getenv("YT_CHAT_CONFIG"); path != "" {
		return path
	}
	return "./config.yaml"
}

func applyDefaults(cfg *Config) {
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = "https://api.openai.com"
	}
	if cfg.LightModel == "" {
		cfg.LightModel = "gpt-4o-mini"
	}
	if cfg.HeavyModel == "" {
		cfg.HeavyModel = "gpt-4o"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.9
	}
	if cfg.HeavyCharLimit == 0 {
		cfg.HeavyCharLimit = 50000
	}
	if cfg.ContextCount == 0 {
		cfg.ContextCount = 3
	}
	if cfg.OverfetchMargin == 0 {
		cfg.OverfetchMargin = 10
	}
	if cfg.FetchConcurrency == 0 {
		cfg.FetchConcurrency = 6
	}
	if cfg.FetchTimeoutSecs == 0 {
		cfg.FetchTimeoutSecs = 10
	}
	if cfg.CachePath == "" {
		cfg.CachePath = "./yt-chat.db"
	}
	if cfg.CacheMaxAgeHours == 0 {
		cfg.CacheMaxAgeHours = 7 * 24
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAIAPIKey = key
	}
	if dbPath := os.Getenv("YT_CHAT_DB"); dbPath != "" {
		cfg.CachePath = dbPath
	}
}

func validate(cfg *Config) error {
	if cfg.OpenAIAPIKey == "" {
		return fmt.Errorf("openai_api_key is required (or set OPENAI_API_KEY)")
	}
	if cfg.ContextCount < 0 {
		return fmt.Errorf("context_count must not be negative, got %d", cfg.ContextCount)
	}
	if cfg.FetchConcurrency < 1 {
		return fmt.Errorf("fetch_concurrency must be at least 1, got %d", cfg.FetchConcurrency)
	}
	return nil
}

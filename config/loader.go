package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load
const (
	EnvConfigPath = "MMATE_HTTP_CONFIG"
	EnvLogLevel   = "MMATE_HTTP_LOG_LEVEL"
	EnvLocale     = "MMATE_HTTP_LOCALE"
	EnvAMQPURL    = "MMATE_HTTP_AMQP_URL"
	EnvBaseURL    = "MMATE_HTTP_BASE_URL"

	defaultConfigFile = "mmate-http.yaml"
)

// Load loads configuration from defaults, the discovered YAML file and the
// environment, then validates it. A missing config file is not an error
// unless the path was given explicitly.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if filePath := discoverConfigFile(configPath); filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// discoverConfigFile returns the explicit path, then $MMATE_HTTP_CONFIG, then
// ./mmate-http.yaml if it exists, or "" when there is none
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// loadYAMLFile decodes path into cfg. Fields absent from the file keep their current value.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLocale); v != "" {
		cfg.Locale = v
	}
	if v := os.Getenv(EnvAMQPURL); v != "" {
		cfg.Backend.AMQP.URL = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Backend.HTTP.BaseURL = v
	}
}

func resolveFileReferences(cfg *Config) error {
	if cfg.Backend.AMQP.URLFile != "" && cfg.Backend.AMQP.URL == "" {
		data, err := os.ReadFile(cfg.Backend.AMQP.URLFile)
		if err != nil {
			return fmt.Errorf("backend.amqp.url_file: %w", err)
		}
		cfg.Backend.AMQP.URL = strings.TrimSpace(string(data))
	}
	return nil
}

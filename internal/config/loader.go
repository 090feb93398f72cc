package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DefaultDataDir is created under the user's home directory when no
	// data dir is configured.
	DefaultDataDir = ".satoconnector"
	// ConfigFileName is the default config file name searched for in
	// the data directory and the current directory.
	ConfigFileName = "connector.json"

	envPrefix = "SATO"
)

// Load loads configuration from file, environment and defaults, in
// that order of increasing precedence for env overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// findConfigFile looks for the config file in common locations.
func findConfigFile() string {
	candidates := []string{ConfigFileName}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// loadConfigFile reads a JSON config file into cfg via viper so that
// mapstructure tags apply.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Fail early on malformed JSON with a useful error.
	var probe map[string]interface{}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

// applyEnvOverrides applies SATO_* environment variables on top of the
// loaded configuration. Only secrets and deploy-specific knobs are
// overridable this way.
func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"LISTEN":         func(v string) { cfg.Listen = v },
		"DATA_DIR":       func(v string) { cfg.DataDir = v },
		"TRANSPORT_MODE": func(v string) { cfg.TransportMode = strings.ToLower(v) },

		"GOOGLE_CLIENT_ID":     func(v string) { cfg.OAuth.Google.ClientID = v },
		"GOOGLE_CLIENT_SECRET": func(v string) { cfg.OAuth.Google.ClientSecret = v },
		"FACEBOOK_APP_ID":      func(v string) { cfg.OAuth.Facebook.AppID = v },
		"FACEBOOK_APP_SECRET":  func(v string) { cfg.OAuth.Facebook.AppSecret = v },

		"ALERT_URL":     func(v string) { ensureAlerting(cfg); cfg.Alerting.URL = v },
		"ALERT_API_KEY": func(v string) { ensureAlerting(cfg); cfg.Alerting.APIKey = v },
	}

	for suffix, apply := range overrides {
		if v := os.Getenv(envPrefix + "_" + suffix); v != "" {
			apply(v)
		}
	}

	if v := os.Getenv(envPrefix + "_ENABLE_TOKEN_REFRESH"); v != "" {
		cfg.EnableTokenRefresh = strings.EqualFold(v, "true")
	}
	if v := os.Getenv(envPrefix + "_ENABLE_VALIDATION"); v != "" {
		cfg.EnableValidation = strings.EqualFold(v, "true")
	}
}

func ensureAlerting(cfg *Config) {
	if cfg.Alerting == nil {
		cfg.Alerting = &AlertConfig{}
	}
}

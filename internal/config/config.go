// Package config defines the connector configuration structures and
// the file/environment loader.
package config

import (
	"fmt"
	"time"
)

const (
	defaultListen      = ":8085"
	defaultMaxFailures = 3

	// TransportHTTP connects to the per-platform HTTP microservices.
	TransportHTTP = "http"
	// TransportStdio spawns local subprocess servers.
	TransportStdio = "stdio"
	// TransportAuto tries HTTP first and falls back to stdio.
	TransportAuto = "auto"
)

// Config is the root configuration for the connector.
type Config struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	DataDir string `json:"data_dir" mapstructure:"data-dir"`

	// TransportMode selects how platform tool servers are reached:
	// http, stdio or auto.
	TransportMode string `json:"transport_mode" mapstructure:"transport-mode"`

	// Feature flags for the orchestration pipeline.
	EnableTokenRefresh bool `json:"enable_token_refresh" mapstructure:"enable-token-refresh"`
	EnableValidation   bool `json:"enable_validation" mapstructure:"enable-validation"`

	// MaxFailures is the failure-count threshold after which a
	// connection is no longer retried automatically.
	MaxFailures int `json:"max_failures" mapstructure:"max-failures"`

	OAuth     OAuthProviders             `json:"oauth" mapstructure:"oauth"`
	Platforms map[string]*PlatformConfig `json:"platforms" mapstructure:"platforms"`

	Logging  *LogConfig   `json:"logging,omitempty" mapstructure:"logging"`
	Alerting *AlertConfig `json:"alerting,omitempty" mapstructure:"alerting"`
}

// OAuthProviders holds the application-level OAuth client credentials
// per provider. Tenant refresh tokens live in storage, not here.
type OAuthProviders struct {
	Google   GoogleOAuth   `json:"google" mapstructure:"google"`
	Facebook FacebookOAuth `json:"facebook" mapstructure:"facebook"`
}

// GoogleOAuth configures the Google token endpoint client.
type GoogleOAuth struct {
	ClientID     string `json:"client_id" mapstructure:"client-id"`
	ClientSecret string `json:"client_secret" mapstructure:"client-secret"`
	// TokenURL overrides the default Google token endpoint (tests).
	TokenURL string `json:"token_url,omitempty" mapstructure:"token-url"`
}

// FacebookOAuth configures the Facebook Graph token exchange client.
type FacebookOAuth struct {
	AppID     string `json:"app_id" mapstructure:"app-id"`
	AppSecret string `json:"app_secret" mapstructure:"app-secret"`
	// TokenURL overrides the default Graph exchange endpoint (tests).
	TokenURL string `json:"token_url,omitempty" mapstructure:"token-url"`
}

// PlatformConfig describes how to reach one platform's tool server over
// each transport. BaseURL drives the HTTP microservice transport;
// Command/Args/WorkingDir/Env drive the stdio subprocess transport.
type PlatformConfig struct {
	BaseURL    string            `json:"base_url,omitempty" mapstructure:"base-url"`
	Command    string            `json:"command,omitempty" mapstructure:"command"`
	Args       []string          `json:"args,omitempty" mapstructure:"args"`
	WorkingDir string            `json:"working_dir,omitempty" mapstructure:"working-dir"`
	Env        map[string]string `json:"env,omitempty" mapstructure:"env"`
}

// AlertConfig configures the fire-and-forget incident sink used when a
// connection is permanently invalidated.
type AlertConfig struct {
	URL     string        `json:"url" mapstructure:"url"`
	APIKey  string        `json:"api_key,omitempty" mapstructure:"api-key"`
	Timeout time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`       // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"` // files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// Default returns a config with working defaults; platform entries and
// OAuth client credentials still have to come from file or env.
func Default() *Config {
	return &Config{
		Listen:             defaultListen,
		TransportMode:      TransportAuto,
		EnableTokenRefresh: true,
		EnableValidation:   true,
		MaxFailures:        defaultMaxFailures,
		Platforms:          make(map[string]*PlatformConfig),
	}
}

// Validate checks the configuration for structural problems. Missing
// per-platform credentials are not an error here; they surface as
// platform-scoped failures at run time.
func (c *Config) Validate() error {
	switch c.TransportMode {
	case TransportHTTP, TransportStdio, TransportAuto:
	default:
		return fmt.Errorf("invalid transport mode %q (want http, stdio or auto)", c.TransportMode)
	}
	if c.MaxFailures < 1 {
		return fmt.Errorf("max-failures must be at least 1, got %d", c.MaxFailures)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	return nil
}

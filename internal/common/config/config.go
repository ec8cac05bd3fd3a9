// Package config provides configuration management for the agent runtime.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the runtime.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	ModelDefaults ModelDefaultsConfig `mapstructure:"modelDefaults"`
	PathPolicy    PathPolicyConfig    `mapstructure:"pathPolicy"`
	Permission    PermissionConfig    `mapstructure:"permission"`
	RateLimit     RateLimitConfig     `mapstructure:"rateLimit"`
	ModelServer   ModelServerConfig   `mapstructure:"modelServer"`
}

// ModelServerConfig points at the external model-inference HTTP
// server (§1's "model loading and inference are explicitly out of the
// core's scope") that backs the agentic turn controller's ModelStream
// collaborator.
type ModelServerConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	TimeoutSec int    `mapstructure:"timeoutSec"`
}

// ServerConfig holds the stdio ACP connection's protocol-level settings.
type ServerConfig struct {
	// ProtocolVersion is the agent's newest supported ACP protocol version.
	ProtocolVersion int `mapstructure:"protocolVersion"`
	// MaxTurnRequests bounds the number of model generations within a single
	// session/prompt turn before the controller stops with MaxTurnRequests.
	MaxTurnRequests int `mapstructure:"maxTurnRequests"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ModelDefaultsConfig holds the context-budget parameters consulted by the
// agentic turn controller (C8) when no per-model override is supplied.
type ModelDefaultsConfig struct {
	ContextSize      int `mapstructure:"contextSize"`
	MaxTokensPerTurn int `mapstructure:"maxTokensPerTurn"`
	MinTokenFloor    int `mapstructure:"minTokenFloor"`
}

// PathPolicyConfig holds the path & command validator's (C1) configured
// limits and denylists, layered on top of its built-in rules.
type PathPolicyConfig struct {
	MaxPathLength          int      `mapstructure:"maxPathLength"`
	ForbiddenPathPrefixes  []string `mapstructure:"forbiddenPathPrefixes"`
	ForbiddenWriteExts     []string `mapstructure:"forbiddenWriteExtensions"`
}

// PermissionConfig holds the permission policy engine's (C3) auto-approve
// and require-permission tool-name lists.
type PermissionConfig struct {
	AutoApprove      []string `mapstructure:"autoApprove"`
	RequirePermission []string `mapstructure:"requirePermission"`
}

// RateLimitConfig configures the supplementary token-bucket limiter guarding
// MCP dispatch and model-stream restarts (§3A/§1B).
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond"`
	Burst             int     `mapstructure:"burst"`
}

// detectDefaultLogFormat returns "json" in container/production-like
// environments and "text" for terminal/development use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTRT_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.protocolVersion", 1)
	v.SetDefault("server.maxTurnRequests", 25)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("modelDefaults.contextSize", 32768)
	v.SetDefault("modelDefaults.maxTokensPerTurn", 16384)
	v.SetDefault("modelDefaults.minTokenFloor", 512)

	v.SetDefault("pathPolicy.maxPathLength", 4096)
	v.SetDefault("pathPolicy.forbiddenPathPrefixes", []string{})
	v.SetDefault("pathPolicy.forbiddenWriteExtensions", []string{"exe", "bat", "cmd", "scr", "com", "pif"})

	v.SetDefault("permission.autoApprove", []string{"fs_read", "fs_list"})
	v.SetDefault("permission.requirePermission", []string{"fs_write", "terminal_create", "terminal_write"})

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerSecond", 10.0)
	v.SetDefault("rateLimit.burst", 20)

	v.SetDefault("modelServer.endpoint", "http://127.0.0.1:8080/v1/completions")
	v.SetDefault("modelServer.timeoutSec", 300)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTRT_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/agentrt/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTRT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "AGENTRT_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentrt/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.MaxTurnRequests <= 0 {
		errs = append(errs, "server.maxTurnRequests must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.ModelDefaults.ContextSize <= 0 {
		errs = append(errs, "modelDefaults.contextSize must be positive")
	}
	if cfg.ModelDefaults.MaxTokensPerTurn <= 0 {
		errs = append(errs, "modelDefaults.maxTokensPerTurn must be positive")
	}

	if cfg.PathPolicy.MaxPathLength <= 0 {
		errs = append(errs, "pathPolicy.maxPathLength must be positive")
	}

	if cfg.ModelServer.Endpoint == "" {
		errs = append(errs, "modelServer.endpoint must be set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

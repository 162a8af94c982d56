// Package config provides configuration for the conductor service.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int `mapstructure:"http_port"`

	// Database
	DatabaseURL string `mapstructure:"database_url"`

	// Generation backend. An empty base URL disables the backend and the
	// pipeline runs on the deterministic stage variants.
	LLMBaseURL     string        `mapstructure:"llm_base_url"`
	LLMAPIKey      string        `mapstructure:"llm_api_key"`
	LLMModel       string        `mapstructure:"llm_model"`
	LLMTimeout     time.Duration `mapstructure:"llm_timeout"`
	StageTimeout   time.Duration `mapstructure:"stage_timeout"`

	// Telemetry
	LogBufferCapacity int    `mapstructure:"log_buffer_capacity"`
	PromptAuditPath   string `mapstructure:"prompt_audit_path"`

	// Ingestion
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// Load reads configuration from an optional config file and the environment.
// Every key can be overridden with its upper-snake environment variable,
// e.g. CONDUCTOR_HTTP_PORT.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("http_port", 8080)
	v.SetDefault("database_url", "file:conductor.db?cache=shared&mode=rwc")
	v.SetDefault("llm_base_url", "")
	v.SetDefault("llm_api_key", "")
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("llm_timeout", 60*time.Second)
	v.SetDefault("stage_timeout", 120*time.Second)
	v.SetDefault("log_buffer_capacity", 2048)
	v.SetDefault("prompt_audit_path", "")
	v.SetDefault("chunk_size", 1200)
	v.SetDefault("chunk_overlap", 200)

	v.SetEnvPrefix("conductor")
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("conductor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing discovered file is fine; a present but unreadable or
		// malformed one is not, however it was located.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

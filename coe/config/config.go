package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ep-code-box/CoE/coe"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file, a .env file or environment variables.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Harness  HarnessConfig  `mapstructure:"harness"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Agents   []AgentConfig  `mapstructure:"agents"`
}

// BackendConfig describes the OpenAI-compatible chat backend.
type BackendConfig struct {
	URL              string        `mapstructure:"url"`
	ForceHTTPS       bool          `mapstructure:"force_https"`
	ChatTimeout      time.Duration `mapstructure:"chat_timeout"`      // POST /v1/chat/completions
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"` // GET /v1/models
	UserAgent        string        `mapstructure:"user_agent"`
}

// HarnessConfig controls the dispatch loop and tool execution.
type HarnessConfig struct {
	// Loop
	MaxIterations  int    `mapstructure:"max_iterations"`
	EnableTools    bool   `mapstructure:"enable_tools"`
	ToolChoiceAuto bool   `mapstructure:"tool_choice_auto"`
	SystemPrompt   string `mapstructure:"system_prompt"`

	// Tool registry
	ToolkitToolName   string   `mapstructure:"toolkit_tool_name"`  // name requested from the toolkit first
	AllowedTools      []string `mapstructure:"allowed_tools"`      // empty allows all; "prefix*" matches a prefix
	ValidateArguments bool     `mapstructure:"validate_arguments"` // check call arguments against the tool schema

	// Tool execution
	ParallelTools   bool          `mapstructure:"parallel_tools"`   // only side-effect-free batches
	ToolConcurrency int           `mapstructure:"tool_concurrency"` // max concurrent tool executions
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`

	// Telemetry
	EnableTracing bool `mapstructure:"enable_tracing"`

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"`
}

// CatalogConfig controls model discovery.
type CatalogConfig struct {
	AllowedOwners   []string `mapstructure:"allowed_owners"`
	CacheEnabled    bool     `mapstructure:"cache_enabled"`
	CacheCapacity   int      `mapstructure:"cache_capacity"`
	CacheTTLSeconds int      `mapstructure:"cache_ttl_seconds"`
	Persist         bool     `mapstructure:"persist"` // keep the last good catalog in libsql
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN           string `mapstructure:"dsn"`
	Type          string `mapstructure:"type"`
	LibSQLDataDir string `mapstructure:"libsql_data_dir"`
}

// LogConfig controls the zerolog root logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// AgentConfig declares a sub-agent exposed through the agent toolkit.
type AgentConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Prompt      string `mapstructure:"prompt"`
	Model       string `mapstructure:"model"`
}

// LoadConfig reads configuration from file or environment variables.
// Every call decodes a fresh Config; callers own the returned value.
func LoadConfig(configPath string) (*Config, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	SetDefaults()

	viper.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. backend.force_https becomes BACKEND_FORCE_HTTPS
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode()
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("backend.url", internal.DefaultBackendURL)
	viper.SetDefault("backend.force_https", false)
	viper.SetDefault("backend.chat_timeout", "30s")
	viper.SetDefault("backend.discovery_timeout", "8s")
	viper.SetDefault("backend.user_agent", internal.DefaultAppName)

	viper.SetDefault("harness.max_iterations", 8)
	viper.SetDefault("harness.enable_tools", true)
	viper.SetDefault("harness.tool_choice_auto", true)
	viper.SetDefault("harness.system_prompt", "")
	viper.SetDefault("harness.toolkit_tool_name", "Call_Agent")
	viper.SetDefault("harness.allowed_tools", []string{}) // Empty means allow all by default
	viper.SetDefault("harness.validate_arguments", false)
	viper.SetDefault("harness.parallel_tools", false)
	viper.SetDefault("harness.tool_concurrency", 5)
	viper.SetDefault("harness.tool_timeout", "30s")
	viper.SetDefault("harness.enable_tracing", true)
	viper.SetDefault("harness.rate_limit_enabled", false)
	viper.SetDefault("harness.rate_limit_capacity", 10)
	viper.SetDefault("harness.rate_limit_refill_rate", "1s")

	viper.SetDefault("catalog.allowed_owners", []string{"openai", "sktax"})
	viper.SetDefault("catalog.cache_enabled", true)
	viper.SetDefault("catalog.cache_capacity", 16)
	viper.SetDefault("catalog.cache_ttl_seconds", 300)
	viper.SetDefault("catalog.persist", false)

	viper.SetDefault("database.dsn", internal.DefaultDatabaseDSN)
	viper.SetDefault("database.type", internal.DefaultDatabaseType)
	viper.SetDefault("database.libsql_data_dir", internal.DefaultDatabaseDir)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.pretty", false)
}

func decode() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

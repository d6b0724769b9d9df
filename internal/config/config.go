// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Values are resolved by
// viper in cmd/ (file < env < flags); everything below cmd/ receives the
// already-unmarshaled struct and never touches viper directly.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Intel    IntelConfig    `mapstructure:"intel" yaml:"intel"`
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// Scan gets its marching orders from CLI flags, not the config file.
	Scan ScanConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig controls the zap logger bootstrap.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// StageSettings is the per-stage policy surface exposed to configuration.
// Which stages are required and in what order they run is fixed by the
// pipeline protocol, not by config.
type StageSettings struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

// PipelineConfig configures the analysis pipeline.
type PipelineConfig struct {
	// OverallBudget is a soft wall-clock guideline for the whole run. It is
	// logged and surfaced in performance metrics but never enforced
	// mid-stage.
	OverallBudget time.Duration `mapstructure:"overall_budget" yaml:"overall_budget"`

	// Stages maps stage name to its policy. Missing stages fall back to the
	// defaults in SetDefaults.
	Stages map[string]StageSettings `mapstructure:"stages" yaml:"stages"`
}

// StageSettingsFor returns the policy for a stage, falling back to a generic
// default when the stage is not configured.
func (p PipelineConfig) StageSettingsFor(name string) StageSettings {
	if s, ok := p.Stages[name]; ok {
		return s
	}
	return StageSettings{Timeout: 60 * time.Second, MaxRetries: 1, BaseDelay: 2 * time.Second}
}

// LLMConfig defines the configuration for the LLM provider used by the
// agent-analysis stages.
type LLMConfig struct {
	Provider      string            `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// IntelConfig configures the OSV threat-intelligence client and its local
// badger cache.
type IntelConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	CacheDir       string        `mapstructure:"cache_dir" yaml:"cache_dir"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	// InMemoryCache disables disk persistence; used by tests.
	InMemoryCache bool `mapstructure:"in_memory_cache" yaml:"in_memory_cache"`
}

// RegistryConfig configures the package-registry metadata client used by
// trust scoring.
type RegistryConfig struct {
	NPMEndpoint    string        `mapstructure:"npm_endpoint" yaml:"npm_endpoint"`
	PyPIEndpoint   string        `mapstructure:"pypi_endpoint" yaml:"pypi_endpoint"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// RateLimit is requests per second against the registry.
	RateLimit   float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst       int     `mapstructure:"burst" yaml:"burst"`
	Concurrency int     `mapstructure:"concurrency" yaml:"concurrency"`
	// GitHubToken enables authenticated repo-health lookups. Optional;
	// unauthenticated requests work with a lower rate limit.
	GitHubToken string `mapstructure:"github_token" yaml:"github_token"`
}

// DatabaseConfig holds the optional scan-history database connection details.
// An empty URL disables persistence entirely.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ScanConfig centralizes the runtime settings of the current scan, populated
// from CLI arguments and flags.
type ScanConfig struct {
	Target    string // Directory, manifest file, or git URL.
	Ecosystem string // Explicit ecosystem override; empty means auto-detect.
	Output    string // Report output path; empty means stdout.
	Format    string // Report format: json, markdown, html.
	FailOn    string // Exit non-zero when a finding at or above this severity exists.
	Store     bool   // Persist the finished report to the history database.
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "packguard")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Pipeline --
	v.SetDefault("pipeline.overall_budget", "10m")
	v.SetDefault("pipeline.stages.primary-detection.timeout", "120s")
	v.SetDefault("pipeline.stages.primary-detection.max_retries", 2)
	v.SetDefault("pipeline.stages.primary-detection.base_delay", "2s")
	v.SetDefault("pipeline.stages.trust-scoring.timeout", "90s")
	v.SetDefault("pipeline.stages.trust-scoring.max_retries", 2)
	v.SetDefault("pipeline.stages.trust-scoring.base_delay", "2s")
	v.SetDefault("pipeline.stages.deep-content-analysis.timeout", "180s")
	v.SetDefault("pipeline.stages.deep-content-analysis.max_retries", 1)
	v.SetDefault("pipeline.stages.deep-content-analysis.base_delay", "5s")
	v.SetDefault("pipeline.stages.attack-pattern-analysis.timeout", "180s")
	v.SetDefault("pipeline.stages.attack-pattern-analysis.max_retries", 1)
	v.SetDefault("pipeline.stages.attack-pattern-analysis.base_delay", "5s")
	v.SetDefault("pipeline.stages.synthesis.timeout", "120s")
	v.SetDefault("pipeline.stages.synthesis.max_retries", 1)
	v.SetDefault("pipeline.stages.synthesis.base_delay", "3s")

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 8192)

	// -- Intel --
	v.SetDefault("intel.endpoint", "https://api.osv.dev/v1/querybatch")
	v.SetDefault("intel.request_timeout", "30s")
	v.SetDefault("intel.cache_dir", "")
	v.SetDefault("intel.cache_ttl", "24h")
	v.SetDefault("intel.in_memory_cache", false)

	// -- Registry --
	v.SetDefault("registry.npm_endpoint", "https://registry.npmjs.org")
	v.SetDefault("registry.pypi_endpoint", "https://pypi.org/pypi")
	v.SetDefault("registry.request_timeout", "20s")
	v.SetDefault("registry.rate_limit", 8.0)
	v.SetDefault("registry.burst", 4)
	v.SetDefault("registry.concurrency", 6)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "PACKGUARD_LLM_API_KEY")
	v.BindEnv("registry.github_token", "PACKGUARD_GITHUB_TOKEN")
	v.BindEnv("database.url", "PACKGUARD_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	for name, s := range c.Pipeline.Stages {
		if s.Timeout <= 0 {
			return fmt.Errorf("pipeline.stages.%s.timeout must be a positive duration", name)
		}
		if s.MaxRetries < 0 {
			return fmt.Errorf("pipeline.stages.%s.max_retries must not be negative", name)
		}
		if s.BaseDelay < 0 {
			return fmt.Errorf("pipeline.stages.%s.base_delay must not be negative", name)
		}
	}
	if c.Registry.RateLimit <= 0 {
		return fmt.Errorf("registry.rate_limit must be positive")
	}
	if c.Registry.Concurrency <= 0 {
		return fmt.Errorf("registry.concurrency must be a positive integer")
	}
	if c.Intel.CacheTTL <= 0 {
		return fmt.Errorf("intel.cache_ttl must be a positive duration")
	}
	return nil
}

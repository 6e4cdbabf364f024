// Package config loads application settings with viper and declarative agent,
// workflow and loop definitions from YAML.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/agentflow/core"
)

// EnvPrefix prefixes every environment override, e.g. AGENTFLOW_REDIS_ADDR.
const EnvPrefix = "AGENTFLOW"

// Config is the application configuration assembled from defaults, an
// optional config file and AGENTFLOW_* environment variables.
type Config struct {
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ExecutorConfig holds the executor defaults applied when neither the call
// nor the agent context sets a timeout or step cap.
type ExecutorConfig struct {
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	DefaultMaxSteps int           `mapstructure:"default_max_steps"`
}

// WorkflowConfig configures the workflow engine. MaxConcurrentRuns of 0
// means unlimited.
type WorkflowConfig struct {
	MaxConcurrentRuns int64 `mapstructure:"max_concurrent_runs"`
}

// ProvidersConfig selects the default model provider and the shared rate
// limit (requests per second, 0 disables) applied to every provider.
type ProvidersConfig struct {
	Default   core.Provider  `mapstructure:"default"`
	RateLimit float64        `mapstructure:"rate_limit"`
	Burst     int            `mapstructure:"burst"`
	OpenAI    ProviderConfig `mapstructure:"openai"`
	Anthropic ProviderConfig `mapstructure:"anthropic"`
}

// ProviderConfig holds the credentials and default model of one provider.
type ProviderConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// RedisConfig configures the Redis archive of finished runs and loops. An
// empty Addr disables archiving.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// LogConfig sets the log level (debug, info, warn, error) and format (json
// or text).
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig sets the listen address of the Prometheus endpoint. Empty
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]any{
	"executor.default_timeout":     60 * time.Second,
	"executor.default_max_steps":   10,
	"workflow.max_concurrent_runs": 0,
	"providers.default":            string(core.ProviderOpenAI),
	"providers.rate_limit":         0.0,
	"providers.burst":              1,
	"providers.openai.api_key":     "",
	"providers.openai.model":       "gpt-4o-mini",
	"providers.anthropic.api_key":  "",
	"providers.anthropic.model":    "claude-3-5-haiku-latest",
	"redis.addr":                   "",
	"redis.password":               "",
	"redis.db":                     0,
	"redis.ttl":                    24 * time.Hour,
	"log.level":                    "info",
	"log.format":                   "text",
	"metrics.addr":                 "",
}

// Default returns the configuration without any file or environment input.
func Default() *Config {
	cfg, err := load(viper.New(), "")
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the optional config file at path (YAML, TOML or JSON, by
// extension) and applies AGENTFLOW_* environment overrides on top of the
// defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key := range defaults {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, core.WrapError(core.KindInvalidConfig, "config.load", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.WrapError(core.KindInvalidConfig, "config.load", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Executor.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("executor.default_timeout must be positive"))
	}
	if c.Executor.DefaultMaxSteps <= 0 {
		errs = append(errs, errors.New("executor.default_max_steps must be positive"))
	}
	if c.Workflow.MaxConcurrentRuns < 0 {
		errs = append(errs, errors.New("workflow.max_concurrent_runs must not be negative"))
	}
	switch c.Providers.Default {
	case core.ProviderOpenAI, core.ProviderAnthropic, core.ProviderCustom:
	default:
		errs = append(errs, errors.New("providers.default must be openai, anthropic or custom"))
	}
	if c.Providers.RateLimit < 0 {
		errs = append(errs, errors.New("providers.rate_limit must not be negative"))
	}
	if c.Redis.TTL < 0 {
		errs = append(errs, errors.New("redis.ttl must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return core.WrapError(core.KindInvalidConfig, "config.validate", err)
	}
	return nil
}

package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/rewards-engine/internal/cost"
	"github.com/sells-group/rewards-engine/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LLMConfig selects the model provider and how it is called.
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	APIKey   string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	// Model pins every tier to one model when set.
	Model        string     `yaml:"model" mapstructure:"model"`
	Models       TierModels `yaml:"models" mapstructure:"models"`
	TimeoutSecs  int        `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts  int        `yaml:"max_attempts" mapstructure:"max_attempts"`
	RateLimitRPS float64    `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// TierModels overrides the model of individual complexity tiers.
type TierModels struct {
	Simple       string `yaml:"simple" mapstructure:"simple"`
	Complex      string `yaml:"complex" mapstructure:"complex"`
	UltraComplex string `yaml:"ultra_complex" mapstructure:"ultra_complex"`
}

// Tiers returns the non-empty overrides keyed by tier.
func (t TierModels) Tiers() map[model.Tier]string {
	out := make(map[model.Tier]string)
	if t.Simple != "" {
		out[model.TierSimple] = t.Simple
	}
	if t.Complex != "" {
		out[model.TierComplex] = t.Complex
	}
	if t.UltraComplex != "" {
		out[model.TierUltraComplex] = t.UltraComplex
	}
	return out
}

// Timeout returns the per-attempt model call timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CacheConfig configures the semantic judgment cache.
type CacheConfig struct {
	Backend   string  `yaml:"backend" mapstructure:"backend"`
	RedisURL  string  `yaml:"redis_url" mapstructure:"redis_url"`
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	TTLSecs   int     `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// EngineConfig tunes rule processing.
type EngineConfig struct {
	LLMConcurrency int `yaml:"llm_concurrency" mapstructure:"llm_concurrency"`
	ChunkSize      int `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// MonitoringConfig configures the background AI spend alerts of serve.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CostThresholdUSD    float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	MinCacheHitRate     float64 `yaml:"min_cache_hit_rate" mapstructure:"min_cache_hit_rate"`
	LatencyThresholdMs  int64   `yaml:"latency_threshold_ms" mapstructure:"latency_threshold_ms"`
	// MinCalls is the sample size below which rate and latency alerts stay quiet.
	MinCalls int `yaml:"min_calls" mapstructure:"min_calls"`
}

// PricingConfig holds per-model token pricing overrides.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates converts the overrides for cost.NewCalculator.
func (p PricingConfig) Rates() cost.Rates {
	out := make(cost.Rates, len(p.Models))
	for name, m := range p.Models {
		out[name] = cost.ModelRate{Input: m.Input, Output: m.Output}
	}
	return out
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REWARDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credential chain of the legacy deployment.
	_ = v.BindEnv("llm.api_key", "REWARDS_LLM_API_KEY", "AI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("llm.model", "REWARDS_LLM_MODEL", "AI_MODEL")

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "rewards.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout_secs", 10)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.rate_limit_rps", 0)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.threshold", 0.85)
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("engine.llm_concurrency", 5)
	v.SetDefault("engine.chunk_size", 500)
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.cost_threshold_usd", 0)
	v.SetDefault("monitoring.min_cache_hit_rate", 0)
	v.SetDefault("monitoring.latency_threshold_ms", 0)
	v.SetDefault("monitoring.min_calls", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is the command name.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "process", "simulate", "migrate", "seed":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	if mode == "serve" || mode == "process" || mode == "simulate" {
		switch c.LLM.Provider {
		case "openai", "anthropic":
		default:
			errs = append(errs, "llm.provider must be openai or anthropic")
		}
		if c.LLM.MaxAttempts < 1 {
			errs = append(errs, "llm.max_attempts must be >= 1")
		}
		if c.LLM.RateLimitRPS < 0 {
			errs = append(errs, "llm.rate_limit_rps must be >= 0")
		}
		switch c.Cache.Backend {
		case "memory":
		case "redis":
			if c.Cache.RedisURL == "" {
				errs = append(errs, "cache.redis_url is required for the redis backend")
			}
		default:
			errs = append(errs, "cache.backend must be memory or redis")
		}
		if c.Cache.Threshold <= 0 || c.Cache.Threshold > 1 {
			errs = append(errs, "cache.threshold must be in (0, 1]")
		}
		if c.Engine.LLMConcurrency < 1 || c.Engine.LLMConcurrency > 50 {
			errs = append(errs, "engine.llm_concurrency must be between 1 and 50")
		}
		if c.Engine.ChunkSize < 1 {
			errs = append(errs, "engine.chunk_size must be >= 1")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if mode == "serve" && c.Monitoring.Enabled {
		if c.Monitoring.LookbackWindowHours < 1 {
			errs = append(errs, "monitoring.lookback_window_hours must be >= 1")
		}
		if c.Monitoring.MinCacheHitRate < 0 || c.Monitoring.MinCacheHitRate > 1 {
			errs = append(errs, "monitoring.min_cache_hit_rate must be in [0, 1]")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment      string                 `mapstructure:"environment"`
	Server           ServerConfig           `mapstructure:"server"`
	Log              LogConfig              `mapstructure:"log"`
	Redis            RedisConfig            `mapstructure:"redis"`
	Sentry           SentryConfig           `mapstructure:"sentry"`
	LiquidationDecay LiquidationDecayConfig `mapstructure:"liquidation_decay"`
	OIDivergence     OIDivergenceConfig     `mapstructure:"oi_divergence"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type RedisConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	SnapshotTTLMinutes int    `mapstructure:"snapshot_ttl_minutes"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	Release     string  `mapstructure:"release"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// CascadeConfig controls burst detection inside the liquidation scorer.
type CascadeConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	WindowMinutes float64 `mapstructure:"window_minutes"`
	MinEvents     int     `mapstructure:"min_events"`
	BoostDivisor  float64 `mapstructure:"boost_divisor"`
}

// LiquidationDecayConfig holds the tunables for time-decay-weighted
// liquidation scoring. Out-of-range values are rejected when the scorer is
// constructed, not here.
type LiquidationDecayConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	HalfLifeHours        float64       `mapstructure:"half_life_hours"`
	MinEffectiveWeight   float64       `mapstructure:"min_effective_weight"`
	MinEvents            int           `mapstructure:"min_events"`
	UseSqrtTransform     bool          `mapstructure:"use_sqrt_transform"`
	DecayFunction        string        `mapstructure:"decay_function"`
	PowerLawAlpha        float64       `mapstructure:"power_law_alpha"`
	ImbalanceSensitivity float64       `mapstructure:"imbalance_sensitivity"`
	Cascade              CascadeConfig `mapstructure:"cascade_detection"`
}

// OIDivergenceConfig holds the tunables for price/open-interest divergence
// scoring.
type OIDivergenceConfig struct {
	MinSamples             int     `mapstructure:"min_samples"`
	DivergenceThreshold    float64 `mapstructure:"divergence_threshold"`
	BootstrapResamples     int     `mapstructure:"bootstrap_resamples"`
	RecencyHalfLifeMinutes float64 `mapstructure:"recency_half_life_minutes"`
	DefaultCompleteness    float64 `mapstructure:"default_completeness"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	return &config, nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.shutdown_timeout_seconds", 30)

	// Logging
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_age_days", 7)

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.snapshot_ttl_minutes", 15)

	// Sentry
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "")
	viper.SetDefault("sentry.release", "")
	viper.SetDefault("sentry.sample_rate", 1.0)

	// Liquidation decay scoring
	viper.SetDefault("liquidation_decay.enabled", true)
	viper.SetDefault("liquidation_decay.half_life_hours", 3.5)
	viper.SetDefault("liquidation_decay.min_effective_weight", 0.05)
	viper.SetDefault("liquidation_decay.min_events", 1)
	viper.SetDefault("liquidation_decay.use_sqrt_transform", true)
	viper.SetDefault("liquidation_decay.decay_function", "exponential")
	viper.SetDefault("liquidation_decay.power_law_alpha", 1.5)
	viper.SetDefault("liquidation_decay.imbalance_sensitivity", 1.5)
	viper.SetDefault("liquidation_decay.cascade_detection.enabled", true)
	viper.SetDefault("liquidation_decay.cascade_detection.window_minutes", 5.0)
	viper.SetDefault("liquidation_decay.cascade_detection.min_events", 5)
	viper.SetDefault("liquidation_decay.cascade_detection.boost_divisor", 180.0)

	// OI divergence scoring
	viper.SetDefault("oi_divergence.min_samples", 3)
	viper.SetDefault("oi_divergence.divergence_threshold", -0.3)
	viper.SetDefault("oi_divergence.bootstrap_resamples", 2000)
	viper.SetDefault("oi_divergence.recency_half_life_minutes", 30.0)
	viper.SetDefault("oi_divergence.default_completeness", 0.5)
}

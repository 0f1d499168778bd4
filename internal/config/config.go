package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Data    DataConfig    `mapstructure:"data"`
	Session SessionConfig `mapstructure:"session"`
	Risk    RiskConfig    `mapstructure:"risk"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Mode   string `mapstructure:"mode"`
	APIKey string `mapstructure:"api_key"`
}

// DataConfig holds candle source settings.
type DataConfig struct {
	Source        string        `mapstructure:"source"` // "binance" or "memory"
	BaseURL       string        `mapstructure:"base_url"`
	FetchRetries  int           `mapstructure:"fetch_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// SessionConfig holds session engine settings.
type SessionConfig struct {
	DefaultCapital     float64       `mapstructure:"default_capital"`
	MaxConcurrent      int           `mapstructure:"max_concurrent"`
	CheckpointInterval int           `mapstructure:"checkpoint_interval"` // candles between checkpoints
	DecisionInterval   int           `mapstructure:"decision_interval"`   // candles between decisions
	DecisionTimeout    time.Duration `mapstructure:"decision_timeout"`
	DecisionMinDelay   time.Duration `mapstructure:"decision_min_delay"`
	ReadinessThreshold float64       `mapstructure:"readiness_threshold"` // fraction of non-null indicators
	HistoryWindow      int           `mapstructure:"history_window"`      // candles of context per decision
}

// RiskConfig holds position limits and safety-mode thresholds.
type RiskConfig struct {
	MaxSizeFraction float64 `mapstructure:"max_size_fraction"`
	MaxLeverage     int     `mapstructure:"max_leverage"`
	// Safety thresholds are percentages of starting capital; zero disables
	// the corresponding check.
	MaxLossPerTradePct float64 `mapstructure:"max_loss_per_trade_pct"`
	MaxDailyLossPct    float64 `mapstructure:"max_daily_loss_pct"`
	MaxDrawdownPct     float64 `mapstructure:"max_drawdown_pct"`
}

type LLMConfig struct {
	Provider string       `mapstructure:"provider"`
	Claude   ClaudeConfig `mapstructure:"claude"`
	OpenAI   OpenAIConfig `mapstructure:"openai"`
	Ollama   OllamaConfig `mapstructure:"ollama"`
	// Council lists the providers of the multi-model council maker; empty
	// means single-provider decisions.
	Council     []string `mapstructure:"council"`
	Temperature float64  `mapstructure:"temperature"`
}

type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OllamaConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
}

// ArchiveConfig holds cold storage settings for completed results.
type ArchiveConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Type    string   `mapstructure:"type"` // "localfs" or "s3"
	Path    string   `mapstructure:"path"` // For localfs
	S3      S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from file
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "release",
		},
		Data: DataConfig{
			Source:        "binance",
			FetchRetries:  3,
			RetryInterval: 2 * time.Second,
		},
		Session: SessionConfig{
			DefaultCapital:     10000,
			MaxConcurrent:      10,
			CheckpointInterval: 10,
			DecisionInterval:   1,
			DecisionTimeout:    20 * time.Second,
			ReadinessThreshold: 0.8,
			HistoryWindow:      20,
		},
		Risk: RiskConfig{
			MaxSizeFraction: 1.0,
			MaxLeverage:     10,
		},
		LLM: LLMConfig{
			Temperature: 0.3,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Type:    "localfs",
			Path:    "./archive",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}

	// Session validation
	if c.Session.DefaultCapital <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("default_capital must be positive, got %f", c.Session.DefaultCapital))
	}
	if c.Session.MaxConcurrent < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("max_concurrent must be at least 1, got %d", c.Session.MaxConcurrent))
	}
	if c.Session.DecisionInterval < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("decision_interval must be at least 1, got %d", c.Session.DecisionInterval))
	}
	if c.Session.ReadinessThreshold < 0 || c.Session.ReadinessThreshold > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("readiness_threshold must be between 0 and 1, got %f", c.Session.ReadinessThreshold))
	}

	// Risk validation
	if c.Risk.MaxSizeFraction <= 0 || c.Risk.MaxSizeFraction > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("max_size_fraction must be in (0, 1], got %f", c.Risk.MaxSizeFraction))
	}
	if c.Risk.MaxLeverage < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("max_leverage must be at least 1, got %d", c.Risk.MaxLeverage))
	}

	// LLM validation - if provider set, check config exists
	if c.LLM.Provider != "" {
		providers := append([]string{c.LLM.Provider}, c.LLM.Council...)
		for _, p := range providers {
			switch p {
			case "claude":
				if c.LLM.Claude.APIKey == "" {
					return core.WrapError(core.ErrConfigMissing,
						fmt.Errorf("claude api_key required when provider is claude"))
				}
			case "openai":
				if c.LLM.OpenAI.APIKey == "" {
					return core.WrapError(core.ErrConfigMissing,
						fmt.Errorf("openai api_key required when provider is openai"))
				}
			case "ollama":
				if c.LLM.Ollama.Endpoint == "" {
					return core.WrapError(core.ErrConfigMissing,
						fmt.Errorf("ollama endpoint required when provider is ollama"))
				}
			default:
				return core.WrapError(core.ErrConfigInvalid,
					fmt.Errorf("unknown LLM provider: %s", p))
			}
		}
	}

	// Archive validation
	if c.Archive.Enabled {
		switch c.Archive.Type {
		case "localfs":
			if c.Archive.Path == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("archive path required for localfs"))
			}
		case "s3":
			if c.Archive.S3.Bucket == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("s3 bucket required for s3 archive"))
			}
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("unknown archive type: %s", c.Archive.Type))
		}
	}

	return nil
}

package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/candle"
	"github.com/newthinker/tradesim/internal/candle/binance"
	"github.com/newthinker/tradesim/internal/config"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/decision/council"
	"github.com/newthinker/tradesim/internal/decision/llmmaker"
	"github.com/newthinker/tradesim/internal/llm"
	"github.com/newthinker/tradesim/internal/llm/factory"
	"github.com/newthinker/tradesim/internal/storage/archive"
)

// loadConfig loads the config file or falls back to defaults.
func loadConfig(log *zap.Logger) (*config.Config, error) {
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
		cfg := config.Defaults()
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newSource builds the candle source named by the config.
func newSource(cfg config.DataConfig) (candle.Source, error) {
	switch cfg.Source {
	case "", "binance":
		if cfg.BaseURL != "" {
			return binance.NewWithBaseURL(cfg.BaseURL), nil
		}
		return binance.New(), nil
	default:
		return nil, fmt.Errorf("unknown candle source: %s", cfg.Source)
	}
}

// newMaker builds the decision maker from the LLM config: a council when
// multiple providers are listed, a single LLM when one is configured, and
// the built-in rule maker otherwise.
func newMaker(cfg config.LLMConfig, log *zap.Logger) (decision.Maker, error) {
	if cfg.Provider == "" {
		log.Info("no LLM provider configured, using rule maker")
		return decision.NewRuleMaker(decision.RuleConfig{}), nil
	}

	if len(cfg.Council) > 0 {
		names := append([]string{cfg.Provider}, cfg.Council...)
		providers := make([]llm.Provider, 0, len(names))
		for _, name := range names {
			p, err := factory.NewNamed(name, cfg)
			if err != nil {
				return nil, fmt.Errorf("council member %s: %w", name, err)
			}
			providers = append(providers, p)
		}
		return council.New(providers, cfg.Temperature, log)
	}

	provider, err := factory.New(cfg)
	if err != nil {
		return nil, err
	}
	return llmmaker.New(provider, cfg.Temperature), nil
}

// newArchiver builds the result archiver, or returns nil when archiving is
// disabled.
func newArchiver(cfg config.ArchiveConfig) (*archive.Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Type {
	case "localfs":
		backend, err := archive.NewLocalFS(cfg.Path)
		if err != nil {
			return nil, err
		}
		return archive.NewArchiver(backend), nil
	case "s3":
		backend, err := archive.NewS3(archive.S3Config{
			Bucket:    cfg.S3.Bucket,
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return archive.NewArchiver(backend), nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}

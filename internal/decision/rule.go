package decision

import (
	"context"
	"fmt"

	"github.com/newthinker/tradesim/internal/core"
)

// RuleConfig holds thresholds for the deterministic RSI rule maker.
type RuleConfig struct {
	// Oversold is the RSI level below which a LONG is opened.
	Oversold float64
	// Overbought is the RSI level above which a SHORT is opened, and above
	// which an open LONG is closed.
	Overbought float64
	// SizeFraction is the equity fraction used for every entry.
	SizeFraction float64
	// Leverage is the leverage used for every entry.
	Leverage int
	// IndicatorKey is the indicator consulted; defaults to "rsi".
	IndicatorKey string
}

// RuleMaker is a deterministic decision maker driven by a single oscillator
// threshold. It lets backtests run without any external decision service
// and doubles as a reproducible baseline.
type RuleMaker struct {
	cfg RuleConfig
}

// NewRuleMaker creates a RuleMaker with defaults filled in.
func NewRuleMaker(cfg RuleConfig) *RuleMaker {
	if cfg.Oversold <= 0 {
		cfg.Oversold = 30
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = 70
	}
	if cfg.SizeFraction <= 0 {
		cfg.SizeFraction = 0.2
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	if cfg.IndicatorKey == "" {
		cfg.IndicatorKey = "rsi"
	}
	return &RuleMaker{cfg: cfg}
}

func (r *RuleMaker) Name() string {
	return "rule"
}

// Decide opens long below the oversold level, opens short above the
// overbought level, and closes positions that have moved to the opposite
// extreme. Anything else holds.
func (r *RuleMaker) Decide(ctx context.Context, req Request) (*core.Decision, error) {
	value := req.Indicators[r.cfg.IndicatorKey]
	if value == nil {
		return &core.Decision{
			Action:    core.ActionHold,
			Reasoning: fmt.Sprintf("%s not ready", r.cfg.IndicatorKey),
		}, nil
	}
	v := *value

	if req.Position != nil {
		if req.Position.Direction == core.DirectionLong && v >= r.cfg.Overbought {
			return &core.Decision{
				Action:    core.ActionClose,
				Reasoning: fmt.Sprintf("%s %.1f reached overbought %.1f", r.cfg.IndicatorKey, v, r.cfg.Overbought),
			}, nil
		}
		if req.Position.Direction == core.DirectionShort && v <= r.cfg.Oversold {
			return &core.Decision{
				Action:    core.ActionClose,
				Reasoning: fmt.Sprintf("%s %.1f reached oversold %.1f", r.cfg.IndicatorKey, v, r.cfg.Oversold),
			}, nil
		}
		return &core.Decision{Action: core.ActionHold, Reasoning: "position open, no exit signal"}, nil
	}

	switch {
	case v <= r.cfg.Oversold:
		return &core.Decision{
			Action:       core.ActionLong,
			Reasoning:    fmt.Sprintf("%s %.1f below oversold %.1f", r.cfg.IndicatorKey, v, r.cfg.Oversold),
			SizeFraction: r.cfg.SizeFraction,
			Leverage:     r.cfg.Leverage,
		}, nil
	case v >= r.cfg.Overbought:
		return &core.Decision{
			Action:       core.ActionShort,
			Reasoning:    fmt.Sprintf("%s %.1f above overbought %.1f", r.cfg.IndicatorKey, v, r.cfg.Overbought),
			SizeFraction: r.cfg.SizeFraction,
			Leverage:     r.cfg.Leverage,
		}, nil
	}
	return &core.Decision{Action: core.ActionHold, Reasoning: "no threshold crossed"}, nil
}

// Package indicator computes technical indicators over an immutable candle
// sequence, including user-defined composite formulas.
package indicator

import (
	"fmt"

	"github.com/newthinker/tradesim/internal/core"
)

// Kind identifies a built-in indicator family
type Kind string

const (
	KindRSI       Kind = "rsi"
	KindMACD      Kind = "macd"
	KindSMA       Kind = "sma"
	KindEMA       Kind = "ema"
	KindATR       Kind = "atr"
	KindBollinger Kind = "bollinger"
	KindOBV       Kind = "obv"
	KindVWAP      Kind = "vwap"
)

// MACD parameters are fixed at the standard 12/26/9 configuration.
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

const bollingerWidth = 2.0

// monkModeKinds is the whitelist of indicator families allowed for agents
// configured in the restricted "monk" mode.
var monkModeKinds = map[Kind]bool{
	KindRSI:  true,
	KindMACD: true,
}

// Spec describes one enabled built-in indicator
type Spec struct {
	// Name is the output key in the IndicatorSet. Defaults to the kind name.
	Name string `mapstructure:"name" json:"name"`
	// Kind selects the indicator family.
	Kind Kind `mapstructure:"kind" json:"kind"`
	// Period is the lookback window for period-based indicators.
	Period int `mapstructure:"period" json:"period"`
}

// CustomSpec defines a named composite indicator as an arithmetic expression
// over other indicator values, candle fields and literal constants.
type CustomSpec struct {
	Name string `mapstructure:"name" json:"name"`
	Expr string `mapstructure:"expr" json:"expr"`
}

// Config holds the indicator set for one session
type Config struct {
	Indicators []Spec       `mapstructure:"indicators" json:"indicators"`
	Custom     []CustomSpec `mapstructure:"custom" json:"custom"`
	// MonkMode restricts the enabled set to RSI and MACD.
	MonkMode bool `mapstructure:"monk_mode" json:"monk_mode"`
}

// DefaultConfig returns the standard RSI + MACD indicator set
func DefaultConfig() Config {
	return Config{
		Indicators: []Spec{
			{Kind: KindRSI, Period: 14},
			{Kind: KindMACD},
		},
	}
}

// defaultPeriod returns the conventional lookback for a kind.
func defaultPeriod(kind Kind) int {
	switch kind {
	case KindRSI, KindATR:
		return 14
	case KindSMA, KindEMA, KindBollinger:
		return 20
	}
	return 0
}

// builtin is one resolved built-in indicator with its precomputed outputs
type builtin struct {
	spec    Spec
	outputs map[string][]*float64 // output key -> series
	warmUp  int
}

// Pipeline computes indicator sets for any index into a candle sequence.
// All built-in series are precomputed at construction; composite expressions
// are evaluated per index against the built-in values.
type Pipeline struct {
	candles  []core.Candle
	builtins []builtin
	customs  []compiledCustom
	keys     []string
	maxWarm  int
}

// NewPipeline validates the configuration and precomputes all built-in
// series. Configuration errors (unknown kind, duplicate name, monk-mode
// violation, malformed or cyclic composite expression) are rejected here so
// that evaluation can never fail.
func NewPipeline(candles []core.Candle, cfg Config) (*Pipeline, error) {
	p := &Pipeline{candles: candles}

	seen := make(map[string]bool)
	for _, spec := range cfg.Indicators {
		if spec.Name == "" {
			spec.Name = string(spec.Kind)
		}
		if spec.Period <= 0 {
			spec.Period = defaultPeriod(spec.Kind)
		}

		if cfg.MonkMode && !monkModeKinds[spec.Kind] {
			return nil, core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("indicator %q is not allowed in monk mode", spec.Kind))
		}

		b, err := buildBuiltin(candles, spec)
		if err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}

		for key := range b.outputs {
			if seen[key] {
				return nil, core.WrapError(core.ErrConfigInvalid,
					fmt.Errorf("duplicate indicator name %q", key))
			}
			seen[key] = true
			p.keys = append(p.keys, key)
		}
		p.builtins = append(p.builtins, b)
		if b.warmUp > p.maxWarm {
			p.maxWarm = b.warmUp
		}
	}

	if cfg.MonkMode && len(cfg.Custom) > 0 {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("custom indicators are not allowed in monk mode"))
	}

	customs, err := compileCustoms(cfg.Custom, seen)
	if err != nil {
		return nil, err
	}
	p.customs = customs
	for _, c := range customs {
		p.keys = append(p.keys, c.name)
	}

	return p, nil
}

func buildBuiltin(candles []core.Candle, spec Spec) (builtin, error) {
	prices := closes(candles)
	b := builtin{spec: spec, outputs: make(map[string][]*float64)}

	switch spec.Kind {
	case KindRSI:
		b.outputs[spec.Name] = rsiSeries(prices, spec.Period)
		b.warmUp = spec.Period + 1
	case KindMACD:
		line, sig, hist := macdSeries(prices, macdFast, macdSlow, macdSignal)
		b.outputs[spec.Name] = line
		b.outputs[spec.Name+"_signal"] = sig
		b.outputs[spec.Name+"_histogram"] = hist
		b.warmUp = macdSlow + macdSignal - 1
	case KindSMA:
		b.outputs[spec.Name] = smaSeries(prices, spec.Period)
		b.warmUp = spec.Period
	case KindEMA:
		b.outputs[spec.Name] = emaSeries(prices, spec.Period)
		b.warmUp = spec.Period
	case KindATR:
		b.outputs[spec.Name] = atrSeries(candles, spec.Period)
		b.warmUp = spec.Period + 1
	case KindBollinger:
		upper, middle, lower := bollingerSeries(prices, spec.Period, bollingerWidth)
		b.outputs[spec.Name+"_upper"] = upper
		b.outputs[spec.Name+"_middle"] = middle
		b.outputs[spec.Name+"_lower"] = lower
		b.warmUp = spec.Period
	case KindOBV:
		b.outputs[spec.Name] = obvSeries(candles)
		b.warmUp = 1
	case KindVWAP:
		b.outputs[spec.Name] = vwapSeries(candles)
		b.warmUp = 1
	default:
		return builtin{}, fmt.Errorf("unknown indicator kind %q", spec.Kind)
	}
	return b, nil
}

// CalculateAll returns the indicator set as of the given candle index.
// Indicators whose warm-up window exceeds index+1 are nil.
func (p *Pipeline) CalculateAll(index int) core.IndicatorSet {
	set := make(core.IndicatorSet, len(p.keys))

	for _, b := range p.builtins {
		for key, series := range b.outputs {
			if index >= 0 && index < len(series) {
				set[key] = series[index]
			} else {
				set[key] = nil
			}
		}
	}

	var candle core.Candle
	if index >= 0 && index < len(p.candles) {
		candle = p.candles[index]
	}
	for _, c := range p.customs {
		set[c.name] = c.expr.eval(evalCtx{set: set, candle: candle})
	}

	return set
}

// Keys returns all output keys produced by the pipeline
func (p *Pipeline) Keys() []string {
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	return keys
}

// MaxWarmUp returns the longest warm-up window across enabled built-ins
func (p *Pipeline) MaxWarmUp() int {
	return p.maxWarm
}

// Len returns the number of candles the pipeline was built over
func (p *Pipeline) Len() int {
	return len(p.candles)
}

package core

import (
	"fmt"
	"time"
)

// Timeframe represents a candle interval
type Timeframe string

const (
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// ParseTimeframe validates and returns a Timeframe from its string form
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d:
		return Timeframe(s), nil
	}
	return "", fmt.Errorf("unsupported timeframe: %q", s)
}

// Duration returns the length of one candle at this timeframe
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	}
	return 0
}

// Candle represents one OHLCV bar. Immutable once produced.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// IsValid checks if the candle has a coherent price range
func (c Candle) IsValid() bool {
	return c.High >= c.Low && c.Open > 0 && c.Close > 0
}

// IndicatorSet maps indicator name to its value as of a candle index.
// A nil value means the indicator's warm-up window is not yet satisfied.
type IndicatorSet map[string]*float64

// ReadyRatio returns the fraction of indicators with non-nil values.
// An empty set counts as fully ready.
func (s IndicatorSet) ReadyRatio() float64 {
	if len(s) == 0 {
		return 1
	}
	ready := 0
	for _, v := range s {
		if v != nil {
			ready++
		}
	}
	return float64(ready) / float64(len(s))
}

// Direction represents the side of a position
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// DecisionAction represents the action requested by a decision maker
type DecisionAction string

const (
	ActionLong  DecisionAction = "LONG"
	ActionShort DecisionAction = "SHORT"
	ActionClose DecisionAction = "CLOSE"
	ActionHold  DecisionAction = "HOLD"
)

// IsValid reports whether the action is one of the known values
func (a DecisionAction) IsValid() bool {
	switch a {
	case ActionLong, ActionShort, ActionClose, ActionHold:
		return true
	}
	return false
}

// Decision is the outcome of one decision-maker invocation
type Decision struct {
	// Action is the requested trading action.
	Action DecisionAction `json:"action"`
	// Reasoning is free-form text explaining the action.
	Reasoning string `json:"reasoning"`
	// SizeFraction is the requested position size as a fraction of equity (0-1].
	SizeFraction float64 `json:"size_fraction"`
	// Leverage is the requested leverage (>=1).
	Leverage int `json:"leverage"`
	// StopLoss is the optional stop-loss price.
	StopLoss *float64 `json:"stop_loss,omitempty"`
	// TakeProfit is the optional take-profit price.
	TakeProfit *float64 `json:"take_profit,omitempty"`
	// EntryPrice is an optional explicit limit entry price. When set the
	// entry is treated as a pending order rather than a market fill.
	EntryPrice *float64 `json:"entry_price,omitempty"`
	// Metadata carries decision-maker context such as a deliberation trace.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Hold returns a HOLD decision with the given reasoning
func Hold(reasoning string) Decision {
	return Decision{Action: ActionHold, Reasoning: reasoning}
}

// ExitReason describes why a position was closed
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitDecision   ExitReason = "decision_close"
	ExitManualStop ExitReason = "manual_stop"
)

// EquityPoint is one sample of total account equity over time
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

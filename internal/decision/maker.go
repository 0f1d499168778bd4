// Package decision wraps an opaque decision maker behind the timeout,
// fallback and pacing contract the session loop depends on.
package decision

import (
	"context"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/position"
)

// Snapshot is one candle with its indicator values, supplied as context for
// a decision.
type Snapshot struct {
	Candle     core.Candle       `json:"candle"`
	Indicators core.IndicatorSet `json:"indicators"`
}

// Request carries everything a decision maker may consider.
type Request struct {
	Symbol     string             `json:"symbol"`
	Index      int                `json:"index"`
	Candle     core.Candle        `json:"candle"`
	Indicators core.IndicatorSet  `json:"indicators"`
	Position   *position.Position `json:"position,omitempty"`
	Equity     float64            `json:"equity"`
	// History is a bounded window of recent candles and indicators.
	History []Snapshot `json:"history,omitempty"`
	// Context carries free-form session metadata for the maker.
	Context map[string]any `json:"context,omitempty"`
}

// Maker produces trading decisions. Implementations are opaque to the
// engine: a local rule, a single LLM, or a multi-model council all satisfy
// the same contract.
type Maker interface {
	Name() string
	Decide(ctx context.Context, req Request) (*core.Decision, error)
}

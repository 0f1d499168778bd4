// Package position implements the single-position trade model with
// risk-limit validation, stop/target triggers and equity tracking.
package position

import (
	"errors"
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

// Position model errors.
var (
	// ErrPositionOpen indicates a position is already open.
	ErrPositionOpen = errors.New("position: already open")
	// ErrNoPosition indicates no position is open.
	ErrNoPosition = errors.New("position: no open position")
	// ErrInvalidSize indicates a size fraction outside (0, 1].
	ErrInvalidSize = errors.New("position: size fraction must be in (0, 1]")
	// ErrSizeLimit indicates the size fraction exceeds the configured cap.
	ErrSizeLimit = errors.New("position: size exceeds configured maximum")
	// ErrLeverageLimit indicates the leverage exceeds the configured maximum.
	ErrLeverageLimit = errors.New("position: leverage exceeds configured maximum")
	// ErrInsufficientMargin indicates not enough equity to fund the margin.
	ErrInsufficientMargin = errors.New("position: insufficient margin")
	// ErrInvalidStopLoss indicates a stop-loss on the wrong side of entry.
	ErrInvalidStopLoss = errors.New("position: stop-loss on wrong side of entry price")
	// ErrInvalidTakeProfit indicates a take-profit on the wrong side of entry.
	ErrInvalidTakeProfit = errors.New("position: take-profit on wrong side of entry price")
	// ErrInvalidPrice indicates a non-positive entry price.
	ErrInvalidPrice = errors.New("position: invalid price")
)

// Limits holds configuration-driven risk caps validated on every open.
type Limits struct {
	// MaxSizeFraction caps position size as a fraction of equity (0-1].
	MaxSizeFraction float64
	// MaxLeverage caps requested leverage.
	MaxLeverage int
}

// DefaultLimits returns conservative risk caps.
func DefaultLimits() Limits {
	return Limits{
		MaxSizeFraction: 1.0,
		MaxLeverage:     10,
	}
}

// Position represents the single open position of a session.
// Size is in asset units bought with the deposited margin; leverage is
// applied when computing P&L.
type Position struct {
	Direction     core.Direction `json:"direction"`
	EntryPrice    float64        `json:"entry_price"`
	Size          float64        `json:"size"`
	Leverage      int            `json:"leverage"`
	StopLoss      *float64       `json:"stop_loss,omitempty"`
	TakeProfit    *float64       `json:"take_profit,omitempty"`
	EntryTime     time.Time      `json:"entry_time"`
	EntryIndex    int            `json:"entry_index"`
	Margin        float64        `json:"margin"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
}

// PnLAt returns the profit or loss if the position were closed at price.
func (p *Position) PnLAt(price float64) float64 {
	return (price - p.EntryPrice) * p.Size * p.Direction.Sign() * float64(p.Leverage)
}

// Trade is a closed position. Append-only once created.
type Trade struct {
	Direction  core.Direction  `json:"direction"`
	EntryPrice float64         `json:"entry_price"`
	ExitPrice  float64         `json:"exit_price"`
	Size       float64         `json:"size"`
	Leverage   int             `json:"leverage"`
	StopLoss   *float64        `json:"stop_loss,omitempty"`
	TakeProfit *float64        `json:"take_profit,omitempty"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	EntryIndex int             `json:"entry_index"`
	ExitIndex  int             `json:"exit_index"`
	Reason     core.ExitReason `json:"reason"`
	PnL        float64         `json:"pnl"`
	PnLPct     float64         `json:"pnl_pct"`
}

// IsWin returns true if the trade was profitable.
func (t Trade) IsWin() bool {
	return t.PnL > 0
}

// HoldingTime returns the duration between entry and exit.
func (t Trade) HoldingTime() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

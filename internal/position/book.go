package position

import (
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

// Book owns the single open position of a session, its closed trade history
// and the equity curve. It is mutated exclusively by the owning session loop
// and therefore carries no locking of its own.
type Book struct {
	limits Limits

	startingCapital float64
	cash            float64 // realized equity
	open            *Position

	trades      []Trade
	equityCurve []core.EquityPoint
	peakEquity  float64
	maxDrawdown float64 // most negative drawdown percentage seen
}

// NewBook creates a Book with the given starting capital and risk limits.
func NewBook(startingCapital float64, limits Limits) *Book {
	if limits.MaxSizeFraction <= 0 || limits.MaxSizeFraction > 1 {
		limits.MaxSizeFraction = 1
	}
	if limits.MaxLeverage < 1 {
		limits.MaxLeverage = 1
	}
	return &Book{
		limits:          limits,
		startingCapital: startingCapital,
		cash:            startingCapital,
		peakEquity:      startingCapital,
	}
}

// Open opens a position. It rejects the request without mutating state when
// a position is already open, the size fraction or leverage violates the
// configured limits, or a stop/target sits on the wrong side of entry.
func (b *Book) Open(direction core.Direction, price, sizeFraction float64, leverage int, stopLoss, takeProfit *float64, at time.Time, index int) (*Position, error) {
	if b.open != nil {
		return nil, ErrPositionOpen
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	if sizeFraction <= 0 || sizeFraction > 1 {
		return nil, ErrInvalidSize
	}
	if sizeFraction > b.limits.MaxSizeFraction {
		return nil, ErrSizeLimit
	}
	if leverage < 1 || leverage > b.limits.MaxLeverage {
		return nil, ErrLeverageLimit
	}

	margin := b.cash * sizeFraction
	if margin <= 0 {
		return nil, ErrInsufficientMargin
	}

	if stopLoss != nil {
		if (direction == core.DirectionLong && *stopLoss >= price) ||
			(direction == core.DirectionShort && *stopLoss <= price) {
			return nil, ErrInvalidStopLoss
		}
	}
	if takeProfit != nil {
		if (direction == core.DirectionLong && *takeProfit <= price) ||
			(direction == core.DirectionShort && *takeProfit >= price) {
			return nil, ErrInvalidTakeProfit
		}
	}

	b.open = &Position{
		Direction:  direction,
		EntryPrice: price,
		Size:       margin / price,
		Leverage:   leverage,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		EntryTime:  at,
		EntryIndex: index,
		Margin:     margin,
	}
	return b.snapshot(), nil
}

// CheckExitTriggers evaluates whether the candle's range crosses the open
// position's stop-loss or take-profit. When both could trigger within the
// same bar, stop-loss wins: a single OHLC bar cannot disambiguate intrabar
// order, so the worse outcome for the trader is assumed. The returned price
// is the trigger level, not the candle extreme.
func (b *Book) CheckExitTriggers(candle core.Candle) (core.ExitReason, float64, bool) {
	if b.open == nil {
		return "", 0, false
	}

	p := b.open
	if p.Direction == core.DirectionLong {
		if p.StopLoss != nil && candle.Low <= *p.StopLoss {
			return core.ExitStopLoss, *p.StopLoss, true
		}
		if p.TakeProfit != nil && candle.High >= *p.TakeProfit {
			return core.ExitTakeProfit, *p.TakeProfit, true
		}
	} else {
		if p.StopLoss != nil && candle.High >= *p.StopLoss {
			return core.ExitStopLoss, *p.StopLoss, true
		}
		if p.TakeProfit != nil && candle.Low <= *p.TakeProfit {
			return core.ExitTakeProfit, *p.TakeProfit, true
		}
	}
	return "", 0, false
}

// Close realizes the open position at the given price. Realized P&L is
// (exit - entry) * size * direction * leverage.
func (b *Book) Close(price float64, at time.Time, index int, reason core.ExitReason) (Trade, error) {
	if b.open == nil {
		return Trade{}, ErrNoPosition
	}

	p := b.open
	pnl := p.PnLAt(price)

	trade := Trade{
		Direction:  p.Direction,
		EntryPrice: p.EntryPrice,
		ExitPrice:  price,
		Size:       p.Size,
		Leverage:   p.Leverage,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		EntryTime:  p.EntryTime,
		ExitTime:   at,
		EntryIndex: p.EntryIndex,
		ExitIndex:  index,
		Reason:     reason,
		PnL:        pnl,
	}
	if p.Margin > 0 {
		trade.PnLPct = pnl / p.Margin * 100
	}

	b.cash += pnl
	b.trades = append(b.trades, trade)
	b.open = nil
	return trade, nil
}

// MarkToMarket revalues the open position against the candle close and
// returns total equity. Always succeeds; with no open position it simply
// returns realized equity.
func (b *Book) MarkToMarket(candle core.Candle) float64 {
	if b.open != nil {
		b.open.UnrealizedPnL = b.open.PnLAt(candle.Close)
	}
	return b.TotalEquity()
}

// RecordEquity appends an equity-curve point and updates the running peak
// and max drawdown. Called once per processed candle regardless of whether
// a position is open.
func (b *Book) RecordEquity(at time.Time) float64 {
	equity := b.TotalEquity()
	b.equityCurve = append(b.equityCurve, core.EquityPoint{Time: at, Equity: equity})

	if equity > b.peakEquity {
		b.peakEquity = equity
	}
	if b.peakEquity > 0 {
		dd := (equity - b.peakEquity) / b.peakEquity * 100
		if dd < b.maxDrawdown {
			b.maxDrawdown = dd
		}
	}
	return equity
}

// TotalEquity returns realized equity plus unrealized P&L.
func (b *Book) TotalEquity() float64 {
	if b.open != nil {
		return b.cash + b.open.UnrealizedPnL
	}
	return b.cash
}

// OpenPosition returns a copy of the open position, or nil.
func (b *Book) OpenPosition() *Position {
	return b.snapshot()
}

func (b *Book) snapshot() *Position {
	if b.open == nil {
		return nil
	}
	p := *b.open
	return &p
}

// ClosedTrades returns a copy of the closed trade history.
func (b *Book) ClosedTrades() []Trade {
	trades := make([]Trade, len(b.trades))
	copy(trades, b.trades)
	return trades
}

// WinRate returns the percentage of profitable closed trades.
func (b *Book) WinRate() float64 {
	if len(b.trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range b.trades {
		if t.IsWin() {
			wins++
		}
	}
	return float64(wins) / float64(len(b.trades)) * 100
}

// EquityCurve returns a copy of the recorded equity curve.
func (b *Book) EquityCurve() []core.EquityPoint {
	curve := make([]core.EquityPoint, len(b.equityCurve))
	copy(curve, b.equityCurve)
	return curve
}

// StartingCapital returns the initial capital.
func (b *Book) StartingCapital() float64 {
	return b.startingCapital
}

// RealizedPnL returns cumulative realized P&L across closed trades.
func (b *Book) RealizedPnL() float64 {
	return b.cash - b.startingCapital
}

// PeakEquity returns the running maximum equity.
func (b *Book) PeakEquity() float64 {
	return b.peakEquity
}

// MaxDrawdown returns the most negative drawdown percentage seen.
func (b *Book) MaxDrawdown() float64 {
	return b.maxDrawdown
}

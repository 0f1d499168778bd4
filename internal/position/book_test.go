package position

import (
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

func f(v float64) *float64 { return &v }

func newTestBook() *Book {
	return NewBook(10000, Limits{MaxSizeFraction: 1.0, MaxLeverage: 10})
}

func TestBook_OpenAndClose(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	pos, err := b.Open(core.DirectionLong, 100, 0.5, 2, nil, nil, now, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Margin = 10000 * 0.5 = 5000, size = 5000/100 = 50 units
	if pos.Margin != 5000 {
		t.Errorf("Margin = %v, want 5000", pos.Margin)
	}
	if pos.Size != 50 {
		t.Errorf("Size = %v, want 50", pos.Size)
	}

	// Close at 110: pnl = (110-100) * 50 * 1 * 2 = 1000
	trade, err := b.Close(110, now.Add(time.Hour), 5, core.ExitDecision)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if trade.PnL != 1000 {
		t.Errorf("PnL = %v, want 1000", trade.PnL)
	}
	if trade.PnLPct != 20 {
		t.Errorf("PnLPct = %v, want 20", trade.PnLPct)
	}
	if b.TotalEquity() != 11000 {
		t.Errorf("TotalEquity = %v, want 11000", b.TotalEquity())
	}
}

func TestBook_NoConcurrentPositions(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	if _, err := b.Open(core.DirectionLong, 100, 0.5, 1, nil, nil, now, 0); err != nil {
		t.Fatalf("first Open() error = %v", err)
	}

	before := *b.OpenPosition()
	_, err := b.Open(core.DirectionShort, 100, 0.5, 1, nil, nil, now, 1)
	if !errors.Is(err, ErrPositionOpen) {
		t.Errorf("expected ErrPositionOpen, got %v", err)
	}

	// Rejected open must not mutate state
	after := *b.OpenPosition()
	if before != after {
		t.Error("rejected open mutated the existing position")
	}
}

func TestBook_OpenValidation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		direction core.Direction
		price     float64
		fraction  float64
		leverage  int
		stopLoss  *float64
		target    *float64
		wantErr   error
	}{
		{"zero fraction", core.DirectionLong, 100, 0, 1, nil, nil, ErrInvalidSize},
		{"fraction over one", core.DirectionLong, 100, 1.5, 1, nil, nil, ErrInvalidSize},
		{"leverage too high", core.DirectionLong, 100, 0.5, 20, nil, nil, ErrLeverageLimit},
		{"zero leverage", core.DirectionLong, 100, 0.5, 0, nil, nil, ErrLeverageLimit},
		{"bad price", core.DirectionLong, 0, 0.5, 1, nil, nil, ErrInvalidPrice},
		{"long stop above entry", core.DirectionLong, 100, 0.5, 1, f(105), nil, ErrInvalidStopLoss},
		{"long target below entry", core.DirectionLong, 100, 0.5, 1, nil, f(95), ErrInvalidTakeProfit},
		{"short stop below entry", core.DirectionShort, 100, 0.5, 1, f(95), nil, ErrInvalidStopLoss},
		{"short target above entry", core.DirectionShort, 100, 0.5, 1, nil, f(105), ErrInvalidTakeProfit},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBook()
			_, err := b.Open(tc.direction, tc.price, tc.fraction, tc.leverage, tc.stopLoss, tc.target, now, 0)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tc.wantErr)
			}
			if b.OpenPosition() != nil {
				t.Error("rejected open left a position behind")
			}
		})
	}
}

func TestBook_SizeLimit(t *testing.T) {
	b := NewBook(10000, Limits{MaxSizeFraction: 0.25, MaxLeverage: 5})
	_, err := b.Open(core.DirectionLong, 100, 0.5, 1, nil, nil, time.Now(), 0)
	if !errors.Is(err, ErrSizeLimit) {
		t.Errorf("expected ErrSizeLimit, got %v", err)
	}
}

func TestBook_StopLossExitAtStopPrice(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	// LONG at 100, full equity, leverage 1, stop-loss 95
	pos, err := b.Open(core.DirectionLong, 100, 1.0, 1, f(95), nil, now, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Next candle's low touches 94: stop triggers at 95, not at the low
	candle := core.Candle{Time: now.Add(time.Hour), Open: 97, High: 98, Low: 94, Close: 96}
	reason, price, triggered := b.CheckExitTriggers(candle)
	if !triggered {
		t.Fatal("expected stop-loss trigger")
	}
	if reason != core.ExitStopLoss {
		t.Errorf("reason = %v, want stop_loss", reason)
	}
	if price != 95 {
		t.Errorf("trigger price = %v, want 95", price)
	}

	trade, err := b.Close(price, candle.Time, 1, reason)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// P&L = (95-100) * size * 1 * 1 = -5*size, not -6*size
	want := -5 * pos.Size
	if trade.PnL != want {
		t.Errorf("PnL = %v, want %v", trade.PnL, want)
	}
}

func TestBook_StopLossBeatsTakeProfitIntrabar(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	if _, err := b.Open(core.DirectionLong, 100, 0.5, 1, f(95), f(105), now, 0); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Wide bar crossing both levels: stop-loss wins
	candle := core.Candle{Time: now.Add(time.Hour), Open: 100, High: 110, Low: 90, Close: 100}
	reason, price, triggered := b.CheckExitTriggers(candle)
	if !triggered || reason != core.ExitStopLoss {
		t.Errorf("reason = %v triggered=%v, want stop_loss", reason, triggered)
	}
	if price != 95 {
		t.Errorf("price = %v, want 95", price)
	}
}

func TestBook_ShortTriggers(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	if _, err := b.Open(core.DirectionShort, 100, 0.5, 1, f(105), f(90), now, 0); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// High crosses the short stop
	reason, price, triggered := b.CheckExitTriggers(core.Candle{High: 106, Low: 99})
	if !triggered || reason != core.ExitStopLoss || price != 105 {
		t.Errorf("got %v %v %v, want stop at 105", reason, price, triggered)
	}

	b2 := newTestBook()
	if _, err := b2.Open(core.DirectionShort, 100, 0.5, 1, f(105), f(90), now, 0); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	reason, price, triggered = b2.CheckExitTriggers(core.Candle{High: 101, Low: 89})
	if !triggered || reason != core.ExitTakeProfit || price != 90 {
		t.Errorf("got %v %v %v, want take profit at 90", reason, price, triggered)
	}
}

func TestBook_CloseWithoutPosition(t *testing.T) {
	b := newTestBook()
	_, err := b.Close(100, time.Now(), 0, core.ExitDecision)
	if !errors.Is(err, ErrNoPosition) {
		t.Errorf("expected ErrNoPosition, got %v", err)
	}
}

func TestBook_MarkToMarketAndDrawdown(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	if _, err := b.Open(core.DirectionLong, 100, 1.0, 1, nil, nil, now, 0); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Price rises to 110: equity 11000, new peak
	b.MarkToMarket(core.Candle{Close: 110})
	b.RecordEquity(now.Add(time.Hour))
	if b.PeakEquity() != 11000 {
		t.Errorf("PeakEquity = %v, want 11000", b.PeakEquity())
	}

	// Price falls to 99: equity 9900, drawdown = (9900-11000)/11000*100 = -10
	b.MarkToMarket(core.Candle{Close: 99})
	b.RecordEquity(now.Add(2 * time.Hour))
	if got := b.MaxDrawdown(); got != -10 {
		t.Errorf("MaxDrawdown = %v, want -10", got)
	}
	if b.MaxDrawdown() > 0 {
		t.Error("max drawdown must never be positive")
	}
}

func TestBook_WinRate(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	// Winning trade: +1000
	b.Open(core.DirectionLong, 100, 0.5, 2, nil, nil, now, 0)
	b.Close(110, now, 1, core.ExitDecision)

	// Losing trade: -400
	b.Open(core.DirectionLong, 100, 0.5, 1, nil, nil, now, 2)
	if _, err := b.Close(100-400/(b.TotalEquity()*0.5/100), now, 3, core.ExitStopLoss); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if b.WinRate() != 50 {
		t.Errorf("WinRate = %v, want 50", b.WinRate())
	}
	if len(b.ClosedTrades()) != 2 {
		t.Errorf("trades = %d, want 2", len(b.ClosedTrades()))
	}
}

func TestBook_ShortPnL(t *testing.T) {
	b := newTestBook()
	now := time.Now()

	// SHORT at 100, margin 5000, size 50, leverage 2
	b.Open(core.DirectionShort, 100, 0.5, 2, nil, nil, now, 0)

	// Price falls to 90: pnl = (90-100) * 50 * -1 * 2 = +1000
	trade, err := b.Close(90, now, 1, core.ExitDecision)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if trade.PnL != 1000 {
		t.Errorf("short PnL = %v, want 1000", trade.PnL)
	}
}

package result

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/position"
)

func curveOf(values ...float64) []core.EquityPoint {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := make([]core.EquityPoint, len(values))
	for i, v := range values {
		curve[i] = core.EquityPoint{Time: base.Add(time.Duration(i) * time.Hour), Equity: v}
	}
	return curve
}

func TestBuildScenario(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []position.Trade{
		{PnL: 1000, PnLPct: 10, EntryTime: base, ExitTime: base.Add(2 * time.Hour)},
		{PnL: -400, PnLPct: -4, EntryTime: base.Add(3 * time.Hour), ExitTime: base.Add(4 * time.Hour)},
	}
	curve := curveOf(10000, 11000, 10600)

	meta := Meta{
		SessionID:       "s-1",
		Symbol:          "BTCUSDT",
		Timeframe:       core.Timeframe1h,
		StartingCapital: 10000,
		StartedAt:       base,
		CompletedAt:     base.Add(90 * time.Second),
	}
	r := Build(meta, trades, curve)

	assert.Equal(t, 10600.0, r.FinalCapital)
	assert.Equal(t, 600.0, r.TotalPnL)
	assert.InDelta(t, 6.0, r.TotalPnLPct, 1e-9)
	assert.Equal(t, 2, r.TotalTrades)
	assert.Equal(t, 1, r.WinningTrades)
	assert.Equal(t, 50.0, r.WinRate)

	require.NotNil(t, r.ProfitFactor)
	assert.InDelta(t, 2.5, *r.ProfitFactor, 1e-9)

	require.NotNil(t, r.AvgHoldingTime)
	assert.Equal(t, 90*time.Minute, *r.AvgHoldingTime)

	require.NotNil(t, r.BestTradePct)
	assert.Equal(t, 10.0, *r.BestTradePct)
	require.NotNil(t, r.WorstTradePct)
	assert.Equal(t, -4.0, *r.WorstTradePct)

	assert.Equal(t, "1.5 minutes", r.Duration)
}

func TestBuildReproducible(t *testing.T) {
	trades := []position.Trade{{PnL: 500, PnLPct: 5}, {PnL: -250, PnLPct: -2.5}}
	curve := curveOf(10000, 10500, 10250, 10400)
	meta := Meta{StartingCapital: 10000}

	a := Build(meta, trades, curve)
	b := Build(meta, trades, curve)

	assert.Equal(t, a.MaxDrawdown, b.MaxDrawdown)
	require.NotNil(t, a.SharpeRatio)
	require.NotNil(t, b.SharpeRatio)
	assert.Equal(t, *a.SharpeRatio, *b.SharpeRatio)
	assert.Equal(t, *a.ProfitFactor, *b.ProfitFactor)
	assert.Equal(t, a.EquityCurve, b.EquityCurve)
}

func TestSharpeUndefined(t *testing.T) {
	assert.Nil(t, Sharpe(nil))
	assert.Nil(t, Sharpe(curveOf(10000)))
	// zero variance
	assert.Nil(t, Sharpe(curveOf(10000, 10000, 10000)))
}

func TestSharpeValue(t *testing.T) {
	// returns: +10%, -10% -> mean 0? no: 11000->9900 is -10%: mean 0, stddev 0.1
	s := Sharpe(curveOf(10000, 11000, 9900))
	require.NotNil(t, s)
	assert.InDelta(t, 0.0, *s, 1e-9)

	s = Sharpe(curveOf(10000, 10100, 10303))
	require.NotNil(t, s)
	mean := (0.01 + 0.0201) / 2
	sd := math.Sqrt((math.Pow(0.01-mean, 2) + math.Pow(0.0201-mean, 2)) / 2)
	assert.InDelta(t, mean/sd*math.Sqrt(2), *s, 1e-9)
}

func TestDrawdown(t *testing.T) {
	maxDD, series := Drawdown(curveOf(10000, 11000, 9900, 10450))
	assert.InDelta(t, -10.0, maxDD, 1e-9)
	require.Len(t, series, 4)
	assert.Equal(t, 0.0, series[0])
	assert.Equal(t, 0.0, series[1])
	assert.InDelta(t, -10.0, series[2], 1e-9)
	assert.InDelta(t, -5.0, series[3], 1e-9)

	maxDD, series = Drawdown(nil)
	assert.Equal(t, 0.0, maxDD)
	assert.Nil(t, series)
}

func TestProfitFactorNilOnNoLosses(t *testing.T) {
	assert.Nil(t, ProfitFactor(nil))
	assert.Nil(t, ProfitFactor([]position.Trade{{PnL: 100}, {PnL: 50}}))
}

func TestTruncateCurveDeterministic(t *testing.T) {
	long := make([]core.EquityPoint, 1337)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range long {
		long[i] = core.EquityPoint{Time: base.Add(time.Duration(i) * time.Minute), Equity: float64(10000 + i)}
	}

	a := truncateCurve(long)
	b := truncateCurve(long)
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, len(a), maxCurvePoints)
	assert.Equal(t, long[0], a[0])
	assert.Equal(t, long[len(long)-1], a[len(a)-1])

	short := curveOf(1, 2, 3)
	assert.Len(t, truncateCurve(short), 3)
}

func TestDurationUnits(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r := Build(Meta{StartedAt: base, CompletedAt: base.Add(30 * time.Second)}, nil, nil)
	assert.Equal(t, "30 seconds", r.Duration)

	r = Build(Meta{StartedAt: base, CompletedAt: base.Add(3 * time.Hour)}, nil, nil)
	assert.Equal(t, "3.0 hours", r.Duration)

	// falls back to the backtest date range without wall-clock stamps
	r = Build(Meta{StartDate: base, EndDate: base.Add(45 * time.Minute)}, nil, nil)
	assert.Equal(t, "45.0 minutes", r.Duration)
}

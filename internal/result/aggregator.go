// Package result derives the immutable summary record of a completed
// session from its trade history and equity curve. All derivations are
// pure functions of their inputs.
package result

import (
	"fmt"
	"math"
	"time"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/position"
)

// maxCurvePoints bounds the stored equity curve. Longer curves are
// downsampled by a fixed stride.
const maxCurvePoints = 500

// Meta carries the session metadata the aggregator copies into the Result.
type Meta struct {
	SessionID       string
	Agent           string
	Symbol          string
	Timeframe       core.Timeframe
	StartDate       time.Time
	EndDate         time.Time
	StartingCapital float64
	StartedAt       time.Time
	CompletedAt     time.Time
	StoppedEarly    bool
	StopReason      string
	Summary         string
}

// Result is the terminal record of a session. Optional metrics are pointers:
// nil means the metric is undefined for the given inputs, never zero.
type Result struct {
	SessionID       string             `json:"session_id"`
	Agent           string             `json:"agent"`
	Symbol          string             `json:"symbol"`
	Timeframe       core.Timeframe     `json:"timeframe"`
	StartDate       time.Time          `json:"start_date"`
	EndDate         time.Time          `json:"end_date"`
	Duration        string             `json:"duration"`
	StartingCapital float64            `json:"starting_capital"`
	FinalCapital    float64            `json:"final_capital"`
	TotalPnL        float64            `json:"total_pnl"`
	TotalPnLPct     float64            `json:"total_pnl_pct"`
	TotalTrades     int                `json:"total_trades"`
	WinningTrades   int                `json:"winning_trades"`
	WinRate         float64            `json:"win_rate"`
	MaxDrawdown     float64            `json:"max_drawdown"`
	SharpeRatio     *float64           `json:"sharpe_ratio,omitempty"`
	ProfitFactor    *float64           `json:"profit_factor,omitempty"`
	AvgHoldingTime  *time.Duration     `json:"avg_holding_time,omitempty"`
	BestTradePct    *float64           `json:"best_trade_pct,omitempty"`
	WorstTradePct   *float64           `json:"worst_trade_pct,omitempty"`
	Trades          []position.Trade   `json:"trades"`
	EquityCurve     []core.EquityPoint `json:"equity_curve"`
	StoppedEarly    bool               `json:"stopped_early,omitempty"`
	StopReason      string             `json:"stop_reason,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	CompletedAt     time.Time          `json:"completed_at"`
}

// Build produces the Result for a completed session. Calling it twice with
// the same inputs yields identical values.
func Build(meta Meta, trades []position.Trade, curve []core.EquityPoint) *Result {
	final := meta.StartingCapital
	if len(curve) > 0 {
		final = curve[len(curve)-1].Equity
	}

	pnl := final - meta.StartingCapital
	pnlPct := 0.0
	if meta.StartingCapital > 0 {
		pnlPct = pnl / meta.StartingCapital * 100
	}

	wins := 0
	for _, t := range trades {
		if t.IsWin() {
			wins++
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades)) * 100
	}

	maxDD, _ := Drawdown(curve)

	r := &Result{
		SessionID:       meta.SessionID,
		Agent:           meta.Agent,
		Symbol:          meta.Symbol,
		Timeframe:       meta.Timeframe,
		StartDate:       meta.StartDate,
		EndDate:         meta.EndDate,
		Duration:        duration(meta),
		StartingCapital: meta.StartingCapital,
		FinalCapital:    final,
		TotalPnL:        pnl,
		TotalPnLPct:     pnlPct,
		TotalTrades:     len(trades),
		WinningTrades:   wins,
		WinRate:         winRate,
		MaxDrawdown:     maxDD,
		SharpeRatio:     Sharpe(curve),
		ProfitFactor:    ProfitFactor(trades),
		AvgHoldingTime:  avgHoldingTime(trades),
		BestTradePct:    bestTradePct(trades),
		WorstTradePct:   worstTradePct(trades),
		Trades:          append([]position.Trade(nil), trades...),
		EquityCurve:     truncateCurve(curve),
		StoppedEarly:    meta.StoppedEarly,
		StopReason:      meta.StopReason,
		Summary:         meta.Summary,
		CompletedAt:     meta.CompletedAt,
	}
	return r
}

// Sharpe computes the Sharpe ratio over period returns derived from the
// equity curve: mean(returns)/stddev(returns)*sqrt(n), with population
// standard deviation. Returns nil when fewer than two equity points exist
// or when the returns have zero variance.
func Sharpe(curve []core.EquityPoint) *float64 {
	if len(curve) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			return nil
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return nil
	}

	sharpe := mean / stddev * math.Sqrt(float64(len(returns)))
	return &sharpe
}

// Drawdown recomputes the drawdown series from the equity curve. It returns
// the most negative drawdown percentage and the per-point series relative
// to the running peak.
func Drawdown(curve []core.EquityPoint) (float64, []float64) {
	if len(curve) == 0 {
		return 0, nil
	}

	series := make([]float64, len(curve))
	peak := curve[0].Equity
	maxDD := 0.0
	for i, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (p.Equity - peak) / peak * 100
		}
		series[i] = dd
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD, series
}

// ProfitFactor returns gross profit divided by gross loss, or nil when
// gross loss is zero.
func ProfitFactor(trades []position.Trade) *float64 {
	grossProfit := 0.0
	grossLoss := 0.0
	for _, t := range trades {
		if t.PnL > 0 {
			grossProfit += t.PnL
		} else {
			grossLoss += -t.PnL
		}
	}
	if grossLoss == 0 {
		return nil
	}
	pf := grossProfit / grossLoss
	return &pf
}

func avgHoldingTime(trades []position.Trade) *time.Duration {
	var total time.Duration
	n := 0
	for _, t := range trades {
		if t.EntryTime.IsZero() || t.ExitTime.IsZero() {
			continue
		}
		total += t.HoldingTime()
		n++
	}
	if n == 0 {
		return nil
	}
	avg := total / time.Duration(n)
	return &avg
}

func bestTradePct(trades []position.Trade) *float64 {
	var best *float64
	for _, t := range trades {
		pct := t.PnLPct
		if best == nil || pct > *best {
			v := pct
			best = &v
		}
	}
	return best
}

func worstTradePct(trades []position.Trade) *float64 {
	var worst *float64
	for _, t := range trades {
		pct := t.PnLPct
		if worst == nil || pct < *worst {
			v := pct
			worst = &v
		}
	}
	return worst
}

// truncateCurve downsamples curves longer than maxCurvePoints by a fixed
// stride. The stride depends only on the curve length, so two identical
// curves always truncate identically.
func truncateCurve(curve []core.EquityPoint) []core.EquityPoint {
	if len(curve) <= maxCurvePoints {
		return append([]core.EquityPoint(nil), curve...)
	}

	stride := (len(curve) + maxCurvePoints - 1) / maxCurvePoints
	out := make([]core.EquityPoint, 0, maxCurvePoints)
	for i := 0; i < len(curve); i += stride {
		out = append(out, curve[i])
	}
	// keep the final point so the curve ends at the true final equity
	if out[len(out)-1] != curve[len(curve)-1] {
		out[len(out)-1] = curve[len(curve)-1]
	}
	return out
}

// duration formats the session runtime using the largest applicable unit.
// Wall-clock timestamps take precedence over the backtest date range.
func duration(meta Meta) string {
	var d time.Duration
	if !meta.StartedAt.IsZero() && !meta.CompletedAt.IsZero() {
		d = meta.CompletedAt.Sub(meta.StartedAt)
	} else {
		d = meta.EndDate.Sub(meta.StartDate)
	}
	if d < 0 {
		d = 0
	}

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1f minutes", d.Minutes())
	default:
		return fmt.Sprintf("%.1f hours", d.Hours())
	}
}

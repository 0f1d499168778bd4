package indicator

import (
	"math"

	"github.com/newthinker/tradesim/internal/core"
)

// Series computations. Each function returns a slice aligned to the candle
// sequence where a nil entry means the warm-up window is not yet satisfied.
// Since only fixed historical windows are used, a non-nil value at index i
// implies non-nil values at every index > i.

func closes(candles []core.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func ptr(v float64) *float64 { return &v }

// smaSeries computes a Simple Moving Average. Warm-up: period candles.
func smaSeries(prices []float64, period int) []*float64 {
	out := make([]*float64, len(prices))
	if len(prices) < period {
		return out
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	out[period-1] = ptr(sum / float64(period))

	for i := period; i < len(prices); i++ {
		sum = sum - prices[i-period] + prices[i]
		out[i] = ptr(sum / float64(period))
	}
	return out
}

// emaSeries computes an Exponential Moving Average seeded with the SMA of
// the first period values. Warm-up: period candles.
func emaSeries(prices []float64, period int) []*float64 {
	out := make([]*float64, len(prices))
	if len(prices) < period {
		return out
	}

	multiplier := 2.0 / float64(period+1)

	var sum float64
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	ema := sum / float64(period)
	out[period-1] = ptr(ema)

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
		out[i] = ptr(ema)
	}
	return out
}

// rsiSeries computes the Relative Strength Index with Wilder smoothing.
// Warm-up: period+1 candles (period price changes).
func rsiSeries(prices []float64, period int) []*float64 {
	out := make([]*float64, len(prices))
	if len(prices) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = ptr(rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = ptr(rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// macdSeries computes the MACD line, signal line and histogram.
// Line warm-up: slow candles. Signal/histogram warm-up: slow+signal-1.
func macdSeries(prices []float64, fast, slow, signal int) (line, sig, hist []*float64) {
	line = make([]*float64, len(prices))
	sig = make([]*float64, len(prices))
	hist = make([]*float64, len(prices))

	fastEMA := emaSeries(prices, fast)
	slowEMA := emaSeries(prices, slow)

	var lineValues []float64
	lineStart := -1
	for i := range prices {
		if fastEMA[i] == nil || slowEMA[i] == nil {
			continue
		}
		if lineStart < 0 {
			lineStart = i
		}
		v := *fastEMA[i] - *slowEMA[i]
		line[i] = ptr(v)
		lineValues = append(lineValues, v)
	}

	if lineStart < 0 {
		return line, sig, hist
	}

	sigValues := emaSeries(lineValues, signal)
	for j, v := range sigValues {
		if v == nil {
			continue
		}
		i := lineStart + j
		sig[i] = v
		hist[i] = ptr(*line[i] - *v)
	}
	return line, sig, hist
}

// atrSeries computes the Average True Range with Wilder smoothing.
// Warm-up: period+1 candles (true range needs a previous close).
func atrSeries(candles []core.Candle, period int) []*float64 {
	out := make([]*float64, len(candles))
	if len(candles) < period+1 {
		return out
	}

	tr := func(i int) float64 {
		hl := candles[i].High - candles[i].Low
		hc := math.Abs(candles[i].High - candles[i-1].Close)
		lc := math.Abs(candles[i].Low - candles[i-1].Close)
		return math.Max(hl, math.Max(hc, lc))
	}

	var atr float64
	for i := 1; i <= period; i++ {
		atr += tr(i)
	}
	atr /= float64(period)
	out[period] = ptr(atr)

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + tr(i)) / float64(period)
		out[i] = ptr(atr)
	}
	return out
}

// bollingerSeries computes Bollinger Bands using the population standard
// deviation over the lookback window. Warm-up: period candles.
func bollingerSeries(prices []float64, period int, width float64) (upper, middle, lower []*float64) {
	upper = make([]*float64, len(prices))
	middle = make([]*float64, len(prices))
	lower = make([]*float64, len(prices))

	mid := smaSeries(prices, period)
	for i := period - 1; i < len(prices); i++ {
		mean := *mid[i]
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := prices[j] - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))

		middle[i] = ptr(mean)
		upper[i] = ptr(mean + width*sd)
		lower[i] = ptr(mean - width*sd)
	}
	return upper, middle, lower
}

// obvSeries computes On-Balance Volume. Warm-up: 1 candle.
func obvSeries(candles []core.Candle) []*float64 {
	out := make([]*float64, len(candles))
	if len(candles) == 0 {
		return out
	}

	var obv float64
	out[0] = ptr(0)
	for i := 1; i < len(candles); i++ {
		switch {
		case candles[i].Close > candles[i-1].Close:
			obv += candles[i].Volume
		case candles[i].Close < candles[i-1].Close:
			obv -= candles[i].Volume
		}
		out[i] = ptr(obv)
	}
	return out
}

// vwapSeries computes the cumulative Volume-Weighted Average Price over the
// whole sequence. Warm-up: 1 candle. Falls back to the close price while
// cumulative volume is zero.
func vwapSeries(candles []core.Candle) []*float64 {
	out := make([]*float64, len(candles))

	var cumPV, cumVol float64
	for i, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		cumPV += typical * c.Volume
		cumVol += c.Volume
		if cumVol > 0 {
			out[i] = ptr(cumPV / cumVol)
		} else {
			out[i] = ptr(c.Close)
		}
	}
	return out
}

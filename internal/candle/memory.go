package candle

import (
	"context"
	"sort"
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

// MemorySource serves candles from an in-memory slice. Used for tests and
// for CLI runs against pre-loaded data.
type MemorySource struct {
	candles []core.Candle
}

// NewMemorySource creates a MemorySource. The candles are sorted by time.
func NewMemorySource(candles []core.Candle) *MemorySource {
	sorted := make([]core.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	return &MemorySource{candles: sorted}
}

func (m *MemorySource) Name() string {
	return "memory"
}

// Fetch returns candles within [start, end].
func (m *MemorySource) Fetch(ctx context.Context, symbol string, timeframe core.Timeframe, start, end time.Time) ([]core.Candle, error) {
	var result []core.Candle
	for _, c := range m.candles {
		if c.Time.Before(start) || c.Time.After(end) {
			continue
		}
		result = append(result, c)
	}
	if len(result) == 0 {
		return nil, core.ErrNoData
	}
	return result, nil
}

package candle

import (
	"context"
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

// Source defines the interface for candle providers.
//
// Implementations must return core.ErrNoData when the provider responded but
// has no candles for the requested range, and core.ErrFetchFailed for
// transient transport or provider failures. The two are handled differently
// at session start: the former is fatal, the latter may be retried.
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string, timeframe core.Timeframe, start, end time.Time) ([]core.Candle, error)
}

package candle

import (
	"context"
	"errors"
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

// FetchWithRetry fetches candles, retrying transient failures with linear
// backoff. A no-data response is returned immediately since retrying cannot
// produce candles that do not exist.
func FetchWithRetry(ctx context.Context, src Source, symbol string, timeframe core.Timeframe, start, end time.Time, attempts int, backoff time.Duration) ([]core.Candle, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		candles, err := src.Fetch(ctx, symbol, timeframe, start, end)
		if err == nil {
			return candles, nil
		}
		if errors.Is(err, core.ErrNoData) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return nil, core.WrapError(core.ErrFetchFailed, lastErr)
}

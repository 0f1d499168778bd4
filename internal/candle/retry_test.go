package candle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

// flakySource fails a configurable number of times before succeeding
type flakySource struct {
	failures int
	calls    int
	data     []core.Candle
	noData   bool
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Fetch(ctx context.Context, symbol string, tf core.Timeframe, start, end time.Time) ([]core.Candle, error) {
	f.calls++
	if f.noData {
		return nil, core.ErrNoData
	}
	if f.calls <= f.failures {
		return nil, core.WrapError(core.ErrFetchFailed, errors.New("connection reset"))
	}
	return f.data, nil
}

func TestFetchWithRetry_RecoversFromTransientFailure(t *testing.T) {
	src := &flakySource{
		failures: 2,
		data:     []core.Candle{{Time: time.Now(), Open: 1, High: 1, Low: 1, Close: 1}},
	}

	candles, err := FetchWithRetry(context.Background(), src, "BTCUSDT", core.Timeframe1h,
		time.Now().Add(-time.Hour), time.Now(), 3, time.Millisecond)
	if err != nil {
		t.Fatalf("FetchWithRetry() error = %v", err)
	}
	if len(candles) != 1 {
		t.Errorf("expected 1 candle, got %d", len(candles))
	}
	if src.calls != 3 {
		t.Errorf("expected 3 calls, got %d", src.calls)
	}
}

func TestFetchWithRetry_ExhaustsAttempts(t *testing.T) {
	src := &flakySource{failures: 10}

	_, err := FetchWithRetry(context.Background(), src, "BTCUSDT", core.Timeframe1h,
		time.Now().Add(-time.Hour), time.Now(), 2, time.Millisecond)
	if !errors.Is(err, core.ErrFetchFailed) {
		t.Errorf("expected ErrFetchFailed, got %v", err)
	}
	if src.calls != 2 {
		t.Errorf("expected 2 calls, got %d", src.calls)
	}
}

func TestFetchWithRetry_NoDataNotRetried(t *testing.T) {
	src := &flakySource{noData: true}

	_, err := FetchWithRetry(context.Background(), src, "BTCUSDT", core.Timeframe1h,
		time.Now().Add(-time.Hour), time.Now(), 5, time.Millisecond)
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
	if src.calls != 1 {
		t.Errorf("no-data should not be retried, got %d calls", src.calls)
	}
}

func TestMemorySource_Fetch(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := NewMemorySource([]core.Candle{
		{Time: base.Add(2 * time.Hour), Close: 3},
		{Time: base, Close: 1},
		{Time: base.Add(time.Hour), Close: 2},
	})

	candles, err := src.Fetch(context.Background(), "X", core.Timeframe1h, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if !candles[0].Time.Before(candles[1].Time) {
		t.Error("candles should be sorted by time")
	}

	_, err = src.Fetch(context.Background(), "X", core.Timeframe1h, base.AddDate(1, 0, 0), base.AddDate(1, 0, 1))
	if !errors.Is(err, core.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

// Package binance fetches historical klines from the Binance public API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

const baseURL = "https://api.binance.com"

// maxKlinesPerRequest is the Binance API limit per klines call.
const maxKlinesPerRequest = 1000

// Source implements the candle.Source interface against Binance.
type Source struct {
	client  *http.Client
	baseURL string
}

// New creates a new Binance candle source
func New() *Source {
	return &Source{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: baseURL,
	}
}

// NewWithBaseURL creates a Binance source with custom base URL (for testing)
func NewWithBaseURL(url string) *Source {
	s := New()
	s.baseURL = url
	return s
}

func (s *Source) Name() string {
	return "binance"
}

// Fetch retrieves candles for the range, paginating when the range spans
// more than one klines request.
func (s *Source) Fetch(ctx context.Context, symbol string, timeframe core.Timeframe, start, end time.Time) ([]core.Candle, error) {
	var all []core.Candle
	cursor := start

	for cursor.Before(end) {
		batch, err := s.fetchPage(ctx, symbol, timeframe, cursor, end)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)

		last := batch[len(batch)-1].Time
		next := last.Add(timeframe.Duration())
		if !next.After(cursor) {
			break
		}
		cursor = next

		if len(batch) < maxKlinesPerRequest {
			break
		}
	}

	if len(all) == 0 {
		return nil, core.ErrNoData
	}
	return all, nil
}

func (s *Source) fetchPage(ctx context.Context, symbol string, timeframe core.Timeframe, start, end time.Time) ([]core.Candle, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=%d",
		s.baseURL, symbol, timeframe, start.UnixMilli(), end.UnixMilli(), maxKlinesPerRequest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.WrapError(core.ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, core.WrapError(core.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, core.WrapError(core.ErrFetchFailed, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var klines [][]any
	if err := json.NewDecoder(resp.Body).Decode(&klines); err != nil {
		return nil, core.WrapError(core.ErrFetchFailed, err)
	}

	candles := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		if len(k) < 6 {
			continue
		}

		openTime, _ := k[0].(float64)
		openStr, _ := k[1].(string)
		highStr, _ := k[2].(string)
		lowStr, _ := k[3].(string)
		closeStr, _ := k[4].(string)
		volumeStr, _ := k[5].(string)

		open, _ := strconv.ParseFloat(openStr, 64)
		high, _ := strconv.ParseFloat(highStr, 64)
		low, _ := strconv.ParseFloat(lowStr, 64)
		closePrice, _ := strconv.ParseFloat(closeStr, 64)
		volume, _ := strconv.ParseFloat(volumeStr, 64)

		candles = append(candles, core.Candle{
			Time:   time.UnixMilli(int64(openTime)),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	return candles, nil
}

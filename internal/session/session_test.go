package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradesim/internal/candle"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/event"
	"github.com/newthinker/tradesim/internal/indicator"
	store "github.com/newthinker/tradesim/internal/storage/session"
)

var testBase = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func flatCandles(n int, price float64) []core.Candle {
	candles := make([]core.Candle, n)
	for i := range candles {
		candles[i] = core.Candle{
			Time:   testBase.Add(time.Duration(i) * time.Hour),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: 100,
		}
	}
	return candles
}

func testParams(n int) Params {
	return Params{
		Symbol:          "BTCUSDT",
		Timeframe:       core.Timeframe1h,
		Start:           testBase,
		End:             testBase.Add(time.Duration(n) * time.Hour),
		StartingCapital: 10000,
		Indicators:      indicator.Config{},
		DecisionTimeout: time.Second,
	}
}

// holdMaker always holds.
type holdMaker struct{}

func (holdMaker) Name() string { return "hold" }

func (holdMaker) Decide(context.Context, decision.Request) (*core.Decision, error) {
	d := core.Hold("nothing to do")
	return &d, nil
}

// stuckMaker never returns until its context is cancelled.
type stuckMaker struct{}

func (stuckMaker) Name() string { return "stuck" }

func (stuckMaker) Decide(ctx context.Context, _ decision.Request) (*core.Decision, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// scriptMaker replays per-index decisions, holding for unlisted indices. It
// can also pause its own session at a given index, simulating a control
// operation landing mid-run.
type scriptMaker struct {
	decisions map[int]core.Decision
	pauseAt   int
	sess      *Session
	paused    chan struct{}
}

func (m *scriptMaker) Name() string { return "script" }

func (m *scriptMaker) Decide(_ context.Context, req decision.Request) (*core.Decision, error) {
	if m.paused != nil && req.Index == m.pauseAt {
		m.sess.Pause()
		close(m.paused)
		m.paused = nil
	}
	if d, ok := m.decisions[req.Index]; ok {
		return &d, nil
	}
	d := core.Hold("scripted hold")
	return &d, nil
}

func newTestSession(t *testing.T, candles []core.Candle, params Params, maker decision.Maker, st store.Store) *Session {
	t.Helper()
	src := candle.NewMemorySource(candles)
	s, err := New(context.Background(), "test-session", params, src, maker, st, event.NopSink{}, nil)
	require.NoError(t, err)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func ptr(v float64) *float64 { return &v }

func TestSessionRunsToCompletion(t *testing.T) {
	st := store.NewMemoryStore()
	s := newTestSession(t, flatCandles(60, 100), testParams(60), holdMaker{}, st)

	s.Run(context.Background())

	assert.Equal(t, StateCompleted, s.State())
	status := s.Status()
	assert.Equal(t, 60, status.CurrentIndex)
	assert.Equal(t, 10000.0, status.Equity)

	res, err := st.GetResult(context.Background(), s.ID())
	require.NoError(t, err)
	assert.Len(t, res.EquityCurve, 60)
	assert.Equal(t, 0, res.TotalTrades)
	assert.False(t, res.StoppedEarly)
}

func TestDecisionTimeoutAdvancesLoop(t *testing.T) {
	st := store.NewMemoryStore()
	params := testParams(5)
	params.DecisionTimeout = 20 * time.Millisecond
	s := newTestSession(t, flatCandles(5, 100), params, stuckMaker{}, st)

	s.Run(context.Background())

	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 5, s.Status().CurrentIndex)

	decisions, err := st.ListDecisions(context.Background(), s.ID())
	require.NoError(t, err)
	require.Len(t, decisions, 5)
	for _, rec := range decisions {
		assert.Equal(t, core.ActionHold, rec.Action)
		assert.NotEmpty(t, rec.Err)
	}
}

func TestStopLossExitAtTriggerPrice(t *testing.T) {
	candles := flatCandles(10, 100)
	// candle 5 dips below the stop
	candles[5].Low = 94

	st := store.NewMemoryStore()
	maker := &scriptMaker{decisions: map[int]core.Decision{
		0: {Action: core.ActionLong, SizeFraction: 0.5, Leverage: 1, StopLoss: ptr(95.0)},
	}}
	s := newTestSession(t, candles, testParams(10), maker, st)

	s.Run(context.Background())

	assert.Equal(t, StateCompleted, s.State())

	trades, err := st.ListTrades(context.Background(), s.ID())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.ExitStopLoss, trades[0].Reason)
	assert.Equal(t, 95.0, trades[0].ExitPrice)
	// margin 5000 at price 100 is 50 units; stop 5 below entry loses 250
	assert.InDelta(t, -250.0, trades[0].PnL, 1e-9)

	res, err := st.GetResult(context.Background(), s.ID())
	require.NoError(t, err)
	assert.InDelta(t, 9750.0, res.FinalCapital, 1e-9)
}

func TestLimitEntryFillsAtLimitPrice(t *testing.T) {
	candles := flatCandles(10, 100)
	// candle 4 trades down through the limit
	candles[4].Low = 97

	st := store.NewMemoryStore()
	maker := &scriptMaker{decisions: map[int]core.Decision{
		0: {Action: core.ActionLong, SizeFraction: 0.5, Leverage: 1, EntryPrice: ptr(98.0)},
		7: {Action: core.ActionClose},
	}}
	s := newTestSession(t, candles, testParams(10), maker, st)

	s.Run(context.Background())

	trades, err := st.ListTrades(context.Background(), s.ID())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 98.0, trades[0].EntryPrice)
	assert.Equal(t, 4, trades[0].EntryIndex)
	assert.Equal(t, core.ExitDecision, trades[0].Reason)
	assert.Equal(t, 7, trades[0].ExitIndex)
	// filled at 98, closed at 100
	assert.InDelta(t, 100.0, trades[0].ExitPrice, 1e-9)
	assert.Greater(t, trades[0].PnL, 0.0)
}

func TestPauseResumeIdempotence(t *testing.T) {
	st := store.NewMemoryStore()
	maker := &scriptMaker{pauseAt: 39, paused: make(chan struct{})}
	s := newTestSession(t, flatCandles(100, 100), testParams(100), maker, st)
	maker.sess = s

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	<-maker.paused
	waitFor(t, func() bool { return s.Status().CurrentIndex == 40 })

	// pausing a paused session changes nothing
	require.NoError(t, s.Pause())
	assert.Equal(t, StatePaused, s.State())
	assert.Equal(t, 40, s.Status().CurrentIndex)
	before := s.Status().Equity

	require.NoError(t, s.Resume())
	// resuming a running session is a no-op
	require.NoError(t, s.Resume())

	<-done
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, before, s.Status().Equity)

	res, err := st.GetResult(context.Background(), s.ID())
	require.NoError(t, err)
	assert.Len(t, res.EquityCurve, 100)
}

func TestStopWhilePausedForceClosesPosition(t *testing.T) {
	st := store.NewMemoryStore()
	maker := &scriptMaker{
		decisions: map[int]core.Decision{
			0: {Action: core.ActionLong, SizeFraction: 0.5, Leverage: 1},
		},
		pauseAt: 39,
		paused:  make(chan struct{}),
	}
	candles := flatCandles(100, 100)
	s := newTestSession(t, candles, testParams(100), maker, st)
	maker.sess = s

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	<-maker.paused
	waitFor(t, func() bool { return s.Status().CurrentIndex == 40 })

	require.NoError(t, s.Stop("user requested stop", true))
	<-done

	assert.Equal(t, StateStopped, s.State())

	res, err := st.GetResult(context.Background(), s.ID())
	require.NoError(t, err)
	assert.True(t, res.StoppedEarly)
	// exactly the 40 processed candles' equity points
	assert.Len(t, res.EquityCurve, 40)

	trades, err := st.ListTrades(context.Background(), s.ID())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, core.ExitManualStop, trades[0].Reason)
	// force-closed at the last processed candle's price
	assert.Equal(t, candles[39].Close, trades[0].ExitPrice)
}

func TestStopOnCompletedSessionIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	s := newTestSession(t, flatCandles(10, 100), testParams(10), holdMaker{}, st)

	s.Run(context.Background())
	require.Equal(t, StateCompleted, s.State())

	assert.NoError(t, s.Stop("again", true))
	assert.Equal(t, StateCompleted, s.State())
}

// flipMaker opens a position when flat and closes it otherwise, churning
// the book on every decision.
type flipMaker struct{}

func (flipMaker) Name() string { return "flip" }

func (flipMaker) Decide(_ context.Context, req decision.Request) (*core.Decision, error) {
	d := core.Decision{Action: core.ActionClose, Reasoning: "flip close"}
	if req.Position == nil {
		d = core.Decision{Action: core.ActionLong, SizeFraction: 0.2, Leverage: 1, Reasoning: "flip open"}
	}
	return &d, nil
}

func TestStatusSafeWhileLoopMutatesBook(t *testing.T) {
	st := store.NewMemoryStore()
	s := newTestSession(t, flatCandles(300, 100), testParams(300), flipMaker{}, st)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	// Hammer Status from a control goroutine while the loop opens and
	// closes positions every candle.
	deadline := time.Now().Add(10 * time.Second)
	for {
		select {
		case <-done:
			require.Equal(t, StateCompleted, s.State())
			status := s.Status()
			assert.Equal(t, 300, status.CurrentIndex)
			assert.Nil(t, status.OpenPosition)
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("session did not finish in time")
		}

		status := s.Status()
		if status.CurrentIndex > 300 {
			t.Fatalf("current index %d out of range", status.CurrentIndex)
		}
		if pos := status.OpenPosition; pos != nil && pos.Direction != core.DirectionLong {
			t.Fatalf("unexpected position direction %s", pos.Direction)
		}
	}
}

func TestSafetyStopOnDrawdown(t *testing.T) {
	// price declines 1 per candle from 100
	candles := flatCandles(30, 100)
	for i := range candles {
		p := 100.0 - float64(i)
		candles[i].Open, candles[i].High, candles[i].Low, candles[i].Close = p, p, p, p
	}

	st := store.NewMemoryStore()
	maker := &scriptMaker{decisions: map[int]core.Decision{
		0: {Action: core.ActionLong, SizeFraction: 1.0, Leverage: 1},
	}}
	params := testParams(30)
	params.Safety.MaxDrawdownPct = 5

	s := newTestSession(t, candles, params, maker, st)
	s.Run(context.Background())

	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, "max drawdown exceeded", s.Status().StopReason)

	res, err := st.GetResult(context.Background(), s.ID())
	require.NoError(t, err)
	assert.True(t, res.StoppedEarly)
	assert.Less(t, res.FinalCapital, 10000.0)
	// the loop stopped well before the data ran out
	assert.Less(t, len(res.EquityCurve), 30)
}

func TestRiskRejectedEntryDegradesToHold(t *testing.T) {
	st := store.NewMemoryStore()
	maker := &scriptMaker{decisions: map[int]core.Decision{
		// leverage above the configured cap
		0: {Action: core.ActionLong, SizeFraction: 0.5, Leverage: 50},
	}}
	params := testParams(10)
	params.Limits.MaxSizeFraction = 1
	params.Limits.MaxLeverage = 10

	s := newTestSession(t, flatCandles(10, 100), params, maker, st)
	s.Run(context.Background())

	assert.Equal(t, StateCompleted, s.State())
	trades, err := st.ListTrades(context.Background(), s.ID())
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestNewRejectsBadParams(t *testing.T) {
	st := store.NewMemoryStore()
	src := candle.NewMemorySource(flatCandles(10, 100))

	params := testParams(10)
	params.End = params.Start.Add(-time.Hour)
	_, err := New(context.Background(), "x", params, src, holdMaker{}, st, event.NopSink{}, nil)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	params = testParams(10)
	params.StartingCapital = 0
	_, err = New(context.Background(), "x", params, src, holdMaker{}, st, event.NopSink{}, nil)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestNewRejectsInsufficientData(t *testing.T) {
	st := store.NewMemoryStore()
	src := candle.NewMemorySource(flatCandles(10, 100))

	params := testParams(10)
	params.Indicators = indicator.Config{
		Indicators: []indicator.Spec{{Kind: indicator.KindSMA, Period: 50}},
	}
	_, err := New(context.Background(), "x", params, src, holdMaker{}, st, event.NopSink{}, nil)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestNewRejectsNoData(t *testing.T) {
	st := store.NewMemoryStore()
	src := candle.NewMemorySource(nil)

	_, err := New(context.Background(), "x", testParams(10), src, holdMaker{}, st, event.NopSink{}, nil)
	assert.ErrorIs(t, err, core.ErrNoData)
}

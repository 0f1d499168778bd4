// Package session implements the backtest session state machine: the
// candle-by-candle processing loop, pause/resume/stop coordination, and the
// in-memory registry control operations act through.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/candle"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/event"
	"github.com/newthinker/tradesim/internal/indicator"
	"github.com/newthinker/tradesim/internal/metrics"
	"github.com/newthinker/tradesim/internal/position"
	"github.com/newthinker/tradesim/internal/result"
	store "github.com/newthinker/tradesim/internal/storage/session"
)

// ResultConsumer receives the immutable Result of a completed session, for
// archival or any downstream export. Failures are logged, never fatal.
type ResultConsumer interface {
	Consume(ctx context.Context, res *result.Result) error
}

// State is the lifecycle state of a session.
type State string

const (
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateCompleted    State = "completed"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

// Terminal reports whether the state is an end state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateStopped, StateFailed:
		return true
	}
	return false
}

// SafetyConfig holds the loss thresholds that force an early stop. All
// values are percentages; zero disables the corresponding check.
type SafetyConfig struct {
	// MaxLossPerTradePct stops the session when a single closed trade loses
	// more than this percentage of starting capital.
	MaxLossPerTradePct float64
	// MaxDailyLossPct stops the session when equity falls more than this
	// percentage below its value at the start of the current candle day.
	MaxDailyLossPct float64
	// MaxDrawdownPct stops the session when peak-relative drawdown exceeds
	// this percentage.
	MaxDrawdownPct float64
}

// Params fully describes one backtest session.
type Params struct {
	Symbol          string
	Timeframe       core.Timeframe
	Start           time.Time
	End             time.Time
	StartingCapital float64
	Agent           string

	Indicators indicator.Config
	Limits     position.Limits
	Safety     SafetyConfig

	// DecisionInterval requests a decision every N candles; 1 means every
	// candle. Exit triggers and mark-to-market run every candle regardless.
	DecisionInterval int
	DecisionTimeout  time.Duration
	DecisionMinDelay time.Duration
	// ReadinessThreshold is the fraction of enabled indicators that must be
	// non-null before decisions are requested.
	ReadinessThreshold float64
	// HistoryWindow is the number of recent candles supplied as decision
	// context.
	HistoryWindow int
	// CheckpointInterval is the number of candles between runtime
	// checkpoints to the session store.
	CheckpointInterval int

	// FetchRetries and FetchBackoff control transient candle-fetch retries
	// at session start.
	FetchRetries int
	FetchBackoff time.Duration
}

func (p *Params) applyDefaults() {
	if p.DecisionInterval < 1 {
		p.DecisionInterval = 1
	}
	if p.ReadinessThreshold <= 0 {
		p.ReadinessThreshold = 0.8
	}
	if p.HistoryWindow <= 0 {
		p.HistoryWindow = 20
	}
	if p.CheckpointInterval < 1 {
		p.CheckpointInterval = 10
	}
	if p.FetchRetries < 1 {
		p.FetchRetries = 1
	}
	if p.FetchBackoff <= 0 {
		p.FetchBackoff = time.Second
	}
}

func (p Params) validate() error {
	if p.Symbol == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("symbol required"))
	}
	if _, err := core.ParseTimeframe(string(p.Timeframe)); err != nil {
		return core.WrapError(core.ErrConfigInvalid, err)
	}
	if !p.End.After(p.Start) {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("end date must be after start date"))
	}
	if p.StartingCapital <= 0 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("starting capital must be positive, got %f", p.StartingCapital))
	}
	return nil
}

// pendingOrder is a limit entry waiting for price to touch its level.
type pendingOrder struct {
	direction    core.Direction
	price        float64
	sizeFraction float64
	leverage     int
	stopLoss     *float64
	takeProfit   *float64
	createdIndex int
}

// Session is the mutable runtime aggregate of one backtest run. The candle
// loop in Run owns the position book and pipeline exclusively; control
// operations only touch the lifecycle flags under the mutex.
type Session struct {
	id       string
	params   Params
	candles  []core.Candle
	pipeline *indicator.Pipeline
	book     *position.Book
	gateway  *decision.Gateway
	store    store.Store
	sink     event.Sink
	logger   *zap.Logger
	consumer ResultConsumer
	metrics  *metrics.Registry

	// readyIndex is the first candle index at which enough indicators are
	// non-null for decisions.
	readyIndex int

	mu            sync.Mutex
	cond          *sync.Cond
	state         State
	stopRequested bool
	closeOnStop   bool
	stopReason    string
	currentIndex  int
	lastEquity    float64
	// lastPosition is a copy of the open position published by the loop
	// after each candle; Status reads it so control goroutines never touch
	// the book while the loop mutates it.
	lastPosition *position.Position
	lastErr      error

	pending   *pendingOrder
	startedAt time.Time
}

// New creates a fully initialized session: candles fetched and validated,
// pipeline and position book constructed, readiness index computed. Any
// configuration or data error surfaces here; a session that leaves New is
// ready to Run.
func New(ctx context.Context, id string, params Params, src candle.Source, maker decision.Maker, st store.Store, sink event.Sink, logger *zap.Logger) (*Session, error) {
	params.applyDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = event.NopSink{}
	}

	candles, err := candle.FetchWithRetry(ctx, src, params.Symbol, params.Timeframe, params.Start, params.End, params.FetchRetries, params.FetchBackoff)
	if err != nil {
		return nil, err
	}

	pipeline, err := indicator.NewPipeline(candles, params.Indicators)
	if err != nil {
		return nil, err
	}
	if len(candles) <= pipeline.MaxWarmUp() {
		return nil, core.WrapError(core.ErrInsufficientData,
			fmt.Errorf("%d candles fetched, indicators need more than %d", len(candles), pipeline.MaxWarmUp()))
	}

	s := &Session{
		id:          id,
		params:      params,
		candles:     candles,
		pipeline:    pipeline,
		book:        position.NewBook(params.StartingCapital, params.Limits),
		gateway:     decision.NewGateway(maker, decision.GatewayConfig{Timeout: params.DecisionTimeout, MinInterval: params.DecisionMinDelay}, logger),
		store:       st,
		sink:        sink,
		logger:      logger.With(zap.String("session_id", id), zap.String("symbol", params.Symbol)),
		readyIndex:  readinessIndex(pipeline, len(candles), params.ReadinessThreshold),
		state:       StateInitializing,
		closeOnStop: true,
		lastEquity:  params.StartingCapital,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// readinessIndex returns the first index at which the ready ratio meets the
// threshold, or the candle count if it never does.
func readinessIndex(p *indicator.Pipeline, n int, threshold float64) int {
	for i := 0; i < n; i++ {
		if p.CalculateAll(i).ReadyRatio() >= threshold {
			return i
		}
	}
	return n
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// SetResultConsumer attaches an optional downstream result consumer. Must be
// called before Run.
func (s *Session) SetResultConsumer(c ResultConsumer) {
	s.consumer = c
}

// SetMetrics attaches optional engine metrics. Must be called before Run.
func (s *Session) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// Status is a point-in-time view of a session, safe to read while the loop
// is running.
type Status struct {
	ID           string             `json:"id"`
	Symbol       string             `json:"symbol"`
	State        State              `json:"state"`
	CurrentIndex int                `json:"current_index"`
	TotalCandles int                `json:"total_candles"`
	Equity       float64            `json:"equity"`
	OpenPosition *position.Position `json:"open_position,omitempty"`
	StopReason   string             `json:"stop_reason,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:           s.id,
		Symbol:       s.params.Symbol,
		State:        s.state,
		CurrentIndex: s.currentIndex,
		TotalCandles: len(s.candles),
		Equity:       s.lastEquity,
		StopReason:   s.stopReason,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.state == StateRunning || s.state == StatePaused {
		st.OpenPosition = s.lastPosition
	}
	return st
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pause suspends the loop after the current candle. Pausing an already
// paused session is a no-op; pausing a session that is not running is an
// invalid-state error.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StatePaused:
		return nil
	case StateRunning:
		s.state = StatePaused
	default:
		return core.WrapError(core.ErrInvalidState, fmt.Errorf("cannot pause session in state %s", s.state))
	}

	s.sink.Publish(s.id, event.Event{
		Type:      event.SessionPaused,
		SessionID: s.id,
		Time:      time.Now(),
		Payload:   map[string]any{"index": s.currentIndex},
	})
	return nil
}

// Resume continues a paused loop from the next unprocessed candle. Resuming
// a running session is a no-op.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return nil
	case StatePaused:
		s.state = StateRunning
		s.cond.Broadcast()
	default:
		return core.WrapError(core.ErrInvalidState, fmt.Errorf("cannot resume session in state %s", s.state))
	}

	s.sink.Publish(s.id, event.Event{
		Type:      event.SessionResumed,
		SessionID: s.id,
		Time:      time.Now(),
		Payload:   map[string]any{"index": s.currentIndex},
	})
	return nil
}

// Stop requests termination. The loop observes the flag at the top of its
// next iteration, closes any open position at the current mark price when
// closePosition is true, and finalizes a Result. Stopping a session that
// already reached a terminal state is a safe no-op.
func (s *Session) Stop(reason string, closePosition bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return nil
	}
	if s.stopRequested {
		return nil
	}

	s.stopRequested = true
	s.closeOnStop = closePosition
	if reason == "" {
		reason = "user requested stop"
	}
	s.stopReason = reason
	s.cond.Broadcast()
	return nil
}

// setFailed transitions to failed and emits the error event. Used for
// invariant violations only; no Result is produced on this path.
func (s *Session) setFailed(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()

	s.logger.Error("session failed", zap.Error(err))
	s.sink.Publish(s.id, event.Event{
		Type:      event.SessionError,
		SessionID: s.id,
		Time:      time.Now(),
		Payload:   map[string]any{"error": err.Error()},
	})
}

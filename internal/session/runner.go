package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/event"
	"github.com/newthinker/tradesim/internal/position"
	"github.com/newthinker/tradesim/internal/result"
	store "github.com/newthinker/tradesim/internal/storage/session"
)

const checkpointRetries = 3

// Run drives the session from its current index to completion. It is the
// only goroutine that mutates the position book and pipeline; it returns
// once the session reaches a terminal state.
func (s *Session) Run(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateInitializing {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	// Wake the pause wait when the serving context is cancelled.
	stopWatch := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stopWatch()

	if s.metrics != nil {
		s.metrics.SessionStarted()
		defer func() {
			if s.State() == StateFailed {
				s.metrics.SessionFinished(string(StateFailed))
			}
		}()
	}

	s.emit(event.SessionInitialized, map[string]any{
		"symbol":        s.params.Symbol,
		"timeframe":     string(s.params.Timeframe),
		"total_candles": len(s.candles),
		"ready_index":   s.readyIndex,
		"capital":       s.params.StartingCapital,
	})

	s.logger.Info("session started",
		zap.Int("candles", len(s.candles)),
		zap.Int("ready_index", s.readyIndex),
	)

	var (
		dayKey         string
		dayStartEquity = s.params.StartingCapital
	)

	stoppedEarly := false
	for i := s.currentIndexLocked(); i < len(s.candles); i++ {
		if s.waitIfPaused(ctx) {
			stoppedEarly = true
			break
		}

		c := s.candles[i]

		// daily loss accounting resets on calendar day boundaries
		if key := c.Time.Format("2006-01-02"); key != dayKey {
			dayKey = key
			dayStartEquity = s.book.TotalEquity()
		}

		s.book.MarkToMarket(c)

		if reason, price, ok := s.book.CheckExitTriggers(c); ok {
			if !s.closePosition(ctx, price, c.Time, i, reason) {
				return
			}
		}

		s.fillPendingOrder(c, i)

		if s.decisionDue(i) {
			s.decide(ctx, c, i)
		}

		equity := s.book.RecordEquity(c.Time)

		s.mu.Lock()
		s.currentIndex = i + 1
		s.lastEquity = equity
		s.lastPosition = s.book.OpenPosition()
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordCandle()
		}
		s.emit(event.CandleProcessed, map[string]any{
			"index":      i,
			"time":       c.Time,
			"close":      c.Close,
			"equity":     equity,
			"indicators": s.pipeline.CalculateAll(i),
		})

		if (i+1)%s.params.CheckpointInterval == 0 || i == len(s.candles)-1 {
			s.checkpoint(ctx, StateRunning)
			s.emit(event.StatsUpdate, map[string]any{
				"index":        i,
				"equity":       equity,
				"realized_pnl": s.book.RealizedPnL(),
				"win_rate":     s.book.WinRate(),
				"max_drawdown": s.book.MaxDrawdown(),
				"trades":       len(s.book.ClosedTrades()),
			})
		}

		if reason, breached := s.safetyBreached(equity, dayStartEquity); breached {
			s.logger.Warn("safety threshold breached, stopping", zap.String("reason", reason))
			s.Stop(reason, true)
		}
	}

	s.mu.Lock()
	if s.stopRequested || ctx.Err() != nil {
		stoppedEarly = true
		if s.stopReason == "" {
			s.stopReason = "shutdown"
			s.closeOnStop = false
		}
	}
	s.mu.Unlock()

	s.finalize(ctx, stoppedEarly)
}

func (s *Session) currentIndexLocked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentIndex
}

// waitIfPaused blocks while the session is paused and reports whether the
// loop should terminate instead of processing the next candle.
func (s *Session) waitIfPaused(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state == StatePaused && !s.stopRequested && ctx.Err() == nil {
		s.cond.Wait()
	}
	return s.stopRequested || ctx.Err() != nil
}

// decisionDue reports whether a new decision is requested at index i:
// enough indicators must be warmed up and i must fall on the decision
// cadence measured from the readiness index.
func (s *Session) decisionDue(i int) bool {
	if i < s.readyIndex {
		return false
	}
	return (i-s.readyIndex)%s.params.DecisionInterval == 0
}

// decide runs one gateway invocation and applies the decision to the book.
func (s *Session) decide(ctx context.Context, c core.Candle, i int) {
	s.emit(event.AIThinking, map[string]any{"index": i})

	req := s.buildRequest(c, i)
	outcome := s.gateway.Decide(ctx, req)

	if s.metrics != nil {
		label := "ok"
		if outcome.Err != nil {
			label = "fallback"
		}
		s.metrics.RecordDecision(label, outcome.Latency.Seconds())
	}

	// persist the trace record before announcing the decision
	rec := store.DecisionRecord{
		SessionID: s.id,
		Index:     i,
		Action:    outcome.Decision.Action,
		Reasoning: outcome.Decision.Reasoning,
		Latency:   outcome.Latency,
		Time:      time.Now(),
	}
	if outcome.Err != nil {
		rec.Err = outcome.Err.Error()
	}
	if err := s.store.AppendDecision(ctx, rec); err != nil {
		s.logger.Warn("decision trace write failed", zap.Error(err))
	}

	s.emit(event.AIDecision, map[string]any{
		"index":      i,
		"action":     string(outcome.Decision.Action),
		"reasoning":  outcome.Decision.Reasoning,
		"latency_ms": outcome.Latency.Milliseconds(),
		"fallback":   outcome.Err != nil,
	})

	s.apply(ctx, outcome.Decision, c, i)
}

// buildRequest assembles the decision request with a bounded window of
// recent candles for context.
func (s *Session) buildRequest(c core.Candle, i int) decision.Request {
	from := i - s.params.HistoryWindow
	if from < 0 {
		from = 0
	}
	history := make([]decision.Snapshot, 0, i-from)
	for j := from; j < i; j++ {
		history = append(history, decision.Snapshot{
			Candle:     s.candles[j],
			Indicators: s.pipeline.CalculateAll(j),
		})
	}

	return decision.Request{
		Symbol:     s.params.Symbol,
		Index:      i,
		Candle:     c,
		Indicators: s.pipeline.CalculateAll(i),
		Position:   s.book.OpenPosition(),
		Equity:     s.book.TotalEquity(),
		History:    history,
	}
}

// apply mutates the book according to the decision. Risk rejections degrade
// to HOLD for this candle; they never fail the session.
func (s *Session) apply(ctx context.Context, d core.Decision, c core.Candle, i int) {
	switch d.Action {
	case core.ActionLong, core.ActionShort:
		direction := core.DirectionLong
		if d.Action == core.ActionShort {
			direction = core.DirectionShort
		}

		if s.book.OpenPosition() != nil {
			s.logger.Debug("entry requested with position open, holding", zap.Int("index", i))
			return
		}

		if d.EntryPrice != nil {
			// limit entry: park as a pending order until price touches it
			s.pending = &pendingOrder{
				direction:    direction,
				price:        *d.EntryPrice,
				sizeFraction: d.SizeFraction,
				leverage:     d.Leverage,
				stopLoss:     d.StopLoss,
				takeProfit:   d.TakeProfit,
				createdIndex: i,
			}
			return
		}

		pos, err := s.book.Open(direction, c.Close, d.SizeFraction, d.Leverage, d.StopLoss, d.TakeProfit, c.Time, i)
		if err != nil {
			s.logger.Warn("entry rejected by risk limits, holding",
				zap.Int("index", i),
				zap.Error(core.WrapError(core.ErrRiskRejected, err)),
			)
			return
		}
		s.emitPositionOpened(pos, i)

	case core.ActionClose:
		s.pending = nil
		if s.book.OpenPosition() == nil {
			return
		}
		s.closePosition(ctx, c.Close, c.Time, i, core.ExitDecision)
	}
}

// fillPendingOrder opens the parked limit entry when the candle range
// touches its price. Fills execute at the limit price.
func (s *Session) fillPendingOrder(c core.Candle, i int) {
	if s.pending == nil || s.book.OpenPosition() != nil {
		return
	}

	p := s.pending
	touched := (p.direction == core.DirectionLong && c.Low <= p.price) ||
		(p.direction == core.DirectionShort && c.High >= p.price)
	if !touched {
		return
	}

	s.pending = nil
	pos, err := s.book.Open(p.direction, p.price, p.sizeFraction, p.leverage, p.stopLoss, p.takeProfit, c.Time, i)
	if err != nil {
		s.logger.Warn("pending order rejected at fill time", zap.Error(err))
		return
	}
	s.emitPositionOpened(pos, i)
}

// closePosition realizes the open position, persists the trade, then emits
// the close event. Returns false when the close violates an invariant, in
// which case the session has transitioned to failed.
func (s *Session) closePosition(ctx context.Context, price float64, at time.Time, index int, reason core.ExitReason) bool {
	trade, err := s.book.Close(price, at, index, reason)
	if err != nil {
		// closing a non-existent position is an invariant violation
		s.logger.Error("close failed", zap.Error(err))
		s.setFailed(err)
		return false
	}

	if s.metrics != nil {
		s.metrics.RecordTrade(string(reason))
	}
	if err := s.store.AppendTrade(ctx, s.id, trade); err != nil {
		s.logger.Warn("trade write failed", zap.Error(err))
	}

	s.emit(event.PositionClosed, map[string]any{
		"index":     index,
		"direction": string(trade.Direction),
		"entry":     trade.EntryPrice,
		"exit":      trade.ExitPrice,
		"pnl":       trade.PnL,
		"pnl_pct":   trade.PnLPct,
		"reason":    string(reason),
		"hold_bars": trade.ExitIndex - trade.EntryIndex,
		"total_pnl": s.book.RealizedPnL(),
	})
	return true
}

func (s *Session) emitPositionOpened(pos *position.Position, index int) {
	s.emit(event.PositionOpened, map[string]any{
		"index":       index,
		"direction":   string(pos.Direction),
		"entry":       pos.EntryPrice,
		"size":        pos.Size,
		"leverage":    pos.Leverage,
		"stop_loss":   pos.StopLoss,
		"take_profit": pos.TakeProfit,
	})
}

// safetyBreached evaluates the configured loss thresholds.
func (s *Session) safetyBreached(equity, dayStartEquity float64) (string, bool) {
	cfg := s.params.Safety
	capital := s.params.StartingCapital

	if cfg.MaxLossPerTradePct > 0 {
		limit := capital * cfg.MaxLossPerTradePct / 100
		for _, t := range s.book.ClosedTrades() {
			if -t.PnL > limit {
				return "max loss per trade exceeded", true
			}
		}
	}

	if cfg.MaxDailyLossPct > 0 && dayStartEquity > 0 {
		loss := (dayStartEquity - equity) / dayStartEquity * 100
		if loss > cfg.MaxDailyLossPct {
			return "max daily loss exceeded", true
		}
	}

	if cfg.MaxDrawdownPct > 0 && -s.book.MaxDrawdown() > cfg.MaxDrawdownPct {
		return "max drawdown exceeded", true
	}

	return "", false
}

// checkpoint writes the runtime snapshot with limited retries. Checkpoint
// failures never abort the loop.
func (s *Session) checkpoint(ctx context.Context, state State) {
	snap := store.RuntimeSnapshot{
		SessionID:    s.id,
		Status:       string(state),
		CurrentIndex: s.currentIndexLocked(),
		TotalCandles: len(s.candles),
		Equity:       s.book.TotalEquity(),
		RealizedPnL:  s.book.RealizedPnL(),
		MaxDrawdown:  s.book.MaxDrawdown(),
		OpenPosition: s.book.OpenPosition(),
		UpdatedAt:    time.Now(),
	}

	var err error
	for attempt := 1; attempt <= checkpointRetries; attempt++ {
		if err = s.store.UpsertRuntime(ctx, snap); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}

	if s.metrics != nil {
		s.metrics.RecordCheckpointFailure()
	}
	s.logger.Warn("checkpoint write failed", zap.Error(core.WrapError(core.ErrStoreFailed, err)))
}

// finalize closes any remaining position, builds the Result, persists it
// and transitions to the terminal state.
func (s *Session) finalize(ctx context.Context, stoppedEarly bool) {
	s.mu.Lock()
	lastIdx := s.currentIndex - 1
	closeOnStop := s.closeOnStop
	stopReason := s.stopReason
	s.mu.Unlock()

	// realize any open position at the last processed candle's close
	if s.book.OpenPosition() != nil && lastIdx >= 0 {
		if !stoppedEarly || closeOnStop {
			c := s.candles[lastIdx]
			if !s.closePosition(ctx, c.Close, c.Time, lastIdx, core.ExitManualStop) {
				return
			}
			s.book.MarkToMarket(c)
		}
	}
	s.pending = nil

	endState := StateCompleted
	if stoppedEarly {
		endState = StateStopped
	}

	start := s.params.Start
	end := s.params.End
	if len(s.candles) > 0 {
		start = s.candles[0].Time
		if lastIdx >= 0 {
			end = s.candles[lastIdx].Time
		}
	}

	meta := result.Meta{
		SessionID:       s.id,
		Agent:           s.params.Agent,
		Symbol:          s.params.Symbol,
		Timeframe:       s.params.Timeframe,
		StartDate:       start,
		EndDate:         end,
		StartingCapital: s.params.StartingCapital,
		StartedAt:       s.startedAt,
		CompletedAt:     time.Now(),
		StoppedEarly:    stoppedEarly,
		StopReason:      stopReason,
	}
	res := result.Build(meta, s.book.ClosedTrades(), s.book.EquityCurve())

	if err := s.store.SaveResult(ctx, res); err != nil {
		s.logger.Error("result write failed", zap.Error(core.WrapError(core.ErrStoreFailed, err)))
	}
	s.checkpoint(ctx, endState)

	if s.consumer != nil {
		if err := s.consumer.Consume(ctx, res); err != nil {
			s.logger.Warn("result consumer failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.state = endState
	s.lastEquity = res.FinalCapital
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionFinished(string(endState))
	}

	s.emit(event.SessionCompleted, map[string]any{
		"state":         string(endState),
		"final_capital": res.FinalCapital,
		"total_pnl":     res.TotalPnL,
		"total_pnl_pct": res.TotalPnLPct,
		"trades":        res.TotalTrades,
		"win_rate":      res.WinRate,
		"max_drawdown":  res.MaxDrawdown,
		"stop_reason":   stopReason,
	})

	s.logger.Info("session finished",
		zap.String("state", string(endState)),
		zap.Float64("final_capital", res.FinalCapital),
		zap.Int("trades", res.TotalTrades),
	)
}

func (s *Session) emit(t event.Type, payload map[string]any) {
	s.sink.Publish(s.id, event.Event{
		Type:      t,
		SessionID: s.id,
		Time:      time.Now(),
		Payload:   payload,
	})
}

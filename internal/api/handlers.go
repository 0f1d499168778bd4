// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/api/response"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/indicator"
	"github.com/newthinker/tradesim/internal/position"
	"github.com/newthinker/tradesim/internal/session"
)

// CreateSessionRequest is the request body for starting a session.
type CreateSessionRequest struct {
	Symbol          string           `json:"symbol"`
	Timeframe       string           `json:"timeframe"`
	Start           string           `json:"start"`
	End             string           `json:"end"`
	StartingCapital float64          `json:"starting_capital,omitempty"`
	Indicators      indicator.Config `json:"indicators,omitempty"`
	// DecisionInterval overrides the configured decision cadence.
	DecisionInterval int `json:"decision_interval,omitempty"`
	// Safety thresholds as percentages; zero disables a check.
	MaxLossPerTradePct float64 `json:"max_loss_per_trade_pct,omitempty"`
	MaxDailyLossPct    float64 `json:"max_daily_loss_pct,omitempty"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct,omitempty"`
}

const dateLayout = "2006-01-02"

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrConfigInvalid, err))
		return
	}

	params, err := s.sessionParams(req)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.registry.Start(r.Context(), params, s.source, s.maker)
	if err != nil {
		response.Error(w, statusFor(err), err)
		return
	}

	s.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("symbol", params.Symbol),
	)
	response.JSON(w, http.StatusCreated, map[string]any{"session_id": id})
}

// sessionParams merges the request with the configured defaults.
func (s *Server) sessionParams(req CreateSessionRequest) (session.Params, error) {
	tf, err := core.ParseTimeframe(req.Timeframe)
	if err != nil {
		return session.Params{}, core.WrapError(core.ErrConfigInvalid, err)
	}

	start, err := time.Parse(dateLayout, req.Start)
	if err != nil {
		return session.Params{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("invalid start date: %w", err))
	}
	end, err := time.Parse(dateLayout, req.End)
	if err != nil {
		return session.Params{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("invalid end date: %w", err))
	}

	capital := req.StartingCapital
	if capital == 0 {
		capital = s.defaults.DefaultCapital
	}
	interval := req.DecisionInterval
	if interval == 0 {
		interval = s.defaults.DecisionInterval
	}
	indicators := req.Indicators
	if len(indicators.Indicators) == 0 && len(indicators.Custom) == 0 {
		indicators = indicator.DefaultConfig()
	}

	return session.Params{
		Symbol:          req.Symbol,
		Timeframe:       tf,
		Start:           start,
		End:             end,
		StartingCapital: capital,
		Agent:           s.maker.Name(),
		Indicators:      indicators,
		Limits: position.Limits{
			MaxSizeFraction: s.risk.MaxSizeFraction,
			MaxLeverage:     s.risk.MaxLeverage,
		},
		Safety: session.SafetyConfig{
			MaxLossPerTradePct: orDefault(req.MaxLossPerTradePct, s.risk.MaxLossPerTradePct),
			MaxDailyLossPct:    orDefault(req.MaxDailyLossPct, s.risk.MaxDailyLossPct),
			MaxDrawdownPct:     orDefault(req.MaxDrawdownPct, s.risk.MaxDrawdownPct),
		},
		DecisionInterval:   interval,
		DecisionTimeout:    s.defaults.DecisionTimeout,
		DecisionMinDelay:   s.defaults.DecisionMinDelay,
		ReadinessThreshold: s.defaults.ReadinessThreshold,
		HistoryWindow:      s.defaults.HistoryWindow,
		CheckpointInterval: s.defaults.CheckpointInterval,
	}, nil
}

func orDefault(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, status)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.registry.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.registry.Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.registry.Stop)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, op func(string) error) {
	id := r.PathValue("id")
	if err := op(id); err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"session_id": id})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ListTrades(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, trades)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.store.ListDecisions(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Error(w, statusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, decisions)
}

// handleEvents streams session events as server-sent events until the
// client disconnects or the session's event stream closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ch, cancel := s.registry.Bus().Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// statusFor maps engine error codes to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrCapacity):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, core.ErrConfigInvalid), errors.Is(err, core.ErrConfigMissing):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoData), errors.Is(err, core.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

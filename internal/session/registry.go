package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/candle"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/event"
	"github.com/newthinker/tradesim/internal/metrics"
	"github.com/newthinker/tradesim/internal/result"
	store "github.com/newthinker/tradesim/internal/storage/session"
)

// Registry owns the live sessions of the process. Control operations
// (pause, resume, stop, status) act through it from request-handling
// contexts while each session's own goroutine advances its loop. Terminal
// sessions are evicted once their state is durably persisted; queries for
// evicted sessions fall back to the store.
type Registry struct {
	store         store.Store
	bus           *event.Bus
	maxConcurrent int
	metrics       *metrics.Registry
	consumer      ResultConsumer
	logger        *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	wg sync.WaitGroup
}

// NewRegistry creates a session registry.
func NewRegistry(st store.Store, bus *event.Bus, maxConcurrent int, logger *zap.Logger) *Registry {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:         st,
		bus:           bus,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		sessions:      make(map[string]*Session),
	}
}

// SetMetrics attaches engine metrics to sessions started hereafter.
func (r *Registry) SetMetrics(m *metrics.Registry) {
	r.metrics = m
}

// SetResultConsumer attaches a downstream result consumer to sessions
// started hereafter.
func (r *Registry) SetResultConsumer(c ResultConsumer) {
	r.consumer = c
}

// Bus returns the event bus for subscriptions.
func (r *Registry) Bus() *event.Bus {
	return r.bus
}

// Start creates a new session and launches its processing loop. It returns
// the session id, or an error when the configuration or data is invalid or
// the concurrent session limit is reached.
func (r *Registry) Start(ctx context.Context, params Params, src candle.Source, maker decision.Maker) (string, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.maxConcurrent {
		r.mu.Unlock()
		return "", core.ErrCapacity
	}
	// hold the slot while the session initializes
	id := uuid.NewString()
	r.sessions[id] = nil
	r.mu.Unlock()

	s, err := New(ctx, id, params, src, maker, r.store, r.bus, r.logger)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return "", err
	}
	s.SetMetrics(r.metrics)
	s.SetResultConsumer(r.consumer)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.Run(ctx)
		r.evict(ctx, s)
	}()

	return id, nil
}

// evict removes a terminal session from the registry after persisting its
// final state, and closes its event subscriptions.
func (r *Registry) evict(ctx context.Context, s *Session) {
	st := s.Status()
	if st.State == StateFailed {
		// failed sessions produce no Result; persist the last error so the
		// status stays queryable after eviction
		snap := store.RuntimeSnapshot{
			SessionID:    st.ID,
			Status:       string(StateFailed),
			CurrentIndex: st.CurrentIndex,
			TotalCandles: st.TotalCandles,
			Equity:       st.Equity,
			LastError:    st.LastError,
			UpdatedAt:    time.Now(),
		}
		if err := r.store.UpsertRuntime(ctx, snap); err != nil {
			r.logger.Warn("failed-state checkpoint write failed", zap.Error(err))
		}
	}

	r.mu.Lock()
	delete(r.sessions, s.ID())
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.CloseSession(s.ID())
	}
}

func (r *Registry) get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || s == nil {
		return nil, core.ErrSessionNotFound
	}
	return s, nil
}

// Pause suspends a running session.
func (r *Registry) Pause(id string) error {
	s, err := r.get(id)
	if err != nil {
		return err
	}
	return s.Pause()
}

// Resume continues a paused session.
func (r *Registry) Resume(id string) error {
	s, err := r.get(id)
	if err != nil {
		return err
	}
	return s.Resume()
}

// Stop terminates a session, closing any open position at the current mark
// price. Stopping an evicted (already terminal) session is a no-op.
func (r *Registry) Stop(id string) error {
	s, err := r.get(id)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			// already terminal and evicted
			if _, serr := r.store.GetRuntime(context.Background(), id); serr == nil {
				return nil
			}
		}
		return err
	}
	return s.Stop("user requested stop", true)
}

// Status returns the current status of a session, falling back to the
// persisted snapshot for terminal sessions already evicted.
func (r *Registry) Status(ctx context.Context, id string) (*Status, error) {
	if s, err := r.get(id); err == nil {
		st := s.Status()
		return &st, nil
	}

	snap, err := r.store.GetRuntime(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Status{
		ID:           snap.SessionID,
		State:        State(snap.Status),
		CurrentIndex: snap.CurrentIndex,
		TotalCandles: snap.TotalCandles,
		Equity:       snap.Equity,
		OpenPosition: snap.OpenPosition,
		LastError:    snap.LastError,
	}, nil
}

// Result returns the terminal result of a completed or stopped session.
func (r *Registry) Result(ctx context.Context, id string) (*result.Result, error) {
	return r.store.GetResult(ctx, id)
}

// List returns the statuses of all live sessions.
func (r *Registry) List() []Status {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			live = append(live, s)
		}
	}
	r.mu.RUnlock()

	statuses := make([]Status, 0, len(live))
	for _, s := range live {
		statuses = append(statuses, s.Status())
	}
	return statuses
}

// Shutdown stops all live sessions without closing their positions and
// waits for their loops to checkpoint and exit.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != nil {
			live = append(live, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range live {
		_ = s.Stop("shutdown", false)
	}
	r.wg.Wait()
}

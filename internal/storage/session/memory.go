// internal/storage/session/memory.go
package session

import (
	"context"
	"sync"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/position"
	"github.com/newthinker/tradesim/internal/result"
)

// MemoryStore is an in-memory session store.
type MemoryStore struct {
	runtimes  map[string]RuntimeSnapshot
	trades    map[string][]position.Trade
	decisions map[string][]DecisionRecord
	results   map[string]*result.Result
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runtimes:  make(map[string]RuntimeSnapshot),
		trades:    make(map[string][]position.Trade),
		decisions: make(map[string][]DecisionRecord),
		results:   make(map[string]*result.Result),
	}
}

// UpsertRuntime writes the latest runtime snapshot for a session.
func (m *MemoryStore) UpsertRuntime(ctx context.Context, snap RuntimeSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runtimes[snap.SessionID] = snap
	return nil
}

// AppendTrade appends a closed trade.
func (m *MemoryStore) AppendTrade(ctx context.Context, sessionID string, trade position.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trades[sessionID] = append(m.trades[sessionID], trade)
	return nil
}

// AppendDecision appends a decision-trace record.
func (m *MemoryStore) AppendDecision(ctx context.Context, rec DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decisions[rec.SessionID] = append(m.decisions[rec.SessionID], rec)
	return nil
}

// SaveResult persists the terminal result.
func (m *MemoryStore) SaveResult(ctx context.Context, res *result.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *res
	m.results[res.SessionID] = &cp
	return nil
}

// GetRuntime returns the last persisted snapshot.
func (m *MemoryStore) GetRuntime(ctx context.Context, sessionID string) (*RuntimeSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.runtimes[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return &snap, nil
}

// GetResult returns the persisted result.
func (m *MemoryStore) GetResult(ctx context.Context, sessionID string) (*result.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.results[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	cp := *res
	return &cp, nil
}

// ListTrades returns the session's trades in append order.
func (m *MemoryStore) ListTrades(ctx context.Context, sessionID string) ([]position.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]position.Trade(nil), m.trades[sessionID]...), nil
}

// ListDecisions returns the session's decision trace in append order.
func (m *MemoryStore) ListDecisions(ctx context.Context, sessionID string) ([]DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]DecisionRecord(nil), m.decisions[sessionID]...), nil
}

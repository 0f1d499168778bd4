// internal/storage/session/interface.go
package session

import (
	"context"
	"time"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/position"
	"github.com/newthinker/tradesim/internal/result"
)

// Store defines the interface for session persistence. The engine only
// requires eventual durability: runtime snapshots may be written behind the
// processing loop, but a snapshot must never be persisted ahead of the
// events already emitted for it.
type Store interface {
	// UpsertRuntime writes the current runtime snapshot of a session.
	UpsertRuntime(ctx context.Context, snap RuntimeSnapshot) error

	// AppendTrade appends a closed trade to the session's trade history.
	AppendTrade(ctx context.Context, sessionID string, trade position.Trade) error

	// AppendDecision appends one decision-trace record.
	AppendDecision(ctx context.Context, rec DecisionRecord) error

	// SaveResult persists the terminal result of a completed session.
	SaveResult(ctx context.Context, res *result.Result) error

	// GetRuntime returns the last persisted runtime snapshot.
	GetRuntime(ctx context.Context, sessionID string) (*RuntimeSnapshot, error)

	// GetResult returns the persisted result, if the session completed.
	GetResult(ctx context.Context, sessionID string) (*result.Result, error)

	// ListTrades returns the persisted trades of a session in append order.
	ListTrades(ctx context.Context, sessionID string) ([]position.Trade, error)

	// ListDecisions returns the decision trace of a session in append order.
	ListDecisions(ctx context.Context, sessionID string) ([]DecisionRecord, error)
}

// RuntimeSnapshot is the periodically checkpointed runtime state of a
// session, enough to report progress and recover after a crash.
type RuntimeSnapshot struct {
	SessionID    string             `json:"session_id"`
	Status       string             `json:"status"`
	CurrentIndex int                `json:"current_index"`
	TotalCandles int                `json:"total_candles"`
	Equity       float64            `json:"equity"`
	RealizedPnL  float64            `json:"realized_pnl"`
	MaxDrawdown  float64            `json:"max_drawdown"`
	OpenPosition *position.Position `json:"open_position,omitempty"`
	// LastError holds the failure reason for failed sessions; it stays
	// queryable after the session is evicted from the registry.
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DecisionRecord is one entry of a session's decision trace, including
// degraded decisions with their failure reason.
type DecisionRecord struct {
	SessionID string              `json:"session_id"`
	Index     int                 `json:"index"`
	Action    core.DecisionAction `json:"action"`
	Reasoning string              `json:"reasoning"`
	Latency   time.Duration       `json:"latency"`
	Err       string              `json:"err,omitempty"`
	Time      time.Time           `json:"time"`
}

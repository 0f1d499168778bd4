// Package event defines the session lifecycle event protocol and an
// in-process best-effort broadcast bus.
package event

import "time"

// Type identifies a session lifecycle or progress event
type Type string

const (
	SessionInitialized Type = "session_initialized"
	CandleProcessed    Type = "candle_processed"
	AIThinking         Type = "ai_thinking"
	AIDecision         Type = "ai_decision"
	PositionOpened     Type = "position_opened"
	PositionClosed     Type = "position_closed"
	StatsUpdate        Type = "stats_update"
	SessionPaused      Type = "session_paused"
	SessionResumed     Type = "session_resumed"
	SessionCompleted   Type = "session_completed"
	SessionError       Type = "error"
)

// Event is one session event. Events for a session are published in the
// order they were generated; no ordering holds across sessions.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	Time      time.Time      `json:"time"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink receives session events. Delivery is best-effort: implementations
// must tolerate zero subscribers and must never block the publisher
// indefinitely.
type Sink interface {
	Publish(sessionID string, ev Event)
}

// NopSink discards all events
type NopSink struct{}

func (NopSink) Publish(string, Event) {}

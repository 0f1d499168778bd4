package event

import (
	"sync"

	"go.uber.org/zap"
)

// defaultBuffer is the per-subscriber channel depth.
const defaultBuffer = 256

// Bus is an in-process event broadcaster. Subscribers receive the events of
// one session in publish order over a buffered channel; when a subscriber
// falls behind, events for it are dropped rather than blocking the
// publishing session loop.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event // session id -> subscriber channels
	logger *zap.Logger
}

// NewBus creates a new event bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[string][]chan Event),
		logger: logger,
	}
}

// Subscribe returns a channel delivering the events of one session in order.
// The returned cancel function removes the subscription and closes the
// channel.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, defaultBuffer)

	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[sessionID]
		for i, c := range chans {
			if c == ch {
				b.subs[sessionID] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
		if len(b.subs[sessionID]) == 0 {
			delete(b.subs, sessionID)
		}
	}
	return ch, cancel
}

// Publish delivers the event to all subscribers of the session. With zero
// subscribers this is a no-op; a full subscriber channel drops the event.
func (b *Bus) Publish(sessionID string, ev Event) {
	b.mu.RLock()
	chans := b.subs[sessionID]
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				zap.String("session_id", sessionID),
				zap.String("type", string(ev.Type)),
			)
		}
	}
}

// CloseSession removes all subscriptions for a session, closing their
// channels. Called when a session is evicted from the registry.
func (b *Bus) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[sessionID] {
		close(ch)
	}
	delete(b.subs, sessionID)
}

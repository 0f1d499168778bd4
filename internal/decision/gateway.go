package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/core"
)

// DefaultTimeout bounds one decision-maker invocation.
const DefaultTimeout = 20 * time.Second

// GatewayConfig holds gateway behavior settings.
type GatewayConfig struct {
	// Timeout is the hard deadline for one decision call.
	Timeout time.Duration
	// MinInterval is the minimum delay between consecutive decision calls,
	// used to respect external rate limits. Zero disables pacing.
	MinInterval time.Duration
}

// Gateway wraps a Maker with timeout, fallback and rate pacing. Decide never
// returns an error: any failure of the underlying maker degrades to a HOLD
// decision carrying the failure reason, so the session loop can never stall
// on a decision.
type Gateway struct {
	maker  Maker
	cfg    GatewayConfig
	logger *zap.Logger

	mu       sync.Mutex
	lastCall time.Time
}

// NewGateway creates a Gateway around the given maker.
func NewGateway(maker Maker, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{maker: maker, cfg: cfg, logger: logger}
}

// Outcome is the result of one gateway invocation.
type Outcome struct {
	Decision core.Decision
	// Latency is the duration of the maker call, excluding pacing delay.
	Latency time.Duration
	// Err records the maker failure when the decision is a fallback HOLD.
	Err error
}

// Decide invokes the maker with pacing and timeout applied. On timeout,
// error or a malformed decision it returns a HOLD outcome describing the
// failure.
func (g *Gateway) Decide(ctx context.Context, req Request) Outcome {
	if err := g.pace(ctx); err != nil {
		return Outcome{
			Decision: core.Hold(fmt.Sprintf("decision cancelled while pacing: %v", err)),
			Err:      err,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type callResult struct {
		decision *core.Decision
		err      error
	}

	// The maker runs in its own goroutine so a maker that ignores context
	// cancellation still cannot stall the session loop past the timeout.
	results := make(chan callResult, 1)
	start := time.Now()
	go func() {
		d, err := g.maker.Decide(callCtx, req)
		results <- callResult{decision: d, err: err}
	}()

	var decision *core.Decision
	var err error
	select {
	case res := <-results:
		decision, err = res.decision, res.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}
	latency := time.Since(start)

	g.mu.Lock()
	g.lastCall = time.Now()
	g.mu.Unlock()

	if err != nil {
		wrapped := err
		if callCtx.Err() == context.DeadlineExceeded {
			wrapped = core.WrapError(core.ErrDecisionTimeout, err)
		} else {
			wrapped = core.WrapError(core.ErrDecisionFailed, err)
		}
		g.logger.Warn("decision maker failed, holding",
			zap.String("maker", g.maker.Name()),
			zap.Int("index", req.Index),
			zap.Error(err),
		)
		return Outcome{
			Decision: core.Hold(fmt.Sprintf("decision maker %s failed: %v", g.maker.Name(), err)),
			Latency:  latency,
			Err:      wrapped,
		}
	}

	if err := validate(decision); err != nil {
		g.logger.Warn("malformed decision, holding",
			zap.String("maker", g.maker.Name()),
			zap.Error(err),
		)
		return Outcome{
			Decision: core.Hold(fmt.Sprintf("malformed decision: %v", err)),
			Latency:  latency,
			Err:      core.WrapError(core.ErrDecisionFailed, err),
		}
	}

	normalize(decision)
	return Outcome{Decision: *decision, Latency: latency}
}

// pace blocks until MinInterval has elapsed since the previous call.
func (g *Gateway) pace(ctx context.Context) error {
	if g.cfg.MinInterval <= 0 {
		return nil
	}

	g.mu.Lock()
	wait := g.cfg.MinInterval - time.Since(g.lastCall)
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func validate(d *core.Decision) error {
	if d == nil {
		return fmt.Errorf("nil decision")
	}
	if !d.Action.IsValid() {
		return fmt.Errorf("unknown action %q", d.Action)
	}
	if d.Action == core.ActionLong || d.Action == core.ActionShort {
		if d.SizeFraction < 0 || d.SizeFraction > 1 {
			return fmt.Errorf("size fraction %v out of range", d.SizeFraction)
		}
	}
	return nil
}

// normalize fills entry defaults for LONG/SHORT decisions.
func normalize(d *core.Decision) {
	if d.Action != core.ActionLong && d.Action != core.ActionShort {
		return
	}
	if d.SizeFraction == 0 {
		d.SizeFraction = 0.1
	}
	if d.Leverage < 1 {
		d.Leverage = 1
	}
}

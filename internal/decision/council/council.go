// Package council implements a multi-model deliberation decision maker.
// Each member model is asked independently; the majority action wins, with
// ties resolved conservatively to HOLD.
package council

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/decision/llmmaker"
	"github.com/newthinker/tradesim/internal/llm"
)

// Maker is a decision maker composed of several LLM providers.
type Maker struct {
	members []decision.Maker
	logger  *zap.Logger
}

// New creates a council from the given providers. At least one member is
// required.
func New(providers []llm.Provider, temperature float64, logger *zap.Logger) (*Maker, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("council requires at least one member")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	members := make([]decision.Maker, len(providers))
	for i, p := range providers {
		members[i] = llmmaker.New(p, temperature)
	}
	return &Maker{members: members, logger: logger}, nil
}

func (m *Maker) Name() string {
	names := make([]string, len(m.members))
	for i, member := range m.members {
		names[i] = member.Name()
	}
	return "council[" + strings.Join(names, ",") + "]"
}

type vote struct {
	maker    string
	decision *core.Decision
	err      error
}

// Decide queries all members concurrently and applies majority voting over
// the returned actions. Members that fail are excluded from the vote; if
// every member fails, the call fails.
func (m *Maker) Decide(ctx context.Context, req decision.Request) (*core.Decision, error) {
	votes := make([]vote, len(m.members))
	var wg sync.WaitGroup
	for i, member := range m.members {
		wg.Add(1)
		go func(i int, member decision.Maker) {
			defer wg.Done()
			d, err := member.Decide(ctx, req)
			votes[i] = vote{maker: member.Name(), decision: d, err: err}
		}(i, member)
	}
	wg.Wait()

	counts := make(map[core.DecisionAction]int)
	var valid []vote
	for _, v := range votes {
		if v.err != nil {
			m.logger.Warn("council member failed",
				zap.String("member", v.maker),
				zap.Error(v.err),
			)
			continue
		}
		valid = append(valid, v)
		counts[v.decision.Action]++
	}

	if len(valid) == 0 {
		return nil, fmt.Errorf("all %d council members failed", len(m.members))
	}

	winner, unanimous := majority(counts)
	result := pickResult(valid, winner)

	trace := make([]map[string]any, 0, len(valid))
	for _, v := range valid {
		trace = append(trace, map[string]any{
			"member":    v.maker,
			"action":    v.decision.Action,
			"reasoning": v.decision.Reasoning,
		})
	}
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["council"] = trace
	result.Metadata["unanimous"] = unanimous

	return result, nil
}

// majority returns the winning action and whether the vote was undisputed.
// A tie for the lead means no majority: the council holds.
func majority(counts map[core.DecisionAction]int) (core.DecisionAction, bool) {
	best := core.ActionHold
	bestCount := 0
	tied := false
	total := 0
	for action, n := range counts {
		total += n
		switch {
		case n > bestCount:
			best, bestCount, tied = action, n, false
		case n == bestCount && action != best:
			tied = true
		}
	}
	if tied {
		return core.ActionHold, false
	}
	return best, bestCount == total
}

// pickResult returns the first member decision matching the winning action,
// falling back to a synthetic HOLD when the tie-break discarded all votes.
func pickResult(valid []vote, winner core.DecisionAction) *core.Decision {
	for _, v := range valid {
		if v.decision.Action == winner {
			d := *v.decision
			return &d
		}
	}
	d := core.Hold("council vote tied, holding")
	return &d
}

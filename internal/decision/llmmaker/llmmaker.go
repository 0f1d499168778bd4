// Package llmmaker implements a decision maker backed by a single LLM
// provider.
package llmmaker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/llm"
)

// Maker asks one LLM provider for a trading decision.
type Maker struct {
	provider    llm.Provider
	temperature float64
}

// New creates a new LLM-backed maker.
func New(provider llm.Provider, temperature float64) *Maker {
	if temperature <= 0 {
		temperature = 0.3
	}
	return &Maker{provider: provider, temperature: temperature}
}

func (m *Maker) Name() string {
	return "llm:" + m.provider.Name()
}

// Decide builds a prompt from the request, queries the provider and parses
// the JSON decision.
func (m *Maker) Decide(ctx context.Context, req decision.Request) (*core.Decision, error) {
	resp, err := m.provider.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      BuildPrompt(req),
		MaxTokens:   1024,
		Temperature: m.temperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM error: %w", err)
	}

	dec, err := ParseDecision(resp.Content)
	if err != nil {
		return nil, err
	}
	if dec.Metadata == nil {
		dec.Metadata = map[string]any{}
	}
	dec.Metadata["provider"] = m.provider.Name()
	return dec, nil
}

// BuildPrompt renders the decision request as a markdown prompt.
func BuildPrompt(req decision.Request) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Symbol: %s\n\n", req.Symbol))

	c := req.Candle
	sb.WriteString("## Current Candle:\n")
	sb.WriteString(fmt.Sprintf("- Time: %s\n", c.Time.Format("2006-01-02 15:04")))
	sb.WriteString(fmt.Sprintf("- OHLC: %.4f / %.4f / %.4f / %.4f, Volume: %.2f\n\n",
		c.Open, c.High, c.Low, c.Close, c.Volume))

	sb.WriteString("## Indicators:\n")
	for name, v := range req.Indicators {
		if v == nil {
			sb.WriteString(fmt.Sprintf("- %s: warming up\n", name))
		} else {
			sb.WriteString(fmt.Sprintf("- %s: %.4f\n", name, *v))
		}
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("## Account:\n- Equity: %.2f\n", req.Equity))
	if req.Position != nil {
		p := req.Position
		sb.WriteString(fmt.Sprintf("- Open position: %s %.4f @ %.4f (leverage %dx, unrealized %.2f)\n",
			p.Direction, p.Size, p.EntryPrice, p.Leverage, p.UnrealizedPnL))
	} else {
		sb.WriteString("- No open position\n")
	}
	sb.WriteString("\n")

	if len(req.History) > 0 {
		sb.WriteString("## Recent Candles (oldest first):\n")
		for _, s := range req.History {
			sb.WriteString(fmt.Sprintf("- %s close %.4f\n", s.Candle.Time.Format("01-02 15:04"), s.Candle.Close))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Task:\n")
	sb.WriteString("Decide the next trading action for this candle.\n")
	sb.WriteString("Respond with JSON containing: action (LONG/SHORT/CLOSE/HOLD), reasoning, size_fraction (0-1), leverage, and optionally stop_loss, take_profit, entry_price.\n")

	return sb.String()
}

// ParseDecision extracts a Decision from model output, tolerating markdown
// code fences around the JSON object.
func ParseDecision(content string) (*core.Decision, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	var dec core.Decision
	if err := json.Unmarshal([]byte(text), &dec); err != nil {
		return nil, fmt.Errorf("parsing decision: %w", err)
	}
	if !dec.Action.IsValid() {
		return nil, fmt.Errorf("unknown action %q", dec.Action)
	}
	return &dec, nil
}

const systemPrompt = `You are a disciplined trading agent running inside a backtest simulation.

You receive one candle at a time with technical indicators, the account state and a short price history. Decide exactly one action:
- LONG: open a long position (only when no position is open)
- SHORT: open a short position (only when no position is open)
- CLOSE: close the open position
- HOLD: do nothing

Rules:
1. Be conservative when indicators disagree; HOLD is always acceptable.
2. Always set a stop_loss when opening a position.
3. size_fraction is the fraction of equity to commit (0-1); keep it small.

Always respond with valid JSON in this format:
{
  "action": "LONG" | "SHORT" | "CLOSE" | "HOLD",
  "reasoning": "explanation of your decision",
  "size_fraction": 0.0-1.0,
  "leverage": 1,
  "stop_loss": null or price,
  "take_profit": null or price,
  "entry_price": null or limit price
}`

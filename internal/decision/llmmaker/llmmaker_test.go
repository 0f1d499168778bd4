package llmmaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/llm"
)

type fakeProvider struct {
	content string
	lastReq llm.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.lastReq = req
	return &llm.Response{Content: f.content}, nil
}

func TestDecideParsesResponse(t *testing.T) {
	p := &fakeProvider{content: `{"action":"LONG","reasoning":"oversold","size_fraction":0.2,"leverage":2}`}
	m := New(p, 0.3)

	d, err := m.Decide(context.Background(), decision.Request{
		Symbol: "ETHUSDT",
		Candle: core.Candle{Time: time.Now(), Close: 2000},
		Equity: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, core.ActionLong, d.Action)
	assert.Equal(t, 0.2, d.SizeFraction)
	assert.Equal(t, "fake", d.Metadata["provider"])
	assert.True(t, p.lastReq.JSONMode)
	assert.NotEmpty(t, p.lastReq.System)
}

func TestBuildPromptSections(t *testing.T) {
	rsi := 28.5
	prompt := BuildPrompt(decision.Request{
		Symbol: "BTCUSDT",
		Candle: core.Candle{Time: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 42},
		Indicators: core.IndicatorSet{
			"rsi":  &rsi,
			"macd": nil,
		},
		Equity: 9500,
	})

	assert.Contains(t, prompt, "BTCUSDT")
	assert.Contains(t, prompt, "rsi: 28.5000")
	assert.Contains(t, prompt, "macd: warming up")
	assert.Contains(t, prompt, "No open position")
	assert.Contains(t, prompt, "Equity: 9500.00")
}

func TestParseDecisionFenced(t *testing.T) {
	d, err := ParseDecision("```json\n{\"action\":\"HOLD\",\"reasoning\":\"wait\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, core.ActionHold, d.Action)
	assert.Equal(t, "wait", d.Reasoning)
}

func TestParseDecisionRejectsUnknownAction(t *testing.T) {
	_, err := ParseDecision(`{"action":"BUY","reasoning":"x"}`)
	assert.Error(t, err)
}

func TestParseDecisionRejectsGarbage(t *testing.T) {
	_, err := ParseDecision("not json at all")
	assert.Error(t, err)
}

package council

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/decision"
	"github.com/newthinker/tradesim/internal/llm"
)

type stubProvider struct {
	name string
	resp string
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(_ context.Context, _ llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.resp}, nil
}

func jsonDecision(action string) string {
	return fmt.Sprintf(`{"action":%q,"reasoning":"stub","size_fraction":0.1,"leverage":1}`, action)
}

func testRequest() decision.Request {
	return decision.Request{
		Symbol: "BTCUSDT",
		Index:  50,
		Candle: core.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 10},
		Indicators: core.IndicatorSet{
			"rsi": func() *float64 { v := 25.0; return &v }(),
		},
		Equity: 10000,
	}
}

func TestCouncilUnanimous(t *testing.T) {
	m, err := New([]llm.Provider{
		&stubProvider{name: "a", resp: jsonDecision("LONG")},
		&stubProvider{name: "b", resp: jsonDecision("LONG")},
		&stubProvider{name: "c", resp: jsonDecision("LONG")},
	}, 0.3, zap.NewNop())
	require.NoError(t, err)

	d, err := m.Decide(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, core.ActionLong, d.Action)
	assert.Equal(t, true, d.Metadata["unanimous"])
	trace, ok := d.Metadata["council"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, trace, 3)
}

func TestCouncilMajority(t *testing.T) {
	m, err := New([]llm.Provider{
		&stubProvider{name: "a", resp: jsonDecision("SHORT")},
		&stubProvider{name: "b", resp: jsonDecision("SHORT")},
		&stubProvider{name: "c", resp: jsonDecision("HOLD")},
	}, 0.3, zap.NewNop())
	require.NoError(t, err)

	d, err := m.Decide(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, core.ActionShort, d.Action)
	assert.Equal(t, false, d.Metadata["unanimous"])
}

func TestCouncilTieHolds(t *testing.T) {
	m, err := New([]llm.Provider{
		&stubProvider{name: "a", resp: jsonDecision("LONG")},
		&stubProvider{name: "b", resp: jsonDecision("SHORT")},
	}, 0.3, zap.NewNop())
	require.NoError(t, err)

	d, err := m.Decide(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, core.ActionHold, d.Action)
}

func TestCouncilMemberFailureExcluded(t *testing.T) {
	m, err := New([]llm.Provider{
		&stubProvider{name: "a", resp: jsonDecision("CLOSE")},
		&stubProvider{name: "b", err: errors.New("backend down")},
	}, 0.3, zap.NewNop())
	require.NoError(t, err)

	d, err := m.Decide(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, core.ActionClose, d.Action)
}

func TestCouncilAllFail(t *testing.T) {
	m, err := New([]llm.Provider{
		&stubProvider{name: "a", err: errors.New("down")},
		&stubProvider{name: "b", err: errors.New("down")},
	}, 0.3, zap.NewNop())
	require.NoError(t, err)

	_, err = m.Decide(context.Background(), testRequest())
	assert.Error(t, err)
}

func TestCouncilRequiresMembers(t *testing.T) {
	_, err := New(nil, 0.3, zap.NewNop())
	assert.Error(t, err)
}

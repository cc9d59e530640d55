package backtest

import (
	"context"
	"testing"

	"factor-backtest-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSweep(t *testing.T) {
	// Arrange
	source := staticSource{
		"A": series(t, "A", fourDays, 10, 11, 12, 13),
		"B": series(t, "B", fourDays, 10, 9, 8, 7),
	}
	strategies := []config.Strategy{
		{Name: "momentum", LookbackPeriod: 1, SelectionRatio: 0.5, PositionSize: 0.3, StopLoss: -0.02},
		{Name: "unknown"},
		{Name: "buy_and_hold"},
		{Name: "momentum", LookbackPeriod: 3, SelectionRatio: 1, PositionSize: 0.5, StopLoss: -0.02},
	}

	// Act
	results, err := Sweep(context.Background(), zap.NewNop(), testRunConfig(t, 100_000, "A", "B"), source, strategies, 2)

	// Assert
	require.NoError(t, err)
	require.Len(t, results, len(strategies))
	seen := make(map[string]bool)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, strategies[i], r.Strategy)
		if i == 1 {
			assert.Error(t, r.Err)
			assert.Nil(t, r.Report)
			continue
		}
		require.NoError(t, r.Err)
		require.NotNil(t, r.Report)
		assert.False(t, seen[r.Report.RunID], "every run gets its own id")
		seen[r.Report.RunID] = true
	}
	assert.Equal(t, StrategyBuyAndHold, results[2].Report.Strategy)
	assert.Len(t, results[2].Report.Trades, 2)
}

func TestSweep_NoStrategies(t *testing.T) {
	_, err := Sweep(context.Background(), zap.NewNop(), RunConfig{}, staticSource{}, nil, 4)
	assert.Error(t, err)
}

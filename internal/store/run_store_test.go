package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleReport(runID string) *backtest.PerformanceReport {
	return &backtest.PerformanceReport{
		RunID:          runID,
		Strategy:       backtest.StrategyMomentum,
		Symbols:        []string{"A", "B"},
		StartDate:      day(1),
		EndDate:        day(31),
		InitialCapital: 1_000,
		FinalValue:     1_050,
		TotalReturn:    0.05,
		MaxDrawdown:    0.01,
		WinRate:        0.5,
		TotalTrades:    4,
		Trades: []backtest.Trade{
			{Time: day(3), Symbol: "A", Direction: backtest.DirectionBuy, Quantity: 10, Price: 10, Cost: 100},
			{Time: day(3), Symbol: "B", Direction: backtest.DirectionBuy, Quantity: 10, Price: 20, Cost: 200},
			{Time: day(5), Symbol: "A", Direction: backtest.DirectionSell, Quantity: 10, Price: 12, Revenue: 120, CostBasis: 100, RealizedPnL: 20},
			{Time: day(6), Symbol: "B", Direction: backtest.DirectionSell, Quantity: 5, Price: 19, Revenue: 95, CostBasis: 100, RealizedPnL: -5},
		},
		DailyStats: []backtest.DailySnapshot{
			{Date: day(4), Cash: 700, PositionsValue: 310, TotalValue: 1_010},
			{Date: day(3), Cash: 1_000, TotalValue: 1_000},
		},
		PositionsHistory: map[string]int{"B": 5},
	}
}

func TestRunStore_SaveReport(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := NewRunStore(setupDB(t), zap.NewNop())

	// Act
	err := s.SaveReport(ctx, sampleReport("run-1"))

	// Assert
	require.NoError(t, err)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, backtest.StrategyMomentum, run.Strategy)
	assert.Equal(t, "A,B", run.Symbols)
	assert.Equal(t, 1_050.0, run.FinalValue)
	assert.Equal(t, 4, run.TotalTrades)
	var positions map[string]int
	require.NoError(t, json.Unmarshal([]byte(run.Positions), &positions))
	assert.Equal(t, map[string]int{"B": 5}, positions)

	trades, err := s.Trades(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, trades, 4)
	for i, tr := range trades {
		assert.Equal(t, i+1, tr.Seq)
	}
	assert.Equal(t, "buy", trades[0].Direction)
	assert.Equal(t, 100.0, trades[0].Amount, "buy amount is the cost")
	assert.Equal(t, "sell", trades[2].Direction)
	assert.Equal(t, 120.0, trades[2].Amount, "sell amount is the revenue")
	assert.Equal(t, 20.0, trades[2].RealizedPnL)

	snapshots, err := s.Snapshots(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.True(t, snapshots[0].Date.Before(snapshots[1].Date))
	assert.Equal(t, 1_000.0, snapshots[0].TotalValue)
}

func TestRunStore_SaveReportWithoutTrades(t *testing.T) {
	ctx := context.Background()
	s := NewRunStore(setupDB(t), zap.NewNop())
	report := sampleReport("empty")
	report.Trades = nil
	report.DailyStats = nil

	require.NoError(t, s.SaveReport(ctx, report))

	trades, err := s.Trades(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestRunStore_DuplicateRunIDIsRejected(t *testing.T) {
	ctx := context.Background()
	s := NewRunStore(setupDB(t), zap.NewNop())
	require.NoError(t, s.SaveReport(ctx, sampleReport("dup")))

	err := s.SaveReport(ctx, sampleReport("dup"))

	assert.Error(t, err)
	trades, err := s.Trades(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, trades, 4, "the failed save is rolled back")
}

func TestRunStore_GetRunNotFound(t *testing.T) {
	s := NewRunStore(setupDB(t), zap.NewNop())

	_, err := s.GetRun(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStore_ListRuns(t *testing.T) {
	ctx := context.Background()
	s := NewRunStore(setupDB(t), zap.NewNop())
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.SaveReport(ctx, sampleReport(id)))
	}

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].RunID)

	limited, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRunStore_Statistics(t *testing.T) {
	// Arrange
	ctx := context.Background()
	db := setupDB(t)
	s := NewRunStore(db, zap.NewNop())
	now := time.Now()
	require.NoError(t, s.SaveReport(ctx, sampleReport("recent")))
	require.NoError(t, s.SaveReport(ctx, sampleReport("old")))
	require.NoError(t, db.Model(&models.BacktestRun{}).
		Where("run_id = ?", "old").
		Update("created_at", now.Add(-48*time.Hour)).Error)

	// Act
	stats, err := s.Statistics(ctx, now)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.AllTime.Runs)
	assert.Equal(t, int64(4), stats.AllTime.Sells)
	assert.Equal(t, int64(2), stats.AllTime.ProfitableSells)
	assert.Equal(t, 0.5, stats.AllTime.WinRate)
	assert.InDelta(t, 30.0, stats.AllTime.RealizedPnL, 1e-9)

	assert.Equal(t, int64(1), stats.Since24h.Runs)
	assert.Equal(t, int64(2), stats.Since24h.Sells)
	assert.InDelta(t, 15.0, stats.Since24h.RealizedPnL, 1e-9)
}

func TestRunStore_StatisticsEmpty(t *testing.T) {
	s := NewRunStore(setupDB(t), zap.NewNop())

	stats, err := s.Statistics(context.Background(), time.Now())

	require.NoError(t, err)
	assert.Zero(t, stats.AllTime.Runs)
	assert.Zero(t, stats.AllTime.WinRate)
}

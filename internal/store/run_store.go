package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("backtest run not found")

// RunStore persists finished backtest reports.
type RunStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRunStore creates a run store on an opened and migrated database.
func NewRunStore(db *gorm.DB, logger *zap.Logger) *RunStore {
	return &RunStore{db: db, logger: logger.Named("run-store")}
}

// SaveReport stores the run summary with its trade log and daily snapshots.
func (s *RunStore) SaveReport(ctx context.Context, report *backtest.PerformanceReport) error {
	positions, err := json.Marshal(report.PositionsHistory)
	if err != nil {
		return fmt.Errorf("failed to encode positions: %w", err)
	}

	run := models.BacktestRun{
		RunID:          report.RunID,
		Strategy:       report.Strategy,
		Symbols:        strings.Join(report.Symbols, ","),
		StartDate:      report.StartDate,
		EndDate:        report.EndDate,
		InitialCapital: report.InitialCapital,
		FinalValue:     report.FinalValue,
		TotalReturn:    report.TotalReturn,
		AnnualReturn:   report.AnnualReturn,
		SharpeRatio:    report.SharpeRatio,
		MaxDrawdown:    report.MaxDrawdown,
		WinRate:        report.WinRate,
		TotalTrades:    report.TotalTrades,
		Positions:      string(positions),
	}

	trades := make([]models.Trade, len(report.Trades))
	for i, t := range report.Trades {
		amount := t.Cost
		if t.Direction == backtest.DirectionSell {
			amount = t.Revenue
		}
		trades[i] = models.Trade{
			RunID:       report.RunID,
			Seq:         i + 1,
			Time:        t.Time,
			Symbol:      t.Symbol,
			Direction:   string(t.Direction),
			Quantity:    int64(t.Quantity),
			Price:       t.Price,
			Amount:      amount,
			CostBasis:   t.CostBasis,
			RealizedPnL: t.RealizedPnL,
		}
	}

	snapshots := make([]models.Snapshot, len(report.DailyStats))
	for i, d := range report.DailyStats {
		snapshots[i] = models.Snapshot{
			RunID:          report.RunID,
			Date:           d.Date,
			Cash:           d.Cash,
			PositionsValue: d.PositionsValue,
			TotalValue:     d.TotalValue,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		if len(trades) > 0 {
			if err := tx.CreateInBatches(&trades, batchSize).Error; err != nil {
				return fmt.Errorf("failed to save trades: %w", err)
			}
		}
		if len(snapshots) > 0 {
			if err := tx.CreateInBatches(&snapshots, batchSize).Error; err != nil {
				return fmt.Errorf("failed to save snapshots: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Saved backtest run",
		zap.String("run_id", report.RunID),
		zap.Int("trades", len(trades)),
		zap.Int("snapshots", len(snapshots)))
	return nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns all runs.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]models.BacktestRun, error) {
	q := s.db.WithContext(ctx).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []models.BacktestRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the run with runID, or ErrRunNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*models.BacktestRun, error) {
	var run models.BacktestRun
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &run, nil
}

// Trades returns the trade log of a run in execution order.
func (s *RunStore) Trades(ctx context.Context, runID string) ([]models.Trade, error) {
	var trades []models.Trade
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("seq asc").Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("failed to get trades of run %s: %w", runID, err)
	}
	return trades, nil
}

// Snapshots returns the daily snapshots of a run in date order.
func (s *RunStore) Snapshots(ctx context.Context, runID string) ([]models.Snapshot, error) {
	var snapshots []models.Snapshot
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("date asc").Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("failed to get snapshots of run %s: %w", runID, err)
	}
	return snapshots, nil
}

// StatsDetail holds realized trading statistics for a given period.
type StatsDetail struct {
	Runs            int64   `json:"runs"`
	Sells           int64   `json:"sells"`
	ProfitableSells int64   `json:"profitable_sells"`
	WinRate         float64 `json:"win_rate"`
	RealizedPnL     float64 `json:"realized_pnl"`
}

// Statistics is the structure for the /api/statistics endpoint.
type Statistics struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// Statistics aggregates the closing trades of all stored runs, and of the runs
// stored within 24 hours before now.
func (s *RunStore) Statistics(ctx context.Context, now time.Time) (*Statistics, error) {
	allTime, err := s.stats(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	recent, err := s.stats(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	return &Statistics{Since24h: recent, AllTime: allTime}, nil
}

func (s *RunStore) stats(ctx context.Context, since time.Time) (StatsDetail, error) {
	var detail StatsDetail
	if err := s.db.WithContext(ctx).Model(&models.BacktestRun{}).
		Where("created_at >= ?", since).Count(&detail.Runs).Error; err != nil {
		return detail, fmt.Errorf("failed to count runs: %w", err)
	}

	var agg struct {
		Sells       int64
		Profitable  int64
		RealizedPnL float64 `gorm:"column:realized_pnl"`
	}
	err := s.db.WithContext(ctx).Model(&models.Trade{}).
		Select(`COUNT(*) AS sells,
			COALESCE(SUM(CASE WHEN trades.realized_pnl > 0 THEN 1 ELSE 0 END), 0) AS profitable,
			COALESCE(SUM(trades.realized_pnl), 0) AS realized_pnl`).
		Joins("JOIN backtest_runs ON backtest_runs.run_id = trades.run_id AND backtest_runs.deleted_at IS NULL").
		Where("trades.direction = ? AND backtest_runs.created_at >= ?", string(backtest.DirectionSell), since).
		Scan(&agg).Error
	if err != nil {
		return detail, fmt.Errorf("failed to aggregate trades: %w", err)
	}

	detail.Sells = agg.Sells
	detail.ProfitableSells = agg.Profitable
	detail.RealizedPnL = agg.RealizedPnL
	if detail.Sells > 0 {
		detail.WinRate = float64(detail.ProfitableSells) / float64(detail.Sells)
	}
	return detail, nil
}

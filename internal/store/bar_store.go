package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// HistoryStart is where a full download of a symbol without stored bars begins.
var HistoryStart = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

const batchSize = 500

// BarStore keeps daily bars in the database and serves them as a backtest.DataSource.
type BarStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// ensure BarStore implements the interface
var _ backtest.DataSource = (*BarStore)(nil)

// NewBarStore creates a bar store on an opened and migrated database.
func NewBarStore(db *gorm.DB, logger *zap.Logger) *BarStore {
	return &BarStore{db: db, logger: logger.Named("bar-store")}
}

// SaveBars inserts bars, replacing the values of rows that already exist for
// the same symbol and date. Bars without a usable close are skipped. It returns
// the number of rows written.
func (s *BarStore) SaveBars(ctx context.Context, bars []backtest.Bar) (int, error) {
	rows := make([]models.DailyBar, 0, len(bars))
	for _, b := range bars {
		if b.Symbol == "" || math.IsNaN(b.Close) || b.Close <= 0 {
			s.logger.Debug("Skipping unusable bar", zap.String("symbol", b.Symbol), zap.Time("date", b.Date))
			continue
		}
		rows = append(rows, models.DailyBar{
			Symbol:    b.Symbol,
			TradeDate: backtest.NormalizeDate(b.Date),
			Open:      orZero(b.Open),
			High:      orZero(b.High),
			Low:       orZero(b.Low),
			Close:     b.Close,
			Volume:    orZero(b.Volume),
			Amount:    orZero(b.Amount),
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "trade_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "amount", "updated_at"}),
	}).CreateInBatches(&rows, batchSize).Error
	if err != nil {
		return 0, fmt.Errorf("failed to save bars: %w", err)
	}
	return len(rows), nil
}

// GetDailyData returns the stored bars of symbol between start and end, inclusive, oldest first.
func (s *BarStore) GetDailyData(ctx context.Context, symbol string, start, end time.Time) ([]backtest.Bar, error) {
	var rows []models.DailyBar
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND trade_date BETWEEN ? AND ?", symbol, backtest.NormalizeDate(start), backtest.NormalizeDate(end)).
		Order("trade_date asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
	}

	bars := make([]backtest.Bar, len(rows))
	for i, r := range rows {
		bars[i] = toBar(r)
	}
	return bars, nil
}

// GetLatestPrice returns the most recent stored close of symbol.
func (s *BarStore) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	last, ok, err := s.last(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w for %s", backtest.ErrNoPrice, symbol)
	}
	return last.Close, nil
}

// LastDate returns the date of the most recent stored bar of symbol.
func (s *BarStore) LastDate(ctx context.Context, symbol string) (time.Time, bool, error) {
	last, ok, err := s.last(ctx, symbol)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return backtest.NormalizeDate(last.TradeDate), true, nil
}

func (s *BarStore) last(ctx context.Context, symbol string) (models.DailyBar, bool, error) {
	var row models.DailyBar
	res := s.db.WithContext(ctx).Where("symbol = ?", symbol).Order("trade_date desc").Limit(1).Find(&row)
	if res.Error != nil {
		return row, false, fmt.Errorf("failed to query last bar for %s: %w", symbol, res.Error)
	}
	return row, res.RowsAffected > 0, nil
}

// Sync brings every symbol up to date with source: only bars after the last
// stored date are fetched, or everything since HistoryStart for a new symbol.
// A failing symbol does not stop the others; all failures are returned joined.
// The result holds the number of bars written per symbol.
func (s *BarStore) Sync(ctx context.Context, source backtest.DataSource, symbols []string, until time.Time) (map[string]int, error) {
	until = backtest.NormalizeDate(until)
	written := make(map[string]int, len(symbols))
	var errs []error

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		l := s.logger.With(zap.String("symbol", symbol))

		from := HistoryStart
		last, ok, err := s.LastDate(ctx, symbol)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			from = last.AddDate(0, 0, 1)
		}
		if from.After(until) {
			l.Info("Already up to date", zap.Time("last_date", last))
			written[symbol] = 0
			continue
		}

		raw, err := source.GetDailyData(ctx, symbol, from, until)
		if err != nil {
			l.Error("Failed to fetch bars", zap.Error(err))
			errs = append(errs, fmt.Errorf("sync %s: %w", symbol, err))
			continue
		}
		n, err := s.SaveBars(ctx, backtest.CleanSeries(symbol, raw, l))
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", symbol, err))
			continue
		}
		written[symbol] = n
		l.Info("Synced bars", zap.Time("from", from), zap.Time("until", until), zap.Int("bars", n))
	}
	return written, errors.Join(errs...)
}

// SymbolQuality describes the stored bars of one symbol over a date range.
type SymbolQuality struct {
	Symbol        string  `json:"symbol"`
	Days          int64   `json:"days"`
	Coverage      float64 `json:"coverage"`
	InvalidOpen   int64   `json:"invalid_open"`
	InvalidClose  int64   `json:"invalid_close"`
	InvalidVolume int64   `json:"invalid_volume"`
}

// Clean reports whether no stored value of the symbol is out of range.
func (q SymbolQuality) Clean() bool {
	return q.InvalidOpen == 0 && q.InvalidClose == 0 && q.InvalidVolume == 0
}

// QualityReport summarizes the coverage and validity of stored bars.
type QualityReport struct {
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	TradingDays int64           `json:"trading_days"`
	Symbols     []SymbolQuality `json:"symbols"`
}

// QualityReport counts, per symbol, the stored days, the share of all trading
// days present in the range and the rows with non-positive open, close or volume.
func (s *BarStore) QualityReport(ctx context.Context, start, end time.Time) (*QualityReport, error) {
	start, end = backtest.NormalizeDate(start), backtest.NormalizeDate(end)
	report := &QualityReport{Start: start, End: end}

	inRange := s.db.WithContext(ctx).Model(&models.DailyBar{}).Where("trade_date BETWEEN ? AND ?", start, end)
	if err := inRange.Session(&gorm.Session{}).Distinct("trade_date").Count(&report.TradingDays).Error; err != nil {
		return nil, fmt.Errorf("failed to count trading days: %w", err)
	}

	err := inRange.Session(&gorm.Session{}).
		Select(`symbol, COUNT(*) AS days,
			SUM(CASE WHEN open <= 0 THEN 1 ELSE 0 END) AS invalid_open,
			SUM(CASE WHEN close <= 0 THEN 1 ELSE 0 END) AS invalid_close,
			SUM(CASE WHEN volume <= 0 THEN 1 ELSE 0 END) AS invalid_volume`).
		Group("symbol").
		Order("symbol").
		Scan(&report.Symbols).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute quality stats: %w", err)
	}

	for i := range report.Symbols {
		if report.TradingDays > 0 {
			report.Symbols[i].Coverage = float64(report.Symbols[i].Days) / float64(report.TradingDays)
		}
	}
	return report, nil
}

func toBar(r models.DailyBar) backtest.Bar {
	return backtest.Bar{
		Date:   backtest.NormalizeDate(r.TradeDate),
		Symbol: r.Symbol,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
		Amount: r.Amount,
	}
}

func orZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

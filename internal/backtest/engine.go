package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"factor-backtest-go/internal/config"
	"factor-backtest-go/internal/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle state of an Engine.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrAlreadyRun is returned when Run is called on an engine that has left NotStarted.
var ErrAlreadyRun = errors.New("engine has already been run")

// RunConfig holds the engine level settings of a single run.
type RunConfig struct {
	Symbols        []string
	StartDate      time.Time
	EndDate        time.Time
	InitialCapital float64
	CommissionRate float64
	RiskFreeRate   float64
}

// RunConfigFromConfig converts the backtest section of the configuration.
func RunConfigFromConfig(cfg config.Backtest) (RunConfig, error) {
	start, err := cfg.StartTime()
	if err != nil {
		return RunConfig{}, err
	}
	end, err := cfg.EndTime()
	if err != nil {
		return RunConfig{}, err
	}
	return RunConfig{
		Symbols:        cfg.Symbols,
		StartDate:      NormalizeDate(start),
		EndDate:        NormalizeDate(end),
		InitialCapital: cfg.InitialCapital,
		CommissionRate: cfg.CommissionRate,
		RiskFreeRate:   cfg.RiskFreeRate,
	}, nil
}

// Engine is the backtest engine that steps a strategy through historical dates.
// An engine runs once.
type Engine struct {
	UUID      string
	StartTime time.Time

	logger    *zap.Logger
	cfg       RunConfig
	source    DataSource
	strategy  Strategy
	ledger    *Ledger
	snapshots []DailySnapshot
	state     State
}

// NewEngine creates a new backtest engine.
func NewEngine(log *zap.Logger, cfg RunConfig, source DataSource, strategy Strategy) *Engine {
	id := uuid.NewString()
	return &Engine{
		UUID:     id,
		logger:   logger.ForRun(log, id, strategy.Name()),
		cfg:      cfg,
		source:   source,
		strategy: strategy,
		state:    StateNotStarted,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return e.state }

// Ledger returns the run's ledger, nil before Run.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Snapshots returns a copy of the recorded daily snapshots.
func (e *Engine) Snapshots() []DailySnapshot {
	return append([]DailySnapshot(nil), e.snapshots...)
}

// Run prepares the data, simulates every date and computes the report.
func (e *Engine) Run(ctx context.Context) (*PerformanceReport, error) {
	if e.state != StateNotStarted {
		return nil, fmt.Errorf("%w (state %s)", ErrAlreadyRun, e.state)
	}
	e.StartTime = time.Now()

	report, err := e.run(ctx)
	if err != nil {
		e.state = StateFailed
		e.logger.Error("Backtest failed", zap.Error(err))
		return nil, err
	}
	e.state = StateCompleted
	e.logger.Info("Backtest completed",
		zap.Duration("elapsed", time.Since(e.StartTime)),
		zap.Float64("total_return", report.TotalReturn),
		zap.Int("total_trades", report.TotalTrades))
	return report, nil
}

func (e *Engine) run(ctx context.Context) (*PerformanceReport, error) {
	e.logger.Info("Initializing backtest engine...",
		zap.Strings("symbols", e.cfg.Symbols),
		zap.Time("start_date", e.cfg.StartDate),
		zap.Time("end_date", e.cfg.EndDate),
		zap.Float64("initial_capital", e.cfg.InitialCapital))
	if e.cfg.CommissionRate != 0 {
		e.logger.Warn("Commission rate is configured but not applied to trades",
			zap.Float64("commission_rate", e.cfg.CommissionRate))
	}

	days, err := PrepareData(ctx, e.source, e.cfg.Symbols, e.cfg.StartDate, e.cfg.EndDate, e.logger)
	if err != nil {
		return nil, err
	}

	e.ledger = NewLedger(e.cfg.InitialCapital, e.source, e.logger.Named("ledger"))
	e.state = StateRunning
	sctx := StrategyContext{
		Ctx:       ctx,
		Logger:    e.logger.Named(e.strategy.Name()),
		Ledger:    e.ledger,
		Source:    e.source,
		Symbols:   e.cfg.Symbols,
		StartDate: e.cfg.StartDate,
		EndDate:   e.cfg.EndDate,
	}
	if err := e.strategy.Initialize(sctx); err != nil {
		return nil, fmt.Errorf("failed to initialize strategy %s: %w", e.strategy.Name(), err)
	}

	e.logger.Info("Starting simulation loop", zap.Int("trade_dates", len(days)))
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.step(sctx, day); err != nil {
			return nil, err
		}
	}

	report := CalculateMetrics(e.snapshots, e.ledger.Trades(), e.cfg.InitialCapital, e.cfg.RiskFreeRate)
	report.RunID = e.UUID
	report.Strategy = e.strategy.Name()
	report.Symbols = e.cfg.Symbols
	report.StartDate = e.cfg.StartDate
	report.EndDate = e.cfg.EndDate
	report.PositionsHistory = e.ledger.Positions()
	return &report, nil
}

// step processes one date: mark to market, snapshot, then hand the bars to the strategy.
func (e *Engine) step(sctx StrategyContext, day DayBars) error {
	if n := len(e.snapshots); n > 0 && !day.Date.After(e.snapshots[n-1].Date) {
		return fmt.Errorf("date %s is not after the previous snapshot %s",
			day.Date.Format(time.DateOnly), e.snapshots[n-1].Date.Format(time.DateOnly))
	}

	sctx.Now = day.Date
	e.ledger.SetTime(day.Date)

	for _, symbol := range e.ledger.HeldSymbols() {
		if price, ok := day.Close(symbol); ok {
			e.ledger.Mark(symbol, price)
		} else {
			e.logger.Debug("No bar for held symbol, carrying last price forward",
				zap.String("symbol", symbol), zap.Time("date", day.Date))
		}
	}

	cash := e.ledger.Cash()
	positions := e.ledger.MarkedValue()
	e.snapshots = append(e.snapshots, DailySnapshot{
		Date:           day.Date,
		Cash:           cash,
		PositionsValue: positions,
		TotalValue:     cash + positions,
	})

	if err := e.strategy.OnBar(sctx, day); err != nil {
		return fmt.Errorf("strategy %s failed on %s: %w", e.strategy.Name(), day.Date.Format(time.DateOnly), err)
	}
	return nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// BacktestRun is the persisted summary of one completed backtest.
type BacktestRun struct {
	gorm.Model
	RunID          string    `gorm:"uniqueIndex;not null" json:"run_id"`
	Strategy       string    `json:"strategy"`
	Symbols        string    `json:"symbols"` // comma separated
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	FinalValue     float64   `json:"final_value"`
	TotalReturn    float64   `json:"total_return"`
	AnnualReturn   float64   `json:"annual_return"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	WinRate        float64   `json:"win_rate"`
	TotalTrades    int       `json:"total_trades"`
	// Positions is the JSON encoded symbol -> quantity map held at the end of the run.
	Positions string `json:"positions"`

	Trades    []Trade    `gorm:"foreignKey:RunID;references:RunID" json:"-"`
	Snapshots []Snapshot `gorm:"foreignKey:RunID;references:RunID" json:"-"`
}

// Snapshot is one persisted daily valuation of a run.
type Snapshot struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	RunID          string    `gorm:"index;not null" json:"-"`
	Date           time.Time `json:"date"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	TotalValue     float64   `json:"total_value"`
}

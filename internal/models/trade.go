package models

import "time"

// Trade represents an executed simulated trade record in the database.
type Trade struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RunID     string    `gorm:"index;not null" json:"run_id"`
	Seq       int       `json:"seq"` // position in the run's trade log
	Time      time.Time `json:"time"`
	Symbol    string    `json:"symbol"`
	Direction string    `json:"direction"` // "buy" or "sell"
	Quantity  int64     `json:"quantity"`
	Price     float64   `json:"price"`
	// Amount is the cost of a buy or the revenue of a sell.
	Amount      float64 `json:"amount"`
	CostBasis   float64 `json:"cost_basis,omitempty"`
	RealizedPnL float64 `gorm:"column:realized_pnl" json:"realized_pnl,omitempty"`
}

package models

import "time"

// DailyBar is one stored OHLCV observation. A symbol has at most one row per trade date.
type DailyBar struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"uniqueIndex:idx_symbol_date;not null"`
	TradeDate time.Time `gorm:"uniqueIndex:idx_symbol_date;not null;index"`
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Amount    float64
	UpdatedAt time.Time
}

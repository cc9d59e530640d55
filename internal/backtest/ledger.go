package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Direction is the side of a trade.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Trade is an executed order. Buys carry Cost, sells carry Revenue together
// with the FIFO cost basis of the shares they closed.
type Trade struct {
	Time        time.Time `json:"time"`
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	Cost        float64   `json:"cost,omitempty"`
	Revenue     float64   `json:"revenue,omitempty"`
	CostBasis   float64   `json:"cost_basis,omitempty"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"`
}

// Profitable reports whether a sell closed its shares above their cost basis.
func (t Trade) Profitable() bool {
	return t.Direction == DirectionSell && t.Revenue > t.CostBasis
}

type lot struct {
	quantity int
	price    decimal.Decimal
}

// Ledger is the cash and position book of a single run. It is not safe for
// concurrent use; each run owns its own ledger.
type Ledger struct {
	cash      decimal.Decimal
	positions map[string]int
	lots      map[string][]lot
	marks     map[string]float64
	trades    []Trade
	now       time.Time
	prices    PriceSource
	logger    *zap.Logger
}

// NewLedger creates a ledger holding initialCash and no positions. prices is
// used by PositionsValue for live valuation.
func NewLedger(initialCash float64, prices PriceSource, logger *zap.Logger) *Ledger {
	return &Ledger{
		cash:      decimal.NewFromFloat(initialCash),
		positions: make(map[string]int),
		lots:      make(map[string][]lot),
		marks:     make(map[string]float64),
		prices:    prices,
		logger:    logger,
	}
}

// SetTime sets the timestamp stamped on subsequent trades.
func (l *Ledger) SetTime(t time.Time) { l.now = t }

// Cash returns the available cash.
func (l *Ledger) Cash() float64 { return l.cash.InexactFloat64() }

// Buy spends quantity*price of cash on symbol. It returns false and changes
// nothing when the order is malformed or the cost exceeds the available cash.
func (l *Ledger) Buy(symbol string, quantity int, price float64) bool {
	if quantity <= 0 || !validPrice(price) {
		l.logger.Debug("Rejected malformed buy", zap.String("symbol", symbol),
			zap.Int("quantity", quantity), zap.Float64("price", price))
		return false
	}

	px := decimal.NewFromFloat(price)
	cost := px.Mul(decimal.NewFromInt(int64(quantity)))
	if cost.GreaterThan(l.cash) {
		l.logger.Debug("Rejected buy, insufficient funds", zap.String("symbol", symbol),
			zap.String("cost", cost.String()), zap.String("cash", l.cash.String()))
		return false
	}

	l.cash = l.cash.Sub(cost)
	l.positions[symbol] += quantity
	l.lots[symbol] = append(l.lots[symbol], lot{quantity: quantity, price: px})
	l.marks[symbol] = price
	l.trades = append(l.trades, Trade{
		Time:      l.now,
		Symbol:    symbol,
		Direction: DirectionBuy,
		Quantity:  quantity,
		Price:     price,
		Cost:      cost.InexactFloat64(),
	})
	return true
}

// Sell liquidates quantity shares of symbol at price. It returns false and
// changes nothing when the order is malformed or the symbol is not held in
// that quantity.
func (l *Ledger) Sell(symbol string, quantity int, price float64) bool {
	if quantity <= 0 || !validPrice(price) {
		l.logger.Debug("Rejected malformed sell", zap.String("symbol", symbol),
			zap.Int("quantity", quantity), zap.Float64("price", price))
		return false
	}
	held, ok := l.positions[symbol]
	if !ok || held < quantity {
		l.logger.Debug("Rejected sell, position too small", zap.String("symbol", symbol),
			zap.Int("held", held), zap.Int("quantity", quantity))
		return false
	}

	px := decimal.NewFromFloat(price)
	revenue := px.Mul(decimal.NewFromInt(int64(quantity)))
	basis := l.consumeLots(symbol, quantity)

	l.cash = l.cash.Add(revenue)
	if held == quantity {
		delete(l.positions, symbol)
		delete(l.lots, symbol)
	} else {
		l.positions[symbol] = held - quantity
	}
	l.marks[symbol] = price
	l.trades = append(l.trades, Trade{
		Time:        l.now,
		Symbol:      symbol,
		Direction:   DirectionSell,
		Quantity:    quantity,
		Price:       price,
		Revenue:     revenue.InexactFloat64(),
		CostBasis:   basis.InexactFloat64(),
		RealizedPnL: revenue.Sub(basis).InexactFloat64(),
	})
	return true
}

// consumeLots removes quantity shares from the oldest lots first and returns
// their combined acquisition cost. The caller has checked the position size.
func (l *Ledger) consumeLots(symbol string, quantity int) decimal.Decimal {
	basis := decimal.Zero
	lots := l.lots[symbol]
	remaining := quantity
	for remaining > 0 && len(lots) > 0 {
		take := lots[0].quantity
		if take > remaining {
			take = remaining
		}
		basis = basis.Add(lots[0].price.Mul(decimal.NewFromInt(int64(take))))
		remaining -= take
		lots[0].quantity -= take
		if lots[0].quantity == 0 {
			lots = lots[1:]
		}
	}
	l.lots[symbol] = lots
	return basis
}

// Position returns the held quantity of symbol, 0 when unheld.
func (l *Ledger) Position(symbol string) int { return l.positions[symbol] }

// Positions returns a copy of all held positions.
func (l *Ledger) Positions() map[string]int {
	out := make(map[string]int, len(l.positions))
	for s, q := range l.positions {
		out[s] = q
	}
	return out
}

// HeldSymbols returns the held symbols in sorted order.
func (l *Ledger) HeldSymbols() []string {
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Trades returns a copy of the trade log.
func (l *Ledger) Trades() []Trade {
	return append([]Trade(nil), l.trades...)
}

// Mark records the latest bar price of symbol for mark-to-market valuation.
func (l *Ledger) Mark(symbol string, price float64) {
	if validPrice(price) {
		l.marks[symbol] = price
	}
}

// MarkedValue values the held positions at their last marked prices.
func (l *Ledger) MarkedValue() float64 {
	total := decimal.Zero
	for _, symbol := range l.HeldSymbols() {
		px := decimal.NewFromFloat(l.marks[symbol])
		total = total.Add(px.Mul(decimal.NewFromInt(int64(l.positions[symbol]))))
	}
	return total.InexactFloat64()
}

// PositionsValue values the held positions at the live prices of the ledger's
// PriceSource, which may differ from the bar prices used while stepping.
func (l *Ledger) PositionsValue(ctx context.Context) (float64, error) {
	if len(l.positions) == 0 {
		return 0, nil
	}
	if l.prices == nil {
		return 0, fmt.Errorf("ledger has no price source")
	}
	total := decimal.Zero
	for _, symbol := range l.HeldSymbols() {
		price, err := l.prices.GetLatestPrice(ctx, symbol)
		if err != nil {
			return 0, fmt.Errorf("failed to get latest price of %s: %w", symbol, err)
		}
		total = total.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(l.positions[symbol]))))
	}
	return total.InexactFloat64(), nil
}

// TotalValue is cash plus PositionsValue.
func (l *Ledger) TotalValue(ctx context.Context) (float64, error) {
	pv, err := l.PositionsValue(ctx)
	if err != nil {
		return 0, err
	}
	return l.Cash() + pv, nil
}

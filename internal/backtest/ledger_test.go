package backtest

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLedger(cash float64) *Ledger {
	return NewLedger(cash, nil, zap.NewNop())
}

func TestLedger_Buy(t *testing.T) {
	l := newTestLedger(1_000_000)
	l.SetTime(time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC))

	ok := l.Buy("000001.SZ", 1000, 10)

	require.True(t, ok)
	assert.Equal(t, 990_000.0, l.Cash())
	assert.Equal(t, 1000, l.Position("000001.SZ"))
	require.Len(t, l.Trades(), 1)
	trade := l.Trades()[0]
	assert.Equal(t, DirectionBuy, trade.Direction)
	assert.Equal(t, 10_000.0, trade.Cost)
	assert.Equal(t, time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), trade.Time)
}

func TestLedger_InsufficientFunds(t *testing.T) {
	l := newTestLedger(100)

	ok := l.Buy("000001.SZ", 1000, 1.0)

	assert.False(t, ok)
	assert.Equal(t, 100.0, l.Cash())
	assert.NotContains(t, l.Positions(), "000001.SZ")
	assert.Empty(t, l.Trades())
}

func TestLedger_BuyExactlyAllCash(t *testing.T) {
	l := newTestLedger(100)

	assert.True(t, l.Buy("000001.SZ", 10, 10))
	assert.Equal(t, 0.0, l.Cash())
}

func TestLedger_Oversell(t *testing.T) {
	t.Run("Unheld", func(t *testing.T) {
		l := newTestLedger(1_000)

		assert.False(t, l.Sell("000001.SZ", 10, 5))
		assert.Equal(t, 1_000.0, l.Cash())
		assert.Empty(t, l.Positions())
		assert.Empty(t, l.Trades())
	})

	t.Run("UnderHeld", func(t *testing.T) {
		l := newTestLedger(1_000)
		require.True(t, l.Buy("000001.SZ", 5, 10))

		assert.False(t, l.Sell("000001.SZ", 10, 10))
		assert.Equal(t, 950.0, l.Cash())
		assert.Equal(t, 5, l.Position("000001.SZ"))
		assert.Len(t, l.Trades(), 1)
	})
}

func TestLedger_RejectsMalformedOrders(t *testing.T) {
	testCases := []struct {
		name     string
		quantity int
		price    float64
	}{
		{"ZeroQuantity", 0, 10},
		{"NegativeQuantity", -5, 10},
		{"ZeroPrice", 10, 0},
		{"NegativePrice", 10, -1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLedger(1_000)
			require.True(t, l.Buy("A", 10, 10))

			assert.False(t, l.Buy("A", tc.quantity, tc.price))
			assert.False(t, l.Sell("A", tc.quantity, tc.price))
			assert.Equal(t, 900.0, l.Cash())
			assert.Equal(t, 10, l.Position("A"))
		})
	}
}

func TestLedger_RoundTrip(t *testing.T) {
	l := newTestLedger(12_345.67)

	require.True(t, l.Buy("600036.SH", 300, 33.33))
	require.True(t, l.Sell("600036.SH", 300, 33.33))

	assert.Equal(t, 12_345.67, l.Cash())
	assert.Zero(t, l.Position("600036.SH"))
	assert.NotContains(t, l.Positions(), "600036.SH")
	assert.Empty(t, l.HeldSymbols())
}

func TestLedger_PartialSellKeepsPosition(t *testing.T) {
	l := newTestLedger(1_000)
	require.True(t, l.Buy("A", 10, 10))

	require.True(t, l.Sell("A", 4, 12))

	assert.Equal(t, 6, l.Position("A"))
	assert.Equal(t, 948.0, l.Cash())
}

func TestLedger_FIFOCostBasis(t *testing.T) {
	l := newTestLedger(10_000)
	require.True(t, l.Buy("A", 100, 10))
	require.True(t, l.Buy("A", 100, 12))

	require.True(t, l.Sell("A", 150, 11))

	sell := l.Trades()[2]
	assert.Equal(t, 1_650.0, sell.Revenue)
	assert.Equal(t, 1_600.0, sell.CostBasis, "100@10 then 50@12")
	assert.Equal(t, 50.0, sell.RealizedPnL)
	assert.True(t, sell.Profitable())

	require.True(t, l.Sell("A", 50, 11))
	last := l.Trades()[3]
	assert.Equal(t, 600.0, last.CostBasis)
	assert.False(t, last.Profitable())
}

func TestLedger_CopiesAreIsolated(t *testing.T) {
	l := newTestLedger(1_000)
	require.True(t, l.Buy("A", 1, 10))

	positions := l.Positions()
	positions["A"] = 99
	trades := l.Trades()
	trades[0].Quantity = 99

	assert.Equal(t, 1, l.Position("A"))
	assert.Equal(t, 1, l.Trades()[0].Quantity)
}

func TestLedger_MarkedValue(t *testing.T) {
	l := newTestLedger(1_000)
	require.True(t, l.Buy("A", 10, 10))
	require.True(t, l.Buy("B", 5, 20))

	l.Mark("A", 12)
	l.Mark("B", 0) // ignored

	assert.Equal(t, 220.0, l.MarkedValue())
}

func TestLedger_PositionsValue(t *testing.T) {
	t.Run("UsesLatestPrice", func(t *testing.T) {
		prices := new(MockDataSource)
		prices.On("GetLatestPrice", mock.Anything, "A").Return(11.0, nil)
		l := NewLedger(1_000, prices, zap.NewNop())
		require.True(t, l.Buy("A", 10, 10))

		value, err := l.PositionsValue(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 110.0, value)
		prices.AssertExpectations(t)
	})

	t.Run("PriceError", func(t *testing.T) {
		prices := new(MockDataSource)
		prices.On("GetLatestPrice", mock.Anything, "A").Return(0.0, ErrNoPrice)
		l := NewLedger(1_000, prices, zap.NewNop())
		require.True(t, l.Buy("A", 10, 10))

		_, err := l.TotalValue(context.Background())

		assert.True(t, errors.Is(err, ErrNoPrice))
	})

	t.Run("EmptyBookNeedsNoSource", func(t *testing.T) {
		l := newTestLedger(1_000)
		total, err := l.TotalValue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1_000.0, total)
	})
}

// TestLedger_RandomSequences checks conservation and non-negativity over
// random order flows: cash plus the acquisition cost of open lots only moves
// by realized P&L.
func TestLedger_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"A", "B", "C"}
	const initial = 50_000.0

	for run := 0; run < 20; run++ {
		l := newTestLedger(initial)
		for i := 0; i < 200; i++ {
			symbol := symbols[rng.Intn(len(symbols))]
			quantity := rng.Intn(500) - 50
			price := float64(rng.Intn(5000)+1) / 100
			if rng.Intn(2) == 0 {
				l.Buy(symbol, quantity, price)
			} else {
				l.Sell(symbol, quantity, price)
			}

			require.GreaterOrEqual(t, l.Cash(), 0.0)
			for s, q := range l.Positions() {
				require.Positive(t, q, "position %s", s)
			}
		}

		var openBasis, realized float64
		for _, tr := range l.Trades() {
			switch tr.Direction {
			case DirectionBuy:
				openBasis += tr.Cost
			case DirectionSell:
				openBasis -= tr.CostBasis
				realized += tr.RealizedPnL
			}
		}
		assert.InDelta(t, initial+realized, l.Cash()+openBasis, 1e-6)
	}
}

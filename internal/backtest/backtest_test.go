package backtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settledOrder(key, ticker, asset string, side domain.Side, price, cash float64, won bool, at time.Time) domain.Order {
	return domain.Order{
		IdempotencyKey: key,
		Ticker:         ticker,
		Asset:          asset,
		Side:           side,
		Count:          1,
		Price:          price,
		FillCount:      1,
		FillAvgPrice:   price,
		SubmittedAt:    at.Add(-2 * time.Hour),
		Settled:        true,
		SettledCount:   1,
		Won:            won,
		CashDelta:      cash,
		SettledAt:      &at,
		HoursToExpiry:  4,
	}
}

func bookOf(orders ...domain.Order) *ledger.Ledger {
	b := &ledger.Ledger{Orders: make(map[string]domain.Order)}
	for _, o := range orders {
		b.Orders[o.IdempotencyKey] = o
	}
	return b
}

func TestRun_WinLossScenario(t *testing.T) {
	now := time.Now()
	book := bookOf(
		settledOrder("a", "BTC-65K", "BTC", domain.SideYes, 0.40, 0.60, true, now.Add(-time.Hour)),
		settledOrder("b", "BTC-65K", "BTC", domain.SideYes, 0.40, -0.40, false, now.Add(-2*time.Hour)),
	)

	cfg := DefaultConfig()
	cfg.FeeBps = 0
	cfg.SlippageBps = 0
	cfg.Folds = 0
	rep := Run(book, cfg, now)

	assert.Equal(t, 2, rep.Overall.Trades)
	assert.InDelta(t, 0.5, rep.Overall.WinRate, 1e-12)
	assert.InDelta(t, 0.20, rep.Overall.PnLRaw, 1e-12)
	assert.InDelta(t, 0.20, rep.Overall.PnLAdjusted, 1e-12)
}

func TestRun_CostAssumptionsReduceAdjustedPnL(t *testing.T) {
	now := time.Now()
	book := bookOf(
		settledOrder("a", "BTC-65K", "BTC", domain.SideYes, 0.50, 0.50, true, now.Add(-time.Hour)),
	)

	cfg := DefaultConfig()
	cfg.FeeBps = 700
	cfg.SlippageBps = 300 // 10% of the $0.50 notional = $0.05
	cfg.Folds = 0
	rep := Run(book, cfg, now)

	assert.InDelta(t, 0.50, rep.Overall.PnLRaw, 1e-12)
	assert.InDelta(t, 0.45, rep.Overall.PnLAdjusted, 1e-12)
}

func TestRun_LookbackDiscardsOldSettlements(t *testing.T) {
	now := time.Now()
	book := bookOf(
		settledOrder("new", "BTC-65K", "BTC", domain.SideYes, 0.40, 0.60, true, now.Add(-time.Hour)),
		settledOrder("old", "BTC-65K", "BTC", domain.SideYes, 0.40, -0.40, false, now.Add(-90*24*time.Hour)),
	)

	cfg := DefaultConfig()
	cfg.Folds = 0
	rep := Run(book, cfg, now)

	assert.Equal(t, 1, rep.Overall.Trades)
	assert.Equal(t, 1, rep.Discarded)
}

func TestRun_Breakdowns(t *testing.T) {
	now := time.Now()
	book := bookOf(
		settledOrder("a", "BTC-65K", "BTC", domain.SideYes, 0.40, 0.60, true, now.Add(-3*time.Hour)),
		settledOrder("b", "ETH-4K", "ETH", domain.SideNo, 0.30, -0.30, false, now.Add(-2*time.Hour)),
	)

	cfg := DefaultConfig()
	cfg.FeeBps, cfg.SlippageBps, cfg.Folds = 0, 0, 0
	rep := Run(book, cfg, now)

	require.Contains(t, rep.ByAsset, "BTC")
	require.Contains(t, rep.ByAsset, "ETH")
	assert.Equal(t, 1, rep.ByAsset["BTC"].Wins)
	assert.Equal(t, 0, rep.ByAsset["ETH"].Wins)
	assert.Equal(t, 1, rep.BySide[string(domain.SideYes)].Trades)
	assert.Equal(t, 1, rep.BySide[string(domain.SideNo)].Trades)
	assert.Equal(t, 2, rep.ByTTE["2-8h"].Trades)
}

func TestWalkForward_RowAccounting(t *testing.T) {
	now := time.Now()
	var orders []domain.Order
	for i := 0; i < 10; i++ {
		won := i%2 == 0
		cash := 0.50
		if !won {
			cash = -0.50
		}
		orders = append(orders, settledOrder(
			fmt.Sprintf("o%d", i), "BTC-65K", "BTC", domain.SideYes,
			0.50, cash, won, now.Add(-time.Duration(20-i)*time.Hour)))
	}
	book := bookOf(orders...)

	cfg := DefaultConfig()
	cfg.Folds = 4 // 10/4 = 2 per fold, remainder 2 dropped
	rep := Run(book, cfg, now)

	require.Len(t, rep.Folds, 4)

	testRows := 0
	for _, f := range rep.Folds {
		assert.GreaterOrEqual(t, f.TrainRows, 0)
		assert.GreaterOrEqual(t, f.TestRows, 0)
		testRows += f.TestRows
	}
	assert.Equal(t, rep.Overall.Trades-2, testRows,
		"fold test rows sum to total minus the dropped remainder")

	// Fold 0 has nothing to train on; later folds train on all prior rows.
	assert.True(t, rep.Folds[0].Skipped)
	assert.False(t, rep.Folds[2].Skipped)
	assert.Equal(t, 4, rep.Folds[2].TrainRows)
	assert.Equal(t, 2, rep.Folds[2].TestRows)
	assert.InDelta(t, 0.5, rep.Folds[2].Test.WinRate, 1e-12)
}

func TestWalkForward_TinyLedgerSkipsFolds(t *testing.T) {
	now := time.Now()
	book := bookOf(
		settledOrder("a", "BTC-65K", "BTC", domain.SideYes, 0.40, 0.60, true, now.Add(-time.Hour)),
		settledOrder("b", "BTC-65K", "BTC", domain.SideYes, 0.40, -0.40, false, now.Add(-2*time.Hour)),
	)

	cfg := DefaultConfig()
	cfg.Folds = 4 // 2/4 = 0 per fold: every fold is empty and skipped
	rep := Run(book, cfg, now)

	for _, f := range rep.Folds {
		assert.True(t, f.Skipped)
		assert.Zero(t, f.TestRows)
	}
}

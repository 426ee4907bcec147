package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/adapters/storage"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Load(context.Background(), storage.NewMemStore())
	require.NoError(t, err)
	return l
}

func placedOrder(key, ticker string, side domain.Side, count int, price float64, at time.Time) domain.Order {
	return domain.Order{
		IdempotencyKey: key,
		VenueOrderID:   "v-" + key,
		Ticker:         ticker,
		Asset:          "BTC",
		Side:           side,
		Count:          count,
		Price:          price,
		SubmittedAt:    at,
		Shape:          domain.ShapeGreater,
		EdgeBps:        500,
		EffectiveBps:   350,
		FairProb:       0.62,
		HoursToExpiry:  6,
	}
}

func TestRecordPlacement_MergeNeverOverwrites(t *testing.T) {
	l := newLedger(t)
	now := time.Now()

	o := placedOrder("k1", "T1", domain.SideYes, 3, 0.55, now)
	l.RecordPlacement(o)

	// A replayed placement with different values must not clobber anything.
	replay := o
	replay.Price = 0.99
	replay.FillCount = 7
	l.RecordPlacement(replay)
	assert.Equal(t, 0.55, l.Orders["k1"].Price)
	assert.Equal(t, 0, l.Orders["k1"].FillCount)

	// But a merge does fill fields that were empty.
	l.Orders["k1"] = domain.Order{IdempotencyKey: "k1", Ticker: "T1", SubmittedAt: now}
	l.RecordPlacement(o)
	assert.Equal(t, domain.SideYes, l.Orders["k1"].Side)
	assert.Equal(t, 0.55, l.Orders["k1"].Price)
}

func TestConfirmFills_VWAP(t *testing.T) {
	l := newLedger(t)
	now := time.Now()
	l.RecordPlacement(placedOrder("k1", "T1", domain.SideYes, 5, 0.55, now))

	updated := l.ConfirmFills([]ports.Fill{
		{VenueOrderID: "v-k1", Count: 2, Price: 0.55},
		{VenueOrderID: "v-k1", Count: 3, Price: 0.54},
		{VenueOrderID: "v-other", Count: 9, Price: 0.10}, // not ours
	})
	assert.Equal(t, 1, updated)

	o := l.Orders["k1"]
	assert.Equal(t, 5, o.FillCount)
	assert.InDelta(t, (2*0.55+3*0.54)/5, o.FillAvgPrice, 1e-9)

	// Re-confirming the same fills is a no-op.
	assert.Equal(t, 0, l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-k1", Count: 2, Price: 0.55}, {VenueOrderID: "v-k1", Count: 3, Price: 0.54}}))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	l, err := Load(ctx, store)
	require.NoError(t, err)
	l.RecordPlacement(placedOrder("k1", "T1", domain.SideYes, 3, 0.55, time.Now().UTC()))
	require.NoError(t, l.Save(ctx, store))

	l2, err := Load(ctx, store)
	require.NoError(t, err)
	require.Len(t, l2.Orders, 1)
	assert.Equal(t, "T1", l2.Orders["k1"].Ticker)
}

func settle(ticker, result string, yes, no int) ports.SettlementRecord {
	raw := map[string]any{"ticker": ticker, "market_result": result}
	if yes > 0 {
		raw["yes_count"] = float64(yes)
	}
	if no > 0 {
		raw["no_count"] = float64(no)
	}
	return ports.SettlementRecord{Raw: raw}
}

func TestApplySettlements_WinAndLoss(t *testing.T) {
	l := newLedger(t)
	now := time.Now()

	l.RecordPlacement(placedOrder("k1", "T1", domain.SideYes, 3, 0.55, now))
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-k1", Count: 3, Price: 0.55}})
	l.RecordPlacement(placedOrder("k2", "T1", domain.SideNo, 2, 0.40, now))
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-k2", Count: 2, Price: 0.40}})

	touched := l.ApplySettlements([]ports.SettlementRecord{settle("T1", "yes", 3, 2)}, now)
	assert.Equal(t, 2, touched)

	yes := l.Orders["k1"]
	require.True(t, yes.Settled)
	assert.True(t, yes.Won)
	assert.InDelta(t, 3*(1-0.55), yes.CashDelta, 1e-9)

	no := l.Orders["k2"]
	require.True(t, no.Settled)
	assert.False(t, no.Won)
	assert.InDelta(t, -2*0.40, no.CashDelta, 1e-9)
}

func TestApplySettlements_DuplicateHashIsNoOp(t *testing.T) {
	l := newLedger(t)
	now := time.Now()

	l.RecordPlacement(placedOrder("k1", "T1", domain.SideYes, 3, 0.55, now))
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-k1", Count: 3, Price: 0.55}})

	rec := settle("T1", "yes", 3, 0)
	l.ApplySettlements([]ports.SettlementRecord{rec}, now)
	first := l.Orders["k1"]

	// Replaying the identical record must change nothing.
	touched := l.ApplySettlements([]ports.SettlementRecord{rec}, now.Add(time.Minute))
	assert.Equal(t, 0, touched)
	assert.Equal(t, first.SettledCount, l.Orders["k1"].SettledCount)
	assert.Equal(t, first.CashDelta, l.Orders["k1"].CashDelta)
}

func TestApplySettlements_FIFOSplit(t *testing.T) {
	l := newLedger(t)
	now := time.Now()

	// Two filled YES orders, oldest first; settlement covers only 4 of 6.
	l.RecordPlacement(placedOrder("old", "T1", domain.SideYes, 3, 0.50, now.Add(-time.Hour)))
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-old", Count: 3, Price: 0.50}})
	l.RecordPlacement(placedOrder("new", "T1", domain.SideYes, 3, 0.60, now))
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-new", Count: 3, Price: 0.60}})

	l.ApplySettlements([]ports.SettlementRecord{settle("T1", "yes", 4, 0)}, now)

	oldest := l.Orders["old"]
	assert.True(t, oldest.Settled, "oldest settles first")
	assert.Equal(t, 3, oldest.SettledCount)

	newest := l.Orders["new"]
	assert.False(t, newest.Settled, "partially covered order stays open")
	assert.Equal(t, 1, newest.SettledCount)
	assert.Equal(t, 2, newest.OpenFillCount())
	assert.InDelta(t, 1*(1-0.60), newest.CashDelta, 1e-9)
}

func TestApplySettlements_NeverExceedsFills(t *testing.T) {
	l := newLedger(t)
	now := time.Now()

	l.RecordPlacement(placedOrder("k1", "T1", domain.SideYes, 5, 0.50, now))
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-k1", Count: 2, Price: 0.50}})

	// Settlement claims 10 contracts; only 2 were actually filled.
	l.ApplySettlements([]ports.SettlementRecord{settle("T1", "yes", 10, 0)}, now)
	o := l.Orders["k1"]
	assert.Equal(t, 2, o.SettledCount)
	assert.InDelta(t, 2*(1-0.50), o.CashDelta, 1e-9)
}

func TestApplySettlements_UnattributableGoesToLog(t *testing.T) {
	l := newLedger(t)
	now := time.Now()

	recs := []ports.SettlementRecord{
		{Raw: map[string]any{"mystery": "payload"}},
		settle("UNKNOWN-TICKER", "yes", 2, 0),
	}
	touched := l.ApplySettlements(recs, now)
	assert.Equal(t, 0, touched)
	assert.Len(t, l.Unattributed, 2)
	assert.NotEmpty(t, l.DiagnosticSample)
}

func TestExtractors_PriceShapes(t *testing.T) {
	// Cent-like: 60 ≥ 50 → market resolved YES; a NO holder lost.
	facts, ok := extractPriceCents(map[string]any{
		"ticker": "T1", "side": "no", "count": float64(2), "settled_price": float64(60),
	})
	require.True(t, ok)
	require.Len(t, facts, 1)
	assert.True(t, facts[0].YesOutcome)
	assert.False(t, facts[0].Won())

	// Fractional: 0.2 < 0.5 → NO outcome; the NO holder won.
	facts, ok = extractPriceFraction(map[string]any{
		"ticker": "T1", "side": "no", "count": float64(2), "price": float64(0.2),
	})
	require.True(t, ok)
	assert.False(t, facts[0].YesOutcome)
	assert.True(t, facts[0].Won())

	// Cent extractor defers sub-1 values to the fractional shape.
	_, ok = extractPriceCents(map[string]any{
		"ticker": "T1", "side": "yes", "count": float64(1), "settled_price": float64(0.8),
	})
	assert.False(t, ok)
}

func TestPendingFillCheck_OnlyShortUnsettledOrders(t *testing.T) {
	l := newLedger(t)
	now := time.Now()

	l.RecordPlacement(placedOrder("rest", "T1", domain.SideYes, 3, 0.55, now))
	l.RecordPlacement(placedOrder("part", "T2", domain.SideYes, 4, 0.50, now))
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-part", Count: 2, Price: 0.50}})
	l.RecordPlacement(placedOrder("full", "T3", domain.SideYes, 2, 0.60, now))
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-full", Count: 2, Price: 0.60}})

	noAck := placedOrder("noack", "T4", domain.SideYes, 1, 0.30, now)
	noAck.VenueOrderID = ""
	l.RecordPlacement(noAck)

	// Resting and partially filled orders need re-checking; a fully filled
	// order and one the venue never acked do not.
	assert.Equal(t, []string{"v-part", "v-rest"}, l.PendingFillCheck())

	// Once the rest fills, it drops out of the check set.
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-rest", Count: 3, Price: 0.55}})
	assert.Equal(t, []string{"v-part"}, l.PendingFillCheck())

	// So does a settled order, filled short or not.
	l.ApplySettlements([]ports.SettlementRecord{settle("T2", "yes", 2, 0)}, now)
	assert.Empty(t, l.PendingFillCheck())
}

func TestBuildReport_SettledMetrics(t *testing.T) {
	l := newLedger(t)
	now := time.Now()

	// One win (+$0.60 at avg 0.40), one loss (-$0.40 at avg 0.40).
	win := placedOrder("w", "T1", domain.SideYes, 1, 0.40, now)
	win.FairProb = 0.70
	l.RecordPlacement(win)
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-w", Count: 1, Price: 0.40}})

	loss := placedOrder("l", "T2", domain.SideYes, 1, 0.40, now)
	loss.FairProb = 0.60
	l.RecordPlacement(loss)
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-l", Count: 1, Price: 0.40}})

	l.ApplySettlements([]ports.SettlementRecord{
		settle("T1", "yes", 1, 0),
		settle("T2", "no", 1, 0),
	}, now)

	r := l.BuildReport(now.Add(-time.Hour), now.Add(time.Hour))
	assert.Equal(t, 2, r.Placed)
	assert.Equal(t, 2, r.Filled)
	assert.Equal(t, 2, r.Settled)
	assert.InDelta(t, 0.5, r.WinRate, 1e-9)
	assert.InDelta(t, 0.60-0.40, r.PnL, 1e-9)
	// Brier = ((0.70-1)² + (0.60-0)²)/2
	assert.InDelta(t, (0.09+0.36)/2, r.Brier, 1e-9)
	assert.NotEmpty(t, r.ByShape)
	assert.NotEmpty(t, r.ByTTE)
}

func TestBuildReport_HedgeLegsCountInPnLOnly(t *testing.T) {
	l := newLedger(t)
	now := time.Now()

	// Calibrated primary: fair 0.70, won at avg 0.40.
	win := placedOrder("w", "T1", domain.SideYes, 1, 0.40, now)
	win.FairProb = 0.70
	l.RecordPlacement(win)
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-w", Count: 1, Price: 0.40}})

	// Hedge leg: no model prediction attached, won at avg 0.45. Its zero
	// FairProb would score (0-1)² = 1 if it leaked into the Brier mean.
	hedge := domain.Order{
		IdempotencyKey: "h",
		VenueOrderID:   "v-h",
		HedgeOf:        "w",
		Ticker:         "T2",
		Asset:          "BTC",
		Side:           domain.SideNo,
		Count:          1,
		Price:          0.45,
		SubmittedAt:    now,
		Shape:          domain.ShapeGreater,
	}
	l.RecordPlacement(hedge)
	l.ConfirmFills([]ports.Fill{{VenueOrderID: "v-h", Count: 1, Price: 0.45}})

	l.ApplySettlements([]ports.SettlementRecord{
		settle("T1", "yes", 1, 0),
		settle("T2", "no", 0, 1),
	}, now)
	require.True(t, l.Orders["h"].Settled)

	r := l.BuildReport(now.Add(-time.Hour), now.Add(time.Hour))

	// Calibration aggregates see the primary alone.
	assert.Equal(t, 1, r.Placed)
	assert.Equal(t, 1, r.Filled)
	assert.Equal(t, 1, r.Settled)
	assert.InDelta(t, 1.0, r.WinRate, 1e-9)
	assert.InDelta(t, 0.70, r.AvgImplied, 1e-9)
	assert.InDelta(t, 0.09, r.Brier, 1e-9)
	assert.InDelta(t, 0.70, r.AvgFairProb, 1e-9)

	// Realized dollars include both legs.
	assert.InDelta(t, (1-0.40)+(1-0.45), r.PnL, 1e-9)

	// Buckets are calibration views too; the hedge stays out of them.
	assert.Equal(t, 1, r.ByShape[string(domain.ShapeGreater)].Settled)
}

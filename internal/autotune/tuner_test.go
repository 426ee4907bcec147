package autotune

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/adapters/storage"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTuner(t *testing.T) (*Tuner, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	tn, err := Load(context.Background(), store, DefaultConfig())
	require.NoError(t, err)
	return tn, store
}

// report builds a closed-loop report with the fields the tuner reads.
func report(settled int, winRate, implied, brier, pnl float64) ledger.Report {
	return ledger.Report{
		Settled:    settled,
		Wins:       int(winRate * float64(settled)),
		WinRate:    winRate,
		AvgImplied: implied,
		Brier:      brier,
		PnL:        pnl,
	}
}

func TestLoad_FirstRunIsStableChampion(t *testing.T) {
	tn, _ := newTuner(t)
	assert.Equal(t, PhaseStable, tn.State().Phase)
	assert.Equal(t, domain.DefaultTradingParams(), tn.Active())
	assert.Nil(t, tn.State().Challenger)
}

func TestStep_NoStagingOnThinSample(t *testing.T) {
	tn, _ := newTuner(t)
	// Terrible numbers, but only 10 settled trades.
	ev, err := tn.Step(context.Background(), report(10, 0.30, 0.80, 0.5, -5), ledger.Report{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, ev)
	assert.Equal(t, PhaseStable, tn.State().Phase)
}

func TestStep_CooldownBlocksRestaging(t *testing.T) {
	tn, _ := newTuner(t)
	now := time.Now()
	bad := report(40, 0.40, 0.70, 0.4, -3)

	ev, err := tn.Step(context.Background(), bad, ledger.Report{}, now)
	require.NoError(t, err)
	assert.Equal(t, "staged", ev)

	// Roll back quickly, then try to stage again inside the cooldown.
	breach := report(10, 0.10, 0.70, 0.6, -4)
	ev, err = tn.Step(context.Background(), bad, breach, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", ev)

	ev, err = tn.Step(context.Background(), bad, ledger.Report{}, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ev, "cooldown since the rollback must hold")

	ev, err = tn.Step(context.Background(), bad, ledger.Report{}, now.Add(80*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "staged", ev)
}

func TestPropose_NegativePnLRaisesPersistenceAndEdge(t *testing.T) {
	tn, _ := newTuner(t)
	champ := domain.DefaultTradingParams()
	// Win rate in line with implied so the calibration rule stays quiet.
	cand, changes := tn.Propose(champ, report(40, 0.70, 0.70, 0.2, -2))

	require.Len(t, changes, 2)
	assert.Equal(t, champ.PersistCycles+1, cand.PersistCycles)
	assert.Equal(t, champ.MinEdgeBps+50, cand.MinEdgeBps)
	assert.Equal(t, champ.BufferBps, cand.BufferBps)
}

func TestPropose_CalibrationFailureRaisesBuffer(t *testing.T) {
	tn, _ := newTuner(t)
	champ := domain.DefaultTradingParams()
	// Winning money overall, but win rate well below what the model implied.
	cand, changes := tn.Propose(champ, report(40, 0.55, 0.72, 0.2, 1.5))

	require.Len(t, changes, 1)
	assert.Equal(t, "buffer_bps", changes[0].Param)
	assert.Equal(t, champ.BufferBps+50, cand.BufferBps)
}

func TestPropose_NeverMoreThanTwoChanges(t *testing.T) {
	tn, _ := newTuner(t)
	// Every rule fires: bad calibration, high brier, negative pnl.
	_, changes := tn.Propose(domain.DefaultTradingParams(), report(60, 0.30, 0.80, 0.5, -8))
	assert.LessOrEqual(t, len(changes), 2)
}

func TestPropose_OutperformanceLowersEdgeCautiously(t *testing.T) {
	tn, _ := newTuner(t)
	champ := domain.DefaultTradingParams()

	// Needs twice the staging sample.
	_, changes := tn.Propose(champ, report(40, 0.80, 0.70, 0.1, 4))
	assert.Empty(t, changes)

	cand, changes := tn.Propose(champ, report(70, 0.80, 0.70, 0.1, 4))
	require.Len(t, changes, 1)
	assert.Equal(t, "min_edge_bps", changes[0].Param)
	assert.Equal(t, champ.MinEdgeBps-50, cand.MinEdgeBps)
}

func TestPropose_NoChangeAtBound(t *testing.T) {
	cfg := DefaultConfig()
	tn := &Tuner{cfg: cfg}
	champ := domain.TradingParams{
		MinEdgeBps:    cfg.Bounds.MinEdgeBpsHigh,
		BufferBps:     cfg.Bounds.BufferBpsHigh,
		PersistCycles: cfg.Bounds.PersistHigh,
	}
	// All raise-rules fire but every parameter is already pinned.
	cand, changes := tn.Propose(champ, report(60, 0.30, 0.80, 0.5, -8))
	assert.Empty(t, changes)
	assert.Equal(t, champ, cand)
}

func TestEvaluate_PromotesAfterCleanSample(t *testing.T) {
	tn, _ := newTuner(t)
	now := time.Now()
	bad := report(40, 0.40, 0.70, 0.35, -3)

	ev, err := tn.Step(context.Background(), bad, ledger.Report{}, now)
	require.NoError(t, err)
	require.Equal(t, "staged", ev)
	staged := *tn.State().Challenger
	assert.Equal(t, staged, tn.Active(), "trading runs under the challenger while evaluating")

	// Challenger window matches baseline tolerances and reaches the sample.
	window := report(20, 0.42, 0.70, 0.33, -1)
	ev, err = tn.Step(context.Background(), bad, window, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "promoted", ev)
	assert.Equal(t, PhaseStable, tn.State().Phase)
	assert.Equal(t, staged, tn.State().Champion)
	assert.Nil(t, tn.State().Challenger)
}

func TestEvaluate_BreachRollsBackAndRestoresChampion(t *testing.T) {
	tn, _ := newTuner(t)
	now := time.Now()
	champ := tn.State().Champion
	bad := report(40, 0.50, 0.70, 0.25, -3)

	_, err := tn.Step(context.Background(), bad, ledger.Report{}, now)
	require.NoError(t, err)

	// Challenger window loses much harder per trade than the baseline.
	window := report(8, 0.20, 0.70, 0.30, -4)
	ev, err := tn.Step(context.Background(), bad, window, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", ev)
	assert.Equal(t, champ, tn.State().Champion)
	assert.Equal(t, champ, tn.Active())

	last := tn.State().History[len(tn.State().History)-1]
	assert.Equal(t, "rolled_back", last.Event)
}

func TestEvaluate_WaitsForMinimumBreachSample(t *testing.T) {
	tn, _ := newTuner(t)
	now := time.Now()
	bad := report(40, 0.50, 0.70, 0.25, -3)
	_, err := tn.Step(context.Background(), bad, ledger.Report{}, now)
	require.NoError(t, err)

	// Catastrophic but only 2 settled outcomes: too noisy to act on.
	window := report(2, 0.0, 0.70, 0.9, -2)
	ev, err := tn.Step(context.Background(), bad, window, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ev)
	assert.Equal(t, PhaseEvaluating, tn.State().Phase)
}

func TestState_SurvivesReload(t *testing.T) {
	tn, store := newTuner(t)
	now := time.Now()
	_, err := tn.Step(context.Background(), report(40, 0.40, 0.70, 0.35, -3), ledger.Report{}, now)
	require.NoError(t, err)

	reloaded, err := Load(context.Background(), store, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, PhaseEvaluating, reloaded.State().Phase)
	require.NotNil(t, reloaded.State().Challenger)
	assert.Equal(t, tn.Active(), reloaded.Active())
}

// TestPropose_BoundsHoldForAnyInput feeds the proposer a sweep of hostile
// report sequences, recycling each candidate as the next champion, and checks
// the documented bounds are never escaped.
func TestPropose_BoundsHoldForAnyInput(t *testing.T) {
	cfg := DefaultConfig()
	tn := &Tuner{cfg: cfg}

	params := domain.DefaultTradingParams()
	winRates := []float64{0, 0.2, 0.5, 0.7, 0.95}
	implieds := []float64{0.5, 0.7, 0.9}
	briers := []float64{0.05, 0.3, 0.9}
	pnls := []float64{-50, -0.01, 0, 0.01, 50}

	for round := 0; round < 30; round++ {
		for _, wr := range winRates {
			for _, im := range implieds {
				for _, br := range briers {
					for _, pnl := range pnls {
						cand, changes := tn.Propose(params, report(100, wr, im, br, pnl))
						require.True(t, cfg.Bounds.WithinBounds(cand),
							"escaped bounds: %+v via %+v", cand, changes)
						params = cand
					}
				}
			}
		}
	}
}

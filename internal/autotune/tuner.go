package autotune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ledger"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const (
	tuningDoc = "autotune/state"

	maxHistory = 40
)

// Phase is the tuner's position in the champion/challenger lifecycle.
type Phase string

const (
	PhaseStable     Phase = "stable"
	PhaseEvaluating Phase = "evaluating"
)

// Bounds clamp every parameter the tuner is allowed to touch. A staged value
// outside these ranges is a bug, not an aggressive proposal.
type Bounds struct {
	MinEdgeBpsLow   float64
	MinEdgeBpsHigh  float64
	BufferBpsLow    float64
	BufferBpsHigh   float64
	PersistLow      int
	PersistHigh     int
}

// Config holds the tuner's staging and evaluation knobs.
type Config struct {
	// MinSettledSample gates staging: never propose changes off thin data.
	MinSettledSample int
	// MinCooldown is the minimum time since the last promote/rollback/stage
	// before another challenger may be staged.
	MinCooldown time.Duration
	// EvalSample is how many settled outcomes the challenger must collect
	// before promotion.
	EvalSample int
	// MinBreachSample is the smallest challenger sample on which an
	// unfavorable breach is trusted enough to roll back early.
	MinBreachSample int

	// Step sizes for bounded proposals.
	EdgeStepBps   float64
	BufferStepBps float64

	// Evaluation tolerances vs the champion baseline.
	PerTradePnLTol float64 // challenger per-trade P/L may lag baseline by this much
	WinRateTol     float64
	BrierTol       float64

	// Directional-rule thresholds.
	WinRateShortfall float64 // win rate this far below implied raises the buffer
	HighBrier        float64
	OutperformMargin float64 // win rate this far above implied may lower the edge floor

	Bounds Bounds

	// Seed is the champion used on first run, before any tuning document
	// exists. Zero falls back to domain.DefaultTradingParams.
	Seed domain.TradingParams
}

// DefaultConfig returns the production tuning policy.
func DefaultConfig() Config {
	return Config{
		MinSettledSample: 30,
		MinCooldown:      72 * time.Hour,
		EvalSample:       20,
		MinBreachSample:  6,
		EdgeStepBps:      50,
		BufferStepBps:    50,
		PerTradePnLTol:   0.02,
		WinRateTol:       0.05,
		BrierTol:         0.03,
		WinRateShortfall: 0.05,
		HighBrier:        0.30,
		OutperformMargin: 0.03,
		Bounds: Bounds{
			MinEdgeBpsLow:  200,
			MinEdgeBpsHigh: 800,
			BufferBpsLow:   100,
			BufferBpsHigh:  400,
			PersistLow:     1,
			PersistHigh:    4,
		},
	}
}

// Baseline snapshots champion performance at staging time. The challenger is
// judged against these numbers, not against a moving target.
type Baseline struct {
	Settled     int     `json:"settled"`
	WinRate     float64 `json:"win_rate"`
	AvgImplied  float64 `json:"avg_implied"`
	Brier       float64 `json:"brier"`
	PerTradePnL float64 `json:"per_trade_pnl"`
}

// Change is one bounded parameter adjustment inside a staging proposal.
type Change struct {
	Param  string  `json:"param"`
	From   float64 `json:"from"`
	To     float64 `json:"to"`
	Reason string  `json:"reason"`
}

// Transition is one lifecycle event kept for the status payload.
type Transition struct {
	At      time.Time `json:"at"`
	Event   string    `json:"event"` // staged | promoted | rolled_back
	Detail  string    `json:"detail,omitempty"`
	Changes []Change  `json:"changes,omitempty"`
}

// State is the durable tuning document.
type State struct {
	Phase      Phase                 `json:"phase"`
	Champion   domain.TradingParams  `json:"champion"`
	Challenger *domain.TradingParams `json:"challenger,omitempty"`
	Baseline   Baseline              `json:"baseline"`
	StagedAt   time.Time             `json:"staged_at,omitempty"`
	LastChange time.Time             `json:"last_change,omitempty"`
	History    []Transition          `json:"history,omitempty"`
}

// Tuner runs the champion/challenger parameter lifecycle off the closed-loop
// report. It owns the tuning document and persists every transition.
type Tuner struct {
	cfg   Config
	store ports.DocumentStore
	state *State
}

// Load reads the tuning document, seeding a stable champion with defaults on
// first run or when the persisted state is malformed.
func Load(ctx context.Context, store ports.DocumentStore, cfg Config) (*Tuner, error) {
	st := &State{}
	err := store.Load(ctx, tuningDoc, st)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		st = &State{Phase: PhaseStable, Champion: cfg.Seed}
	case err != nil:
		return nil, fmt.Errorf("autotune.Load: %w", err)
	}
	if st.Phase == "" {
		st.Phase = PhaseStable
	}
	if st.Champion == (domain.TradingParams{}) {
		st.Champion = domain.DefaultTradingParams()
	}
	return &Tuner{cfg: cfg, store: store, state: st}, nil
}

// Active returns the parameter set trading should run under this cycle: the
// challenger while one is under evaluation, the champion otherwise.
func (t *Tuner) Active() domain.TradingParams {
	if t.state.Phase == PhaseEvaluating && t.state.Challenger != nil {
		return *t.state.Challenger
	}
	return t.state.Champion
}

// State exposes the current tuning state for the status payload.
func (t *Tuner) State() *State {
	return t.state
}

// Step advances the lifecycle once per cycle. overall is the closed-loop
// report across the full window; window covers only outcomes settled since the
// challenger was staged (ignored while stable). Returns the event taken, if
// any ("staged", "promoted", "rolled_back", "").
func (t *Tuner) Step(ctx context.Context, overall, window ledger.Report, now time.Time) (string, error) {
	switch t.state.Phase {
	case PhaseEvaluating:
		return t.evaluate(ctx, window, now)
	default:
		return t.maybeStage(ctx, overall, now)
	}
}

// maybeStage proposes a bounded challenger when the directional rules fire
// and the staging preconditions hold.
func (t *Tuner) maybeStage(ctx context.Context, overall ledger.Report, now time.Time) (string, error) {
	if overall.Settled < t.cfg.MinSettledSample {
		return "", nil
	}
	if !t.state.LastChange.IsZero() && now.Sub(t.state.LastChange) < t.cfg.MinCooldown {
		return "", nil
	}

	candidate, changes := t.Propose(t.state.Champion, overall)
	if len(changes) == 0 {
		return "", nil
	}

	t.state.Phase = PhaseEvaluating
	t.state.Challenger = &candidate
	t.state.Baseline = Baseline{
		Settled:     overall.Settled,
		WinRate:     overall.WinRate,
		AvgImplied:  overall.AvgImplied,
		Brier:       overall.Brier,
		PerTradePnL: overall.PerTradePnL(),
	}
	t.state.StagedAt = now
	t.state.LastChange = now
	t.record(Transition{At: now, Event: "staged", Changes: changes})

	for _, ch := range changes {
		slog.Info("tune: staging challenger",
			"param", ch.Param, "from", ch.From, "to", ch.To, "reason", ch.Reason)
	}
	return "staged", t.save(ctx)
}

// Propose applies the directional rules to the champion and returns the
// candidate plus the change list. At most two parameters move, each clamped
// to its bound. Pure; exported for the backtester's what-if reporting.
func (t *Tuner) Propose(champion domain.TradingParams, r ledger.Report) (domain.TradingParams, []Change) {
	c := champion
	var changes []Change
	b := t.cfg.Bounds

	push := func(param, reason string, from, to float64) bool {
		if len(changes) >= 2 || to == from {
			return false
		}
		changes = append(changes, Change{Param: param, From: from, To: to, Reason: reason})
		return true
	}

	// Calibration failure: model says we should win more than we do, or the
	// probability estimates themselves are poor. Widen the uncertainty buffer.
	if r.WinRate < r.AvgImplied-t.cfg.WinRateShortfall || r.Brier > t.cfg.HighBrier {
		to := clampF(c.BufferBps+t.cfg.BufferStepBps, b.BufferBpsLow, b.BufferBpsHigh)
		if push("buffer_bps", "win rate below implied or high brier", c.BufferBps, to) {
			c.BufferBps = to
		}
	}

	// Losing money: demand more edge and more persistence before acting.
	if r.PerTradePnL() < 0 {
		to := float64(clampI(c.PersistCycles+1, b.PersistLow, b.PersistHigh))
		if push("persist_cycles", "negative per-trade pnl", float64(c.PersistCycles), to) {
			c.PersistCycles = int(to)
		}
		toEdge := clampF(c.MinEdgeBps+t.cfg.EdgeStepBps, b.MinEdgeBpsLow, b.MinEdgeBpsHigh)
		if push("min_edge_bps", "negative per-trade pnl", c.MinEdgeBps, toEdge) {
			c.MinEdgeBps = toEdge
		}
	}

	// Sustained outperformance on an adequate sample: cautiously loosen.
	if len(changes) == 0 &&
		r.Settled >= 2*t.cfg.MinSettledSample &&
		r.PerTradePnL() > 0 &&
		r.WinRate > r.AvgImplied+t.cfg.OutperformMargin {
		to := clampF(c.MinEdgeBps-t.cfg.EdgeStepBps, b.MinEdgeBpsLow, b.MinEdgeBpsHigh)
		if push("min_edge_bps", "sustained outperformance", c.MinEdgeBps, to) {
			c.MinEdgeBps = to
		}
	}

	return c, changes
}

// evaluate compares the challenger window against the champion baseline and
// promotes or rolls back.
func (t *Tuner) evaluate(ctx context.Context, window ledger.Report, now time.Time) (string, error) {
	if t.state.Challenger == nil {
		// Malformed state: recover to stable rather than wedging.
		t.state.Phase = PhaseStable
		return "", t.save(ctx)
	}
	if window.Settled < t.cfg.MinBreachSample {
		return "", nil
	}

	if breach := t.breach(window); breach != "" {
		champion := t.state.Champion
		t.rollback(now, breach)
		slog.Warn("tune: challenger rolled back",
			"breach", breach, "restored_min_edge_bps", champion.MinEdgeBps)
		return "rolled_back", t.save(ctx)
	}

	if window.Settled < t.cfg.EvalSample {
		return "", nil
	}

	t.state.Champion = *t.state.Challenger
	t.state.Challenger = nil
	t.state.Phase = PhaseStable
	t.state.LastChange = now
	t.record(Transition{At: now, Event: "promoted",
		Detail: fmt.Sprintf("settled=%d win_rate=%.2f per_trade_pnl=%.3f",
			window.Settled, window.WinRate, window.PerTradePnL())})
	slog.Info("tune: challenger promoted",
		"min_edge_bps", t.state.Champion.MinEdgeBps,
		"buffer_bps", t.state.Champion.BufferBps,
		"persist_cycles", t.state.Champion.PersistCycles)
	return "promoted", t.save(ctx)
}

// breach names the first tolerance the challenger window violates, or "".
func (t *Tuner) breach(window ledger.Report) string {
	base := t.state.Baseline
	if window.PerTradePnL() < base.PerTradePnL-t.cfg.PerTradePnLTol {
		return "per_trade_pnl"
	}
	if window.WinRate < base.WinRate-t.cfg.WinRateTol {
		return "win_rate"
	}
	if window.Brier > base.Brier+t.cfg.BrierTol {
		return "brier"
	}
	return ""
}

func (t *Tuner) rollback(now time.Time, breach string) {
	t.state.Challenger = nil
	t.state.Phase = PhaseStable
	t.state.LastChange = now
	t.record(Transition{At: now, Event: "rolled_back", Detail: breach})
}

func (t *Tuner) record(tr Transition) {
	t.state.History = append(t.state.History, tr)
	if len(t.state.History) > maxHistory {
		t.state.History = t.state.History[len(t.state.History)-maxHistory:]
	}
}

// save atomically replaces the tuning document.
func (t *Tuner) save(ctx context.Context) error {
	if err := t.store.Save(ctx, tuningDoc, t.state); err != nil {
		return fmt.Errorf("autotune.save: %w", err)
	}
	return nil
}

// WithinBounds reports whether a parameter set respects the documented
// bounds. Used as a hard invariant check in tests and the status command.
func (b Bounds) WithinBounds(p domain.TradingParams) bool {
	return p.MinEdgeBps >= b.MinEdgeBpsLow && p.MinEdgeBps <= b.MinEdgeBpsHigh &&
		p.BufferBps >= b.BufferBpsLow && p.BufferBps <= b.BufferBpsHigh &&
		p.PersistCycles >= b.PersistLow && p.PersistCycles <= b.PersistHigh
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

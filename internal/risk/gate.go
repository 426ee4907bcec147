package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// killSwitchDoc is the artifact whose presence halts all trading. Only an
// operator removes it.
const killSwitchDoc = "risk/kill_switch"

// Status is the safety state machine's position for the current cycle.
type Status string

const (
	StatusIdle            Status = "IDLE"
	StatusBlockedKill     Status = "BLOCKED_KILL"
	StatusBlockedCooldown Status = "BLOCKED_COOLDOWN"
	StatusEvaluating      Status = "EVALUATING"
	StatusOrdering        Status = "ORDERING"
	StatusSkippedBudget   Status = "SKIPPED_BUDGET"
	StatusSubmitted       Status = "SUBMITTED"
)

// KillSwitch is what gets written when the switch trips, so the operator can
// see why trading stopped.
type KillSwitch struct {
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	Auto      bool      `json:"auto"` // true when escalation tripped it
}

// Config holds the risk gate's capital-safety knobs.
type Config struct {
	MaxOrderNotional  float64 // dollars per order
	MaxMarketNotional float64 // cumulative dollars per ticker
	MaxRunNotional    float64 // dollars per run day
	MaxOpenPerTicker  int     // open-position stacking cap

	PersistWindow time.Duration // trailing window for the persistence gate

	EscalationWindow int // trailing cycles examined
	EscalationErrors int // errored cycles within the window that trip the switch

	DrawdownThrottleLoss float64 // trailing realized loss that halves sizing
}

// DefaultConfig returns production safety limits.
func DefaultConfig() Config {
	return Config{
		MaxOrderNotional:     25,
		MaxMarketNotional:    50,
		MaxRunNotional:       150,
		MaxOpenPerTicker:     2,
		PersistWindow:        45 * time.Minute,
		EscalationWindow:     5,
		EscalationErrors:     3,
		DrawdownThrottleLoss: -20,
	}
}

// Gate enforces the kill switch, cooldown, persistence gating, notional caps
// and error escalation.
type Gate struct {
	cfg   Config
	store ports.DocumentStore
	state *State
}

// NewGate wraps the loaded risk state with the gate's policy.
func NewGate(cfg Config, store ports.DocumentStore, state *State) *Gate {
	return &Gate{cfg: cfg, store: store, state: state}
}

// State exposes the underlying risk state for persistence by the cycle.
func (g *Gate) State() *State {
	return g.state
}

// Check returns the gate-level status for this cycle. Anything other than
// StatusEvaluating short-circuits the whole cycle.
func (g *Gate) Check(ctx context.Context, now time.Time) (Status, error) {
	present, err := g.store.Exists(ctx, killSwitchDoc)
	if err != nil {
		return StatusBlockedKill, fmt.Errorf("risk.Check: kill switch probe: %w", err)
	}
	if present {
		return StatusBlockedKill, nil
	}
	if now.Before(g.state.CooldownUntil) {
		return StatusBlockedCooldown, nil
	}
	return StatusEvaluating, nil
}

// TripKillSwitch creates the kill-switch artifact. Idempotent.
func (g *Gate) TripKillSwitch(ctx context.Context, reason string, auto bool) error {
	ks := KillSwitch{Reason: reason, CreatedAt: time.Now().UTC(), Auto: auto}
	if err := g.store.Save(ctx, killSwitchDoc, ks); err != nil {
		return fmt.Errorf("risk.TripKillSwitch: %w", err)
	}
	slog.Error("risk: KILL SWITCH CREATED — trading halted until operator removes it",
		"reason", reason, "auto", auto)
	return nil
}

// ClearKillSwitch removes the artifact. Operator action only.
func (g *Gate) ClearKillSwitch(ctx context.Context) error {
	return g.store.Delete(ctx, killSwitchDoc)
}

// PersistenceCleared reports whether (ticker, side) has cleared the minimum
// edge at least params.PersistCycles times within the trailing window.
func (g *Gate) PersistenceCleared(ticker string, side domain.Side, params domain.TradingParams, now time.Time) bool {
	n := g.state.ClearCount(ticker, side, params.MinEdgeBps, g.cfg.PersistWindow, now)
	return n >= params.PersistCycles
}

// AllowNotional checks an order's notional against per-order, per-market and
// per-run caps plus the stacking cap. Returns a named refusal reason;
// policy-blocked is not an error.
func (g *Gate) AllowNotional(ticker string, notional float64, openOnTicker int) (bool, string) {
	if notional <= 0 {
		return false, "zero_notional"
	}
	if notional > g.cfg.MaxOrderNotional {
		return false, "order_cap"
	}
	if g.state.MarketNotional[ticker]+notional > g.cfg.MaxMarketNotional {
		return false, "market_cap"
	}
	if g.state.RunNotional+notional > g.cfg.MaxRunNotional {
		return false, "run_cap"
	}
	if openOnTicker >= g.cfg.MaxOpenPerTicker {
		return false, "stacking_cap"
	}
	return true, ""
}

// RemainingRunBudget returns uncommitted run-notional dollars.
func (g *Gate) RemainingRunBudget() float64 {
	rem := g.cfg.MaxRunNotional - g.state.RunNotional
	if rem < 0 {
		return 0
	}
	return rem
}

// ThrottleFactor halves sizing after a trailing realized loss breaches the
// drawdown threshold.
func (g *Gate) ThrottleFactor(trailingPnL float64) float64 {
	if g.cfg.DrawdownThrottleLoss < 0 && trailingPnL <= g.cfg.DrawdownThrottleLoss {
		return 0.5
	}
	return 1
}

// FinishCycle records the cycle's health and trips the kill switch when too
// many recent cycles errored. A clean cycle resets the escalation window.
func (g *Gate) FinishCycle(ctx context.Context, h CycleHealth) error {
	g.state.RecordCycle(h)

	if h.Clean() {
		// Reset: escalation only counts consecutive windows of trouble.
		g.state.Cycles = []CycleHealth{h}
		return nil
	}

	window := g.state.Cycles
	if len(window) > g.cfg.EscalationWindow {
		window = window[len(window)-g.cfg.EscalationWindow:]
	}
	errored := 0
	for _, c := range window {
		if !c.Clean() {
			errored++
		}
	}
	if errored >= g.cfg.EscalationErrors {
		reason := fmt.Sprintf("%d errored cycles within last %d", errored, g.cfg.EscalationWindow)
		return g.TripKillSwitch(ctx, reason, true)
	}
	return nil
}

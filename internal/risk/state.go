package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const (
	stateDoc = "risk/state"

	maxCycleHistory = 50
	maxEdgeObs      = 2000
)

// EdgeObs is one recorded observation of a side clearing (or not) the edge
// minimum. The persistence gate counts clears in a trailing window.
type EdgeObs struct {
	Ticker       string      `json:"ticker"`
	Side         domain.Side `json:"side"`
	EffectiveBps float64     `json:"effective_bps"`
	At           time.Time   `json:"at"`
}

// CycleHealth summarizes one finished cycle for the escalation window.
type CycleHealth struct {
	At            time.Time `json:"at"`
	Errors        int       `json:"errors"`
	OrderFailures int       `json:"order_failures"`
}

// Clean reports whether the cycle completed without errors.
func (c CycleHealth) Clean() bool {
	return c.Errors == 0 && c.OrderFailures == 0
}

// State is the durable risk document. Exclusively owned by the lock-holding
// cycle and persisted via atomic replace, same discipline as the ledger.
type State struct {
	MarketNotional map[string]float64 `json:"market_notional"` // ticker → committed dollars
	RunNotional    float64            `json:"run_notional"`
	RunDate        string             `json:"run_date"` // YYYY-MM-DD the run budget belongs to
	CooldownUntil  time.Time          `json:"cooldown_until"`
	Cycles         []CycleHealth      `json:"cycles"`
	EdgeObs        []EdgeObs          `json:"edge_obs"`
}

// LoadState reads the risk document, returning a fresh state when none exists
// or the persisted one is malformed (validation errors tolerate and fall back).
func LoadState(ctx context.Context, store ports.DocumentStore) (*State, error) {
	st := &State{}
	err := store.Load(ctx, stateDoc, st)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		// first run
	case err != nil:
		return nil, fmt.Errorf("risk.LoadState: %w", err)
	}
	if st.MarketNotional == nil {
		st.MarketNotional = make(map[string]float64)
	}
	return st, nil
}

// Save atomically replaces the risk document.
func (s *State) Save(ctx context.Context, store ports.DocumentStore) error {
	if err := store.Save(ctx, stateDoc, s); err != nil {
		return fmt.Errorf("risk.Save: %w", err)
	}
	return nil
}

// ResetRunBudget zeroes the run notional when the run date rolls over.
func (s *State) ResetRunBudget(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if s.RunDate != day {
		s.RunDate = day
		s.RunNotional = 0
	}
}

// RecordEdge appends an edge observation, trimming the log to its bound.
func (s *State) RecordEdge(obs EdgeObs) {
	s.EdgeObs = append(s.EdgeObs, obs)
	if len(s.EdgeObs) > maxEdgeObs {
		s.EdgeObs = s.EdgeObs[len(s.EdgeObs)-maxEdgeObs:]
	}
}

// ClearCount counts observations for (ticker, side) whose effective edge
// cleared minEdge within the trailing window ending at now.
func (s *State) ClearCount(ticker string, side domain.Side, minEdge float64, window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	n := 0
	for _, o := range s.EdgeObs {
		if o.Ticker != ticker || o.Side != side {
			continue
		}
		if o.At.Before(cutoff) || o.EffectiveBps < minEdge {
			continue
		}
		n++
	}
	return n
}

// RecordCycle appends a cycle health entry, trimming to the bound.
func (s *State) RecordCycle(h CycleHealth) {
	s.Cycles = append(s.Cycles, h)
	if len(s.Cycles) > maxCycleHistory {
		s.Cycles = s.Cycles[len(s.Cycles)-maxCycleHistory:]
	}
}

// ExtendCooldown moves the cooldown expiry forward. A shorter cooldown never
// silently shrinks an active one.
func (s *State) ExtendCooldown(until time.Time) {
	if until.After(s.CooldownUntil) {
		s.CooldownUntil = until
	}
}

// Commit records confirmed notional against the ticker and run budgets.
func (s *State) Commit(ticker string, notional float64) {
	s.MarketNotional[ticker] += notional
	s.RunNotional += notional
}

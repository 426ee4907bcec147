package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/autotune"
	"github.com/alejandrodnm/kalshibot/internal/decision"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/execution"
	"github.com/alejandrodnm/kalshibot/internal/feeds"
	"github.com/alejandrodnm/kalshibot/internal/ledger"
	"github.com/alejandrodnm/kalshibot/internal/metrics"
	"github.com/alejandrodnm/kalshibot/internal/ports"
	"github.com/alejandrodnm/kalshibot/internal/risk"
)

// AssetConfig binds a reference asset to its contract series on the venue.
type AssetConfig struct {
	Asset  string // e.g. "BTC"
	Series string // venue series ticker, e.g. "KXBTCD"
	// BaselineSigma anchors the volatility-anomaly ratio for regime filters.
	BaselineSigma float64
}

// Config holds orchestration knobs.
type Config struct {
	Assets             []AssetConfig
	LockTTL            time.Duration
	MomentumLookback   time.Duration
	SettlementLookback time.Duration
	ReportWindow       time.Duration
}

// DefaultConfig returns production orchestration settings.
func DefaultConfig() Config {
	return Config{
		LockTTL:            10 * time.Minute,
		MomentumLookback:   time.Hour,
		SettlementLookback: 72 * time.Hour,
		ReportWindow:       30 * 24 * time.Hour,
	}
}

// Deps are the collaborators the orchestrator wires together each cycle.
// Funding, Ticks, Notifier and Metrics may be nil.
type Deps struct {
	Gateway  ports.MarketGateway
	Prices   *feeds.Aggregator
	Vol      *feeds.Volatility
	Momentum *feeds.Momentum
	Funding  ports.FundingFeed
	Ticks    ports.LiveTicks
	Store    ports.DocumentStore
	Engine   *decision.Engine
	Notifier ports.Notifier
	Metrics  *metrics.Set

	RiskCfg risk.Config
	Sizing  risk.SizingConfig
	ExecCfg execution.Config
	TuneCfg autotune.Config
}

// Result is the structured outcome of one cycle for reporting.
type Result struct {
	Status             risk.Status
	StartedAt          time.Time
	FinishedAt         time.Time
	Signals            []domain.Signal
	Outcomes           []execution.Outcome
	SettlementsApplied int
	Report             ledger.Report
	TunerEvent         string
	Warnings           []string
	Errors             int
	OrderFailures      int
}

// Orchestrator runs the single-shot trading cycle under the exclusive lock.
type Orchestrator struct {
	deps Deps
	cfg  Config
	lock *Lock
}

// New creates the orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		lock: NewLock(deps.Store, cfg.LockTTL),
	}
}

// RunOnce executes one full cycle: lock → gates → feeds → scan → decide →
// execute → settle → report → tune → persist. Feed and per-contract failures
// degrade the affected step; only the lock and the gate short-circuit.
func (o *Orchestrator) RunOnce(ctx context.Context) (*Result, error) {
	now := time.Now().UTC()
	res := &Result{Status: risk.StatusIdle, StartedAt: now}

	// 1. Exclusion: a held, unexpired lock means another run owns the budget.
	if err := o.lock.Acquire(ctx, now); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.lock.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("cycle: lock release failed", "err", err)
		}
	}()

	// 2. Documents: risk state, gate, ledger, tuner.
	state, err := risk.LoadState(ctx, o.deps.Store)
	if err != nil {
		return nil, fmt.Errorf("cycle.RunOnce: %w", err)
	}
	gate := risk.NewGate(o.deps.RiskCfg, o.deps.Store, state)

	status, err := gate.Check(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("cycle.RunOnce: %w", err)
	}
	res.Status = status
	if status != risk.StatusEvaluating {
		slog.Warn("cycle: blocked, skipping", "status", status)
		o.deps.Metrics.CountCycle(string(status))
		return res, nil
	}

	book, err := ledger.Load(ctx, o.deps.Store)
	if err != nil {
		return nil, fmt.Errorf("cycle.RunOnce: %w", err)
	}
	tuner, err := autotune.Load(ctx, o.deps.Store, o.deps.TuneCfg)
	if err != nil {
		return nil, fmt.Errorf("cycle.RunOnce: %w", err)
	}
	params := tuner.Active()
	state.ResetRunBudget(now)

	slog.Info("cycle: start",
		"assets", len(o.cfg.Assets),
		"min_edge_bps", params.MinEdgeBps,
		"tuner_phase", tuner.State().Phase)

	// 3. Evaluation: feeds once per asset, then every open contract.
	recs := o.scan(ctx, gate, res, params, now)

	// 4. Ordering.
	o.trade(ctx, gate, book, res, recs, params, now)

	// 5. Settlement reconciliation. Fills that landed after an order's
	// submitting cycle are confirmed first so attribution can see them.
	o.reconfirm(ctx, gate, book, res)
	o.settle(ctx, book, res, now)

	// 6. Closed-loop report and tuning.
	res.Report = book.BuildReport(now.Add(-o.cfg.ReportWindow), now)
	windowReport := ledger.Report{}
	if st := tuner.State(); st.Phase == autotune.PhaseEvaluating {
		windowReport = book.BuildReport(st.StagedAt, now)
	}
	event, err := tuner.Step(ctx, res.Report, windowReport, now)
	if err != nil {
		res.Errors++
		res.Warnings = append(res.Warnings, fmt.Sprintf("tuner: %v", err))
	}
	res.TunerEvent = event

	// 7. Persist documents, then health accounting (may trip the switch).
	if err := book.Save(ctx, o.deps.Store); err != nil {
		res.Errors++
		res.Warnings = append(res.Warnings, fmt.Sprintf("ledger save: %v", err))
	}
	health := risk.CycleHealth{At: now, Errors: res.Errors, OrderFailures: res.OrderFailures}
	if err := gate.FinishCycle(ctx, health); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("escalation: %v", err))
	}
	if err := state.Save(ctx, o.deps.Store); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("risk state save: %v", err))
	}

	res.FinishedAt = time.Now().UTC()
	o.observe(res, state, tuner)
	o.notify(ctx, res)
	return res, nil
}

// recommendation pairs a tradable signal with its evaluated contract.
type recommendation struct {
	sig      domain.Signal
	contract domain.Contract
	ref      domain.RefPrice
	sigma    float64
}

// scan fetches feeds once per asset and evaluates every listed contract,
// recording edge observations into risk state for the persistence gate.
func (o *Orchestrator) scan(ctx context.Context, gate *risk.Gate, res *Result, params domain.TradingParams, now time.Time) []recommendation {
	var recs []recommendation
	for _, ac := range o.cfg.Assets {
		ref, err := o.deps.Prices.RefPrice(ctx, ac.Asset)
		if err != nil {
			// No reference price is mandatory fail-closed for the asset.
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: no reference price: %v", ac.Asset, err))
			slog.Warn("cycle: no reference price, asset disabled", "asset", ac.Asset, "err", err)
			continue
		}
		if err := o.deps.Momentum.Record(ctx, ref); err != nil {
			slog.Warn("cycle: momentum snapshot failed", "asset", ac.Asset, "err", err)
		}

		sigma, err := o.deps.Vol.Conservative(ctx, ac.Asset)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: volatility unavailable: %v", ac.Asset, err))
			slog.Warn("cycle: volatility unavailable, asset disabled", "asset", ac.Asset, "err", err)
			continue
		}

		in := decision.Inputs{Ref: ref, Sigma: sigma, Now: now, Params: params}
		if ac.BaselineSigma > 0 {
			in.VolAnomaly = sigma / ac.BaselineSigma
		}
		if mom, err := o.deps.Momentum.Return(ctx, ac.Asset, now, ref.Price, o.cfg.MomentumLookback); err == nil {
			in.MomentumPct = mom
			in.MomentumOK = true
		}
		if o.deps.Funding != nil {
			if rate, err := o.deps.Funding.FundingRate(ctx, ac.Asset); err == nil {
				in.Funding = rate
				in.FundingOK = true
			} else {
				slog.Warn("cycle: funding unavailable", "asset", ac.Asset, "err", err)
			}
		}

		contracts, err := o.deps.Gateway.ListContracts(ctx, ac.Series)
		if err != nil {
			res.Errors++
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: list contracts: %v", ac.Series, err))
			continue
		}

		for _, c := range contracts {
			sig := o.deps.Engine.Evaluate(c, in)
			res.Signals = append(res.Signals, sig)
			o.deps.Metrics.CountSignal(sig.Rec != nil)
			for _, r := range sig.Yes.Rejections {
				o.deps.Metrics.CountRejection(string(r))
			}

			// The engine is pure; observations land in risk state here.
			gate.State().RecordEdge(risk.EdgeObs{
				Ticker: c.Ticker, Side: domain.SideYes,
				EffectiveBps: sig.Yes.EffectiveBps, At: now,
			})
			gate.State().RecordEdge(risk.EdgeObs{
				Ticker: c.Ticker, Side: domain.SideNo,
				EffectiveBps: sig.No.EffectiveBps, At: now,
			})

			if sig.Rec != nil {
				recs = append(recs, recommendation{sig: sig, contract: c, ref: ref, sigma: sigma})
			}
		}
		slog.Info("cycle: asset scanned",
			"asset", ac.Asset, "contracts", len(contracts),
			"ref", fmt.Sprintf("%.2f", ref.Price), "sigma", fmt.Sprintf("%.2f", sigma))
	}
	return recs
}

// trade runs the execution controller over every recommendation.
func (o *Orchestrator) trade(ctx context.Context, gate *risk.Gate, book *ledger.Ledger, res *Result, recs []recommendation, params domain.TradingParams, now time.Time) {
	if len(recs) == 0 {
		return
	}
	res.Status = risk.StatusOrdering

	bankroll, err := o.deps.Gateway.GetBalance(ctx)
	if err != nil {
		res.Errors++
		res.Warnings = append(res.Warnings, fmt.Sprintf("balance: %v", err))
	}
	settled := book.BuildReport(now.Add(-o.cfg.ReportWindow), now)
	throttle := gate.ThrottleFactor(settled.PnL)

	ctrl := execution.New(o.deps.Gateway, o.deps.Ticks, gate, book, o.deps.ExecCfg, o.deps.Sizing)
	for _, r := range recs {
		out := ctrl.Execute(ctx, r.sig, r.contract, execution.ExecuteInputs{
			Sigma:        r.sigma,
			RefPrice:     r.ref.Price,
			Params:       params,
			Bankroll:     bankroll,
			SettledCount: settled.Settled,
			Throttle:     throttle,
			Now:          now,
		})
		res.Outcomes = append(res.Outcomes, out)
		if out.Err != nil {
			res.OrderFailures++
		}
		if out.Status == risk.StatusSubmitted {
			res.Status = risk.StatusSubmitted
		}
		o.deps.Metrics.CountOrder(orderResult(out))
	}
}

// reconfirm re-queries fills for unsettled orders still short of their
// submitted count. Late fills are committed against the notional caps the
// same way an in-cycle fill would have been.
func (o *Orchestrator) reconfirm(ctx context.Context, gate *risk.Gate, book *ledger.Ledger, res *Result) {
	ids := book.PendingFillCheck()
	if len(ids) == 0 {
		return
	}

	prev := make(map[string]float64, len(book.Orders))
	for key, ord := range book.Orders {
		prev[key] = float64(ord.FillCount) * ord.FillAvgPrice
	}

	fills, err := o.deps.Gateway.GetFills(ctx, ids)
	if err != nil {
		res.Errors++
		res.Warnings = append(res.Warnings, fmt.Sprintf("fill recheck: %v", err))
		return
	}
	if book.ConfirmFills(fills) == 0 {
		return
	}

	confirmed := 0
	for key, ord := range book.Orders {
		delta := float64(ord.FillCount)*ord.FillAvgPrice - prev[key]
		if delta <= 0 {
			continue
		}
		gate.State().Commit(ord.Ticker, delta)
		confirmed++
	}
	if confirmed > 0 {
		slog.Info("cycle: late fills confirmed", "orders", confirmed)
	}
}

// settle pulls recent settlement records and reconciles the ledger.
func (o *Orchestrator) settle(ctx context.Context, book *ledger.Ledger, res *Result, now time.Time) {
	records, err := o.deps.Gateway.GetSettlements(ctx, now.Add(-o.cfg.SettlementLookback), now)
	if err != nil {
		res.Errors++
		res.Warnings = append(res.Warnings, fmt.Sprintf("settlements: %v", err))
		return
	}
	res.SettlementsApplied = book.ApplySettlements(records, now)
	if res.SettlementsApplied > 0 {
		slog.Info("cycle: settlements attributed", "count", res.SettlementsApplied)
	}
	o.deps.Metrics.CountSettlements("attributed", res.SettlementsApplied)
}

// observe publishes end-of-cycle gauges.
func (o *Orchestrator) observe(res *Result, state *risk.State, tuner *autotune.Tuner) {
	o.deps.Metrics.CountCycle(string(res.Status))
	o.deps.Metrics.ObserveReport(res.Report.WinRate, res.Report.Brier, state.RunNotional)
	o.deps.Metrics.SetTunerPhase(string(tuner.State().Phase))
}

// notify pushes the cycle's signals and summary to the operator surface.
func (o *Orchestrator) notify(ctx context.Context, res *Result) {
	if o.deps.Notifier == nil {
		return
	}
	if err := o.deps.Notifier.NotifySignals(ctx, res.Signals); err != nil {
		slog.Warn("cycle: notify signals failed", "err", err)
	}
	summary := fmt.Sprintf("status=%s signals=%d orders=%d settlements=%d warnings=%d",
		res.Status, len(res.Signals), len(res.Outcomes), res.SettlementsApplied, len(res.Warnings))
	if res.TunerEvent != "" {
		summary += " tuner=" + res.TunerEvent
	}
	if err := o.deps.Notifier.NotifyCycle(ctx, summary); err != nil {
		slog.Warn("cycle: notify summary failed", "err", err)
	}
}

func orderResult(out execution.Outcome) string {
	switch {
	case out.Err != nil:
		return "failed"
	case out.FillCount > 0:
		return "filled"
	case out.Status == risk.StatusSubmitted:
		return "resting"
	default:
		return "skipped"
	}
}

package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ledger"
	"github.com/alejandrodnm/kalshibot/internal/ports"
	"github.com/alejandrodnm/kalshibot/internal/risk"
	"github.com/google/uuid"
)

// Config holds execution behavior knobs.
type Config struct {
	HedgeEnabled bool
	// HedgeMinProfit is the minimum guaranteed dollars per contract pair:
	// hedge only when primary avg + hedge ask <= 1 - HedgeMinProfit.
	HedgeMinProfit float64
	// FillConfirmDelay gives the venue a moment before the fills query.
	FillConfirmDelay time.Duration
}

// DefaultConfig returns production execution settings.
func DefaultConfig() Config {
	return Config{
		HedgeEnabled:     true,
		HedgeMinProfit:   0.03,
		FillConfirmDelay: 2 * time.Second,
	}
}

// Outcome is the structured result of one execution attempt. Policy refusals
// and benign skips are distinguished from true errors for health accounting.
type Outcome struct {
	Ticker    string
	Side      domain.Side
	Status    risk.Status
	Reason    string
	Key       string // idempotency key consumed by this attempt
	FillCount int
	Hedged    bool
	HedgeWarn string // asymmetric-risk diagnostic when the hedge leg failed
	Err       error  // non-nil only for true errors (counted for escalation)
}

// Controller owns idempotent order submission with pre-submission
// revalidation, confirmed-fill tracking and the optional paired hedge.
type Controller struct {
	gateway ports.MarketGateway
	ticks   ports.LiveTicks // may be nil
	gate    *risk.Gate
	book    *ledger.Ledger
	cfg     Config
	sizing  risk.SizingConfig

	usedKeys map[string]bool // process-unique key audit
}

// New creates the execution controller.
func New(gateway ports.MarketGateway, ticks ports.LiveTicks, gate *risk.Gate, book *ledger.Ledger, cfg Config, sizing risk.SizingConfig) *Controller {
	return &Controller{
		gateway:  gateway,
		ticks:    ticks,
		gate:     gate,
		book:     book,
		cfg:      cfg,
		sizing:   sizing,
		usedKeys: make(map[string]bool),
	}
}

// ExecuteInputs carries per-cycle context the controller can't compute itself.
type ExecuteInputs struct {
	Sigma        float64
	RefPrice     float64
	Params       domain.TradingParams
	Bankroll     float64
	SettledCount int
	Throttle     float64
	Now          time.Time
}

// Execute runs the ordering pipeline for one recommended signal. Order API
// failures are non-fatal per-order skips with the error captured.
func (c *Controller) Execute(ctx context.Context, sig domain.Signal, contract domain.Contract, in ExecuteInputs) Outcome {
	out := Outcome{Ticker: sig.Ticker, Status: risk.StatusIdle}
	if sig.Rec == nil {
		out.Reason = "no_recommendation"
		return out
	}
	side := sig.Rec.Side
	out.Side = side

	// Every attempt that reaches the ordering phase consumes a fresh,
	// process-unique idempotency key — including skipped and failed ones.
	out.Key = c.freshKey()
	out.Status = risk.StatusOrdering

	if !c.gate.PersistenceCleared(sig.Ticker, side, in.Params, in.Now) {
		out.Status = risk.StatusIdle
		out.Reason = string(domain.RejectPersistenceGate)
		return out
	}

	eval := sig.Yes
	if side == domain.SideNo {
		eval = sig.No
	}

	count := risk.Size(c.sizing, risk.SizingInputs{
		EffectiveBps: eval.EffectiveBps,
		WinProb:      posteriorFor(side, sig),
		Price:        sig.Rec.Price,
		Bankroll:     in.Bankroll,
		SettledCount: in.SettledCount,
		Throttle:     in.Throttle,
		Confidence:   sig.Confidence,
	})
	count = risk.CapCount(count, sig.Rec.Price, c.gate.RemainingRunBudget())
	if count <= 0 {
		out.Status = risk.StatusSkippedBudget
		out.Reason = "sizing_refused"
		return out
	}

	price := sig.Rec.Price
	notional := float64(count) * price
	if ok, reason := c.gate.AllowNotional(sig.Ticker, notional, c.book.OpenCountOn(sig.Ticker)); !ok {
		out.Status = risk.StatusSkippedBudget
		out.Reason = reason
		return out
	}

	// Pre-submission revalidation against the freshest quote.
	fresh, price, ok, reason := c.revalidate(ctx, sig, side, price, in)
	if !ok {
		out.Status = risk.StatusIdle
		out.Reason = reason
		return out
	}

	ack, err := c.gateway.SubmitOrder(ctx, ports.OrderRequest{
		Ticker:         sig.Ticker,
		Side:           side,
		Count:          count,
		Price:          price,
		IdempotencyKey: out.Key,
	})
	if err != nil {
		out.Reason = "submit_failed"
		out.Err = fmt.Errorf("execution.Execute: submit %s/%s: %w", sig.Ticker, side, err)
		slog.Warn("exec: order submission failed", "ticker", sig.Ticker, "side", side, "err", err)
		return out
	}

	order := domain.Order{
		IdempotencyKey:    out.Key,
		VenueOrderID:      ack.VenueOrderID,
		Ticker:            sig.Ticker,
		Asset:             sig.Asset,
		Side:              side,
		Count:             count,
		Price:             price,
		SubmittedAt:       in.Now,
		EdgeBps:           eval.EdgeBps,
		EffectiveBps:      eval.EffectiveBps,
		FairProb:          eval.Fair,
		HoursToExpiry:     fresh.HoursToExpiry(in.Now),
		StrikeDistancePct: fresh.StrikeDistancePct(in.RefPrice),
		Shape:             fresh.Shape,
	}
	c.book.RecordPlacement(order)
	out.Status = risk.StatusSubmitted

	fillCount, avg := c.confirmFills(ctx, ack.VenueOrderID)
	out.FillCount = fillCount
	if fillCount == 0 {
		// A no-fill response is a benign skip, not an error.
		out.Reason = "no_fill"
		slog.Info("exec: order rested without fills", "ticker", sig.Ticker, "side", side, "price", fmt.Sprintf("%.2f", price))
		return out
	}

	c.gate.State().Commit(sig.Ticker, float64(fillCount)*avg)
	slog.Info("exec: order filled",
		"ticker", sig.Ticker, "side", side,
		"count", fillCount, "avg_price", fmt.Sprintf("%.2f", avg),
		"edge_bps", fmt.Sprintf("%.0f", eval.EdgeBps))

	if c.cfg.HedgeEnabled {
		hedged, warn := c.tryHedge(ctx, fresh, side, avg, fillCount, out.Key, in)
		out.Hedged = hedged
		out.HedgeWarn = warn
	}
	return out
}

// revalidate re-fetches the contract and recomputes the edge against the
// freshest ask (and the live tick reference when the stream has one).
// Returns the fresh contract and the possibly improved price.
func (c *Controller) revalidate(ctx context.Context, sig domain.Signal, side domain.Side, evalPrice float64, in ExecuteInputs) (domain.Contract, float64, bool, string) {
	fresh, err := c.gateway.GetContract(ctx, sig.Ticker)
	if err != nil {
		slog.Warn("exec: pre-submission recheck failed", "ticker", sig.Ticker, "err", err)
		return domain.Contract{}, 0, false, string(domain.RejectRecheckFailed)
	}

	refPrice := in.RefPrice
	if c.ticks != nil {
		if tick, ok := c.ticks.Last(sig.Asset); ok && tick.Price > 0 {
			refPrice = tick.Price
		}
	}

	ask := fresh.AskFor(side)
	if ask <= 0 {
		return domain.Contract{}, 0, false, string(domain.RejectNoQuote)
	}

	fairYes, ok := domain.FairProb(fresh, refPrice, in.Sigma, in.Now)
	if !ok {
		return domain.Contract{}, 0, false, string(domain.RejectRecheckFailed)
	}
	fair := fairYes
	if side == domain.SideNo {
		fair = 1 - fairYes
	}

	effective := domain.EdgeBps(fair, ask) - in.Params.BufferBps
	if effective < in.Params.MinEdgeBps {
		slog.Info("exec: edge gone at recheck, skipping",
			"ticker", sig.Ticker, "side", side,
			"effective_bps", fmt.Sprintf("%.0f", effective))
		return domain.Contract{}, 0, false, string(domain.RejectStaleRecheck)
	}

	// Re-price down when the ask improved; never submit worse than evaluated.
	price := evalPrice
	if ask < price {
		price = ask
	}
	return fresh, price, true, ""
}

// confirmFills queries the venue for fills on the order id. Only this result
// drives realized fill/notional tracking.
func (c *Controller) confirmFills(ctx context.Context, venueOrderID string) (int, float64) {
	if venueOrderID == "" {
		return 0, 0
	}
	if c.cfg.FillConfirmDelay > 0 {
		select {
		case <-time.After(c.cfg.FillConfirmDelay):
		case <-ctx.Done():
			return 0, 0
		}
	}
	fills, err := c.gateway.GetFills(ctx, []string{venueOrderID})
	if err != nil {
		slog.Warn("exec: fills query failed", "venue_order_id", venueOrderID, "err", err)
		return 0, 0
	}
	n := c.book.ConfirmFills(fills)
	if n == 0 {
		return 0, 0
	}
	var count int
	var cost float64
	for _, f := range fills {
		if f.VenueOrderID == venueOrderID {
			count += f.Count
			cost += float64(f.Count) * f.Price
		}
	}
	if count == 0 {
		return 0, 0
	}
	return count, cost / float64(count)
}

// freshKey mints a process-unique idempotency key and records it for the
// uniqueness audit.
func (c *Controller) freshKey() string {
	for {
		k := uuid.New().String()
		if !c.usedKeys[k] {
			c.usedKeys[k] = true
			return k
		}
	}
}

// UsedKeyCount reports how many keys this run has consumed.
func (c *Controller) UsedKeyCount() int {
	return len(c.usedKeys)
}

func posteriorFor(side domain.Side, sig domain.Signal) float64 {
	if side == domain.SideYes {
		return sig.PosteriorYes
	}
	return 1 - sig.PosteriorYes
}

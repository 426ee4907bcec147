package decision

import (
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Engine turns contract snapshots plus reference-market inputs into signals.
// Pure computation: no I/O, no side effects. Callers record edge observations
// into risk state themselves.
type Engine struct {
	cfg Config
}

// Config holds the decision engine's fixed (non-tuned) thresholds.
type Config struct {
	MinHoursToExpiry float64 // below this the model has nothing to say
	MinLiquidity     float64 // displayed dollars
	MaxSpread        float64 // dollars, per side
	MinPrice         float64 // acceptable ask band
	MaxPrice         float64
	FeeRate          float64 // venue fee curve coefficient, fee ≈ rate·p·(1-p) per contract
	ExtremeEdgeBps   float64 // edge that overrides the fee-dominated filter

	// Regime filters. Zero disables the corresponding filter.
	MaxFundingAbs   float64       // |funding rate| above this blocks entries
	MaxVolAnomaly   float64       // short/long vol ratio above this blocks entries
	MaxRefStaleness time.Duration // worst acceptable venue quote staleness

	// Bayesian blend of the model prior with the market mid. Sizing only.
	BlendEnabled       bool
	PriorConcentration float64 // pseudo-observations behind the model prior
	MaxObsStrength     float64 // cap on market-observation strength
}

// DefaultConfig returns the thresholds used in production.
func DefaultConfig() Config {
	return Config{
		MinHoursToExpiry:   0.75,
		MinLiquidity:       250,
		MaxSpread:          0.08,
		MinPrice:           0.05,
		MaxPrice:           0.95,
		FeeRate:            0.07,
		ExtremeEdgeBps:     1200,
		MaxFundingAbs:      0.0015,
		MaxVolAnomaly:      2.5,
		MaxRefStaleness:    45 * time.Second,
		BlendEnabled:       true,
		PriorConcentration: 20,
		MaxObsStrength:     12,
	}
}

// Inputs carries the per-asset market context fetched once per cycle.
type Inputs struct {
	Ref        domain.RefPrice
	Sigma      float64
	VolAnomaly float64 // short/long realized vol ratio, 0 when unavailable

	MomentumPct float64
	MomentumOK  bool

	Funding   float64
	FundingOK bool

	Now    time.Time
	Params domain.TradingParams
}

// New creates a decision engine with the given thresholds.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate computes the signal for one contract. A contract the model cannot
// price yields a signal whose sides carry RejectModelUnpriced; it never
// errors, so one bad contract can't block the batch.
func (e *Engine) Evaluate(c domain.Contract, in Inputs) domain.Signal {
	sig := domain.Signal{
		Ticker:        c.Ticker,
		Asset:         c.Asset,
		EvaluatedAt:   in.Now,
		RefPrice:      in.Ref.Price,
		DispersionBps: in.Ref.DispersionBps,
		Sigma:         in.Sigma,
	}
	if in.MomentumOK {
		sig.MomentumPct = in.MomentumPct
	}
	if in.FundingOK {
		sig.FundingRate = in.Funding
	}

	fairYes, ok := domain.FairProb(c, in.Ref.Price, in.Sigma, in.Now)
	if !ok {
		sig.Yes.Rejections = []domain.RejectReason{domain.RejectModelUnpriced}
		sig.No.Rejections = []domain.RejectReason{domain.RejectModelUnpriced}
		return sig
	}
	sig.FairYes = fairYes
	sig.PosteriorYes, sig.Confidence = e.blend(c, fairYes, in)

	sig.Yes = e.evalSide(c, domain.SideYes, fairYes, in)
	sig.No = e.evalSide(c, domain.SideNo, 1-fairYes, in)

	if side, eval, ok := sig.Best(); ok {
		sig.Rec = &domain.Recommendation{
			Side:  side,
			Price: eval.Ask,
			Count: 1, // size hint; risk gate decides the real size
		}
	}
	return sig
}

// evalSide runs the ordered rejection filters for one side. Every failing
// filter is recorded, not just the first, so the rejection is explainable.
func (e *Engine) evalSide(c domain.Contract, side domain.Side, fair float64, in Inputs) domain.SideEval {
	ask := c.AskFor(side)
	eval := domain.SideEval{
		Fair: fair,
		Ask:  ask,
	}
	if ask <= 0 {
		eval.Rejections = append(eval.Rejections, domain.RejectNoQuote)
		return eval
	}

	eval.EdgeBps = domain.EdgeBps(fair, ask)
	eval.EffectiveBps = eval.EdgeBps - in.Params.BufferBps

	if c.HoursToExpiry(in.Now) < e.cfg.MinHoursToExpiry {
		eval.Rejections = append(eval.Rejections, domain.RejectExpiryTooClose)
	}
	if c.Liquidity < e.cfg.MinLiquidity {
		eval.Rejections = append(eval.Rejections, domain.RejectLowLiquidity)
	}
	if spread := c.SpreadFor(side); spread == 0 || spread > e.cfg.MaxSpread {
		eval.Rejections = append(eval.Rejections, domain.RejectWideSpread)
	}
	if ask < e.cfg.MinPrice || ask > e.cfg.MaxPrice {
		eval.Rejections = append(eval.Rejections, domain.RejectPriceOutOfBand)
	}
	if e.feeDominated(ask, eval.EdgeBps) {
		eval.Rejections = append(eval.Rejections, domain.RejectFeeDominated)
	}
	if eval.EffectiveBps < in.Params.MinEdgeBps {
		eval.Rejections = append(eval.Rejections, domain.RejectEdgeTooSmall)
	}

	// Regime filters, each individually optional.
	if e.cfg.MaxFundingAbs > 0 && in.FundingOK && abs(in.Funding) > e.cfg.MaxFundingAbs {
		eval.Rejections = append(eval.Rejections, domain.RejectFundingRegime)
	}
	if e.cfg.MaxVolAnomaly > 0 && in.VolAnomaly > e.cfg.MaxVolAnomaly {
		eval.Rejections = append(eval.Rejections, domain.RejectVolAnomaly)
	}
	if e.cfg.MaxRefStaleness > 0 && in.Ref.MaxStaleness > e.cfg.MaxRefStaleness {
		eval.Rejections = append(eval.Rejections, domain.RejectStaleReference)
	}
	return eval
}

// feeDominated reports whether the venue fee eats more than half the edge at
// this price. Extreme edges override the filter.
func (e *Engine) feeDominated(ask, edgeBps float64) bool {
	if edgeBps >= e.cfg.ExtremeEdgeBps {
		return false
	}
	feePerContract := e.cfg.FeeRate * ask * (1 - ask)
	feeBps := feePerContract / ask * 10000
	return edgeBps > 0 && feeBps > edgeBps/2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

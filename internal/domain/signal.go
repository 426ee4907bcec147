package domain

import "time"

// RejectReason names one filter that blocked a side. Reasons are recorded
// independently so a rejection stays explainable after the fact.
type RejectReason string

const (
	RejectExpiryTooClose  RejectReason = "expiry_too_close"
	RejectLowLiquidity    RejectReason = "low_liquidity"
	RejectWideSpread      RejectReason = "wide_spread"
	RejectPriceOutOfBand  RejectReason = "price_out_of_band"
	RejectFeeDominated    RejectReason = "fee_dominated"
	RejectEdgeTooSmall    RejectReason = "edge_too_small"
	RejectFundingRegime   RejectReason = "funding_regime"
	RejectVolAnomaly      RejectReason = "vol_anomaly"
	RejectStaleReference  RejectReason = "stale_reference"
	RejectNoQuote         RejectReason = "no_quote"
	RejectModelUnpriced   RejectReason = "model_unpriced"
	RejectStaleRecheck    RejectReason = "stale_recheck"
	RejectRecheckFailed   RejectReason = "recheck_failed"
	RejectPersistenceGate RejectReason = "persistence_gate"
)

// SideEval holds the per-side diagnostics produced by the decision engine.
type SideEval struct {
	Fair         float64        // model probability for this side
	Ask          float64        // best ask evaluated against
	EdgeBps      float64        // (fair - ask) * 10000
	EffectiveBps float64        // EdgeBps minus the uncertainty buffer
	Rejections   []RejectReason // empty means the side passed every filter
}

// Passed reports whether this side cleared all filters.
func (e SideEval) Passed() bool {
	return len(e.Rejections) == 0
}

// Recommendation is the actionable output of a signal: buy one side at up to
// Price for Count contracts.
type Recommendation struct {
	Side  Side
	Price float64
	Count int // size hint; the risk gate has the final word
}

// Signal is the per-contract, per-cycle evaluation result. Pure data; the
// ledger keeps whatever of it needs to outlive the cycle.
type Signal struct {
	Ticker      string
	Asset       string
	EvaluatedAt time.Time

	FairYes      float64 // model P(YES)
	PosteriorYes float64 // Bayesian blend with market mid, sizing only
	Confidence   float64 // posterior concentration weight in [0,1]

	RefPrice      float64
	DispersionBps float64
	Sigma         float64
	MomentumPct   float64 // lookback return, 0 when unavailable
	FundingRate   float64 // 0 when unavailable

	Yes SideEval
	No  SideEval

	Rec *Recommendation // nil when no side cleared the filters
}

// Best returns the evaluation for the side with the larger effective edge
// among those that passed, ok=false when neither did.
func (s Signal) Best() (Side, SideEval, bool) {
	yesOK, noOK := s.Yes.Passed(), s.No.Passed()
	switch {
	case yesOK && noOK:
		if s.No.EffectiveBps > s.Yes.EffectiveBps {
			return SideNo, s.No, true
		}
		return SideYes, s.Yes, true
	case yesOK:
		return SideYes, s.Yes, true
	case noOK:
		return SideNo, s.No, true
	}
	return "", SideEval{}, false
}

// EdgeBps computes a one-sided edge in basis points.
func EdgeBps(fair, ask float64) float64 {
	return (fair - ask) * 10000
}

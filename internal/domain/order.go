package domain

import "time"

// Order is the ledger's record of one submission attempt that reached the
// venue. Created by the execution controller, merged (never overwritten,
// never deleted) by the ledger.
type Order struct {
	IdempotencyKey string    `json:"idempotency_key"` // ledger primary key
	VenueOrderID   string    `json:"venue_order_id,omitempty"`
	Ticker         string    `json:"ticker"`
	Asset          string    `json:"asset"`
	Side           Side      `json:"side"`
	Count          int       `json:"count"` // intended size
	Price          float64   `json:"price"` // limit price, dollars
	SubmittedAt    time.Time `json:"submitted_at"`
	HedgeOf        string    `json:"hedge_of,omitempty"` // primary leg's key when this is a hedge

	// Confirmed fill state, only ever set from a fills query.
	FillCount    int     `json:"fill_count"`
	FillAvgPrice float64 `json:"fill_avg_price"`

	// Settlement state, set by attribution. A settlement record smaller than
	// the open fill count settles the order partially; SettledCount can never
	// exceed FillCount.
	Settled      bool       `json:"settled"`
	SettledCount int        `json:"settled_count"`
	Won          bool       `json:"won"`
	CashDelta    float64    `json:"cash_delta"` // realized dollars across settled fills
	SettledAt    *time.Time `json:"settled_at,omitempty"`

	// Entry diagnostics frozen at submission, for the closed-loop report.
	EdgeBps           float64 `json:"edge_bps"`
	EffectiveBps      float64 `json:"effective_bps"`
	FairProb          float64 `json:"fair_prob"` // implied win probability at entry
	HoursToExpiry     float64 `json:"hours_to_expiry"`
	StrikeDistancePct float64 `json:"strike_distance_pct"`
	Shape             Shape   `json:"shape"`
}

// Notional returns the worst-case dollars at risk for the intended size.
func (o Order) Notional() float64 {
	return float64(o.Count) * o.Price
}

// FilledNotional returns confirmed dollars at risk.
func (o Order) FilledNotional() float64 {
	return float64(o.FillCount) * o.FillAvgPrice
}

// OpenFillCount returns fills that have not yet been settled.
func (o Order) OpenFillCount() int {
	n := o.FillCount - o.SettledCount
	if n < 0 {
		return 0
	}
	return n
}

// TTEBucket buckets an entry time-to-expiry for report breakdowns.
func TTEBucket(hours float64) string {
	switch {
	case hours < 2:
		return "<2h"
	case hours < 8:
		return "2-8h"
	case hours < 24:
		return "8-24h"
	case hours < 72:
		return "1-3d"
	default:
		return ">3d"
	}
}

// StrikeDistanceBucket buckets |strike-spot|/spot for report breakdowns.
func StrikeDistanceBucket(pct float64) string {
	switch {
	case pct < 0.5:
		return "<0.5%"
	case pct < 1:
		return "0.5-1%"
	case pct < 2:
		return "1-2%"
	case pct < 5:
		return "2-5%"
	default:
		return ">5%"
	}
}

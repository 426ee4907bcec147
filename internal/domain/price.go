package domain

import "time"

// PriceSample is a single spot observation from one reference exchange.
type PriceSample struct {
	Venue      string    `json:"venue"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
	QuotedAt   time.Time `json:"quoted_at,omitempty"` // venue-reported quote time, zero if unknown
}

// Staleness returns how old the sample was at the observation moment.
// Samples without a venue quote time report 0.
func (s PriceSample) Staleness() time.Duration {
	if s.QuotedAt.IsZero() {
		return 0
	}
	d := s.ObservedAt.Sub(s.QuotedAt)
	if d < 0 {
		return 0
	}
	return d
}

// RefPrice is the aggregated cross-venue reference price for one asset.
type RefPrice struct {
	Asset         string
	Price         float64       // median across surviving venues
	DispersionBps float64       // (max-min)/median in basis points
	MaxStaleness  time.Duration // worst staleness among survivors
	Venues        int           // surviving venue count
	ObservedAt    time.Time
}

// PricePoint is one entry of the persisted per-asset momentum history.
type PricePoint struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceHistory is a bounded, chronologically ordered per-asset history of
// reference prices, persisted across cycles for momentum lookbacks.
type PriceHistory struct {
	Asset  string       `json:"asset"`
	Points []PricePoint `json:"points"`
}

// Append records a point, dropping it if it is closer than minSpacing to the
// newest existing point, and trims the history to maxPoints.
func (h *PriceHistory) Append(p PricePoint, minSpacing time.Duration, maxPoints int) {
	if n := len(h.Points); n > 0 {
		if p.ObservedAt.Sub(h.Points[n-1].ObservedAt) < minSpacing {
			return
		}
	}
	h.Points = append(h.Points, p)
	if maxPoints > 0 && len(h.Points) > maxPoints {
		h.Points = h.Points[len(h.Points)-maxPoints:]
	}
}

// AtOrBefore returns the newest point observed at or before t.
func (h *PriceHistory) AtOrBefore(t time.Time) (PricePoint, bool) {
	for i := len(h.Points) - 1; i >= 0; i-- {
		if !h.Points[i].ObservedAt.After(t) {
			return h.Points[i], true
		}
	}
	return PricePoint{}, false
}

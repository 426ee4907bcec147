package domain

import "time"

// Shape describes how a contract's strike resolves against the reference price.
type Shape string

const (
	ShapeGreater Shape = "greater" // YES iff settlement value > Strike
	ShapeLess    Shape = "less"    // YES iff settlement value < Strike
	ShapeBetween Shape = "between" // YES iff StrikeLow <= value <= StrikeHigh
)

// Side is one of the two outcomes of a binary contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Contract is an immutable snapshot of a binary outcome contract on the venue.
// Prices are dollars in [0,1]. Refreshed each cycle and again right before
// submission.
type Contract struct {
	Ticker     string
	Asset      string // underlying reference symbol, e.g. "BTC"
	Shape      Shape
	Strike     float64 // greater/less
	StrikeLow  float64 // between
	StrikeHigh float64 // between
	Expiration time.Time

	YesBid float64
	YesAsk float64
	NoBid  float64
	NoAsk  float64

	Liquidity float64 // displayed dollar liquidity
	FetchedAt time.Time
}

// SupportedShape returns true for the strike shapes the model can price.
func (c Contract) SupportedShape() bool {
	switch c.Shape {
	case ShapeGreater, ShapeLess, ShapeBetween:
		return true
	}
	return false
}

// AskFor returns the best ask for the given side.
func (c Contract) AskFor(side Side) float64 {
	if side == SideYes {
		return c.YesAsk
	}
	return c.NoAsk
}

// BidFor returns the best bid for the given side.
func (c Contract) BidFor(side Side) float64 {
	if side == SideYes {
		return c.YesBid
	}
	return c.NoBid
}

// MidFor returns the bid/ask midpoint for the given side, or 0 if one-sided.
func (c Contract) MidFor(side Side) float64 {
	bid, ask := c.BidFor(side), c.AskFor(side)
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// SpreadFor returns ask-bid for the given side, or 0 if the book is one-sided.
func (c Contract) SpreadFor(side Side) float64 {
	bid, ask := c.BidFor(side), c.AskFor(side)
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return ask - bid
}

// HoursToExpiry returns hours until expiration as of now, clamped at 0.
func (c Contract) HoursToExpiry(now time.Time) float64 {
	h := c.Expiration.Sub(now).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// YearsToExpiry returns time to expiration in years, clamped at 0.
func (c Contract) YearsToExpiry(now time.Time) float64 {
	return c.HoursToExpiry(now) / (24 * 365)
}

// StrikeMid returns the representative strike: the single strike for
// greater/less contracts, the band midpoint for between contracts.
func (c Contract) StrikeMid() float64 {
	if c.Shape == ShapeBetween {
		return (c.StrikeLow + c.StrikeHigh) / 2
	}
	return c.Strike
}

// StrikeDistancePct returns |spot-strike|/spot as a percentage, or 0 when the
// spot is unusable.
func (c Contract) StrikeDistancePct(spot float64) float64 {
	if spot <= 0 {
		return 0
	}
	d := c.StrikeMid() - spot
	if d < 0 {
		d = -d
	}
	return d / spot * 100
}

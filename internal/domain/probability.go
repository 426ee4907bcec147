package domain

import (
	"math"
	"time"
)

// probability.go — fair P(YES) under a zero-drift lognormal approximation.
//
// ln(S_T/S) ~ N(-σ²T/2, σ²T), so P(S_T > K) = Φ(d2) with
// d2 = (ln(S/K) - σ²T/2) / (σ√T). At T=0 or σ=0 the distribution collapses
// to a point mass and the probability degenerates to a step function.

// FairProb computes the model probability that a contract resolves YES given
// the reference spot, annualized volatility and time to expiry.
// Returns ok=false if inputs can't be priced (never panics).
func FairProb(c Contract, spot, sigma float64, now time.Time) (float64, bool) {
	t := c.YearsToExpiry(now)
	switch c.Shape {
	case ShapeGreater:
		return ProbAbove(spot, c.Strike, t, sigma)
	case ShapeLess:
		p, ok := ProbAbove(spot, c.Strike, t, sigma)
		if !ok {
			return 0, false
		}
		return 1 - p, true
	case ShapeBetween:
		return ProbBetween(spot, c.StrikeLow, c.StrikeHigh, t, sigma)
	}
	return 0, false
}

// ProbAbove returns P(S_T > strike). Degenerates to a strict step function
// when t or sigma is zero: spot must strictly exceed the strike.
func ProbAbove(spot, strike, t, sigma float64) (float64, bool) {
	if spot <= 0 || strike <= 0 || t < 0 || sigma < 0 {
		return 0, false
	}
	if t == 0 || sigma == 0 {
		if spot > strike {
			return 1, true
		}
		return 0, true
	}
	vol := sigma * math.Sqrt(t)
	d2 := (math.Log(spot/strike) - sigma*sigma*t/2) / vol
	return normCDF(d2), true
}

// ProbBetween returns P(low <= S_T <= high) = P(S_T <= high) - P(S_T <= low),
// clamped to [0,1]. Returns 0 when high <= low.
func ProbBetween(spot, low, high, t, sigma float64) (float64, bool) {
	if high <= low {
		if low <= 0 || spot <= 0 {
			return 0, false
		}
		return 0, true
	}
	pAboveHigh, ok := ProbAbove(spot, high, t, sigma)
	if !ok {
		return 0, false
	}
	pAboveLow, ok := ProbAbove(spot, low, t, sigma)
	if !ok {
		return 0, false
	}
	p := pAboveLow - pAboveHigh
	return Clamp(p, 0, 1), true
}

// normCDF is the standard normal CDF via the complementary error function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

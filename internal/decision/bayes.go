package decision

import "github.com/alejandrodnm/kalshibot/internal/domain"

// bayes.go — Bayesian blend of the model prior with the market mid.
//
// The model's fair probability is treated as a Beta prior with a fixed
// concentration (pseudo-observation count). The market mid is one aggregate
// observation whose strength grows with displayed liquidity and spread
// tightness, capped, and halved under a volatility-anomaly regime. The
// posterior feeds sizing confidence only; edge thresholds always use the raw
// model probability.

const (
	// Liquidity at which the market observation reaches full strength.
	liquidityScale = 5000
)

// blend returns the posterior P(YES) and a confidence weight in [0,1].
// With blending disabled (or no usable mid) the posterior is the prior and
// confidence is 1.
func (e *Engine) blend(c domain.Contract, fairYes float64, in Inputs) (posterior, confidence float64) {
	if !e.cfg.BlendEnabled {
		return fairYes, 1
	}
	mid := c.MidFor(domain.SideYes)
	if mid <= 0 || mid >= 1 {
		return fairYes, 1
	}

	strength := e.observationStrength(c, in)
	prior := e.cfg.PriorConcentration
	if prior <= 0 {
		prior = 1
	}

	posterior = (fairYes*prior + mid*strength) / (prior + strength)

	// Confidence shrinks with model/market disagreement: a posterior pulled
	// far from the prior means someone is wrong.
	confidence = domain.Clamp(1-abs(posterior-fairYes)*4, 0.25, 1)
	return posterior, confidence
}

// observationStrength scales the market mid's weight by liquidity and spread
// tightness, capped at MaxObsStrength.
func (e *Engine) observationStrength(c domain.Contract, in Inputs) float64 {
	liq := domain.Clamp(c.Liquidity/liquidityScale, 0, 1)

	tightness := 0.0
	if e.cfg.MaxSpread > 0 {
		spread := c.SpreadFor(domain.SideYes)
		if spread > 0 {
			tightness = domain.Clamp(1-spread/e.cfg.MaxSpread, 0, 1)
		}
	}

	strength := e.cfg.MaxObsStrength * liq * tightness
	if e.cfg.MaxVolAnomaly > 0 && in.VolAnomaly > e.cfg.MaxVolAnomaly {
		strength /= 2
	}
	return strength
}

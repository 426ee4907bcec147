package risk

import (
	"math"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// SizingMode selects how the intended contract count is chosen before caps.
type SizingMode string

const (
	SizingFixed  SizingMode = "fixed"
	SizingTiered SizingMode = "tiered"
	SizingKelly  SizingMode = "kelly"
)

// SizingConfig controls the pre-cap sizing decision.
type SizingConfig struct {
	Mode SizingMode

	FixedCount int // contracts in fixed mode once history exists

	// Tier boundaries on effective edge, bps. Below Tier1 → 1 contract,
	// below Tier2 → 2, otherwise 3.
	Tier1Bps float64
	Tier2Bps float64

	// Minimum settled orders before tiered/kelly sizing (and fixed counts
	// above 1) are trusted; until then every order is a 1-contract probe.
	MinSettledSample int

	KellyFraction float64 // fraction of full Kelly to stake
	KellyCap      float64 // cap on the stake fraction of bankroll
}

// DefaultSizingConfig returns the shipped sizing behavior.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		Mode:             SizingFixed,
		FixedCount:       3,
		Tier1Bps:         500,
		Tier2Bps:         900,
		MinSettledSample: 25,
		KellyFraction:    0.25,
		KellyCap:         0.05,
	}
}

// SizingInputs carries what sizing needs from the cycle.
type SizingInputs struct {
	EffectiveBps float64
	WinProb      float64 // posterior win probability for the chosen side
	Price        float64 // ask to be paid
	Bankroll     float64 // estimated dollars available
	SettledCount int     // settled orders in ledger history
	Throttle     float64 // drawdown throttle factor (0.5 or 1)
	Confidence   float64 // decision engine's posterior confidence
}

// Size returns the intended contract count before cap enforcement.
// Zero means the sizing itself refused.
func Size(cfg SizingConfig, in SizingInputs) int {
	if in.Price <= 0 || in.Price >= 1 {
		return 0
	}

	probing := in.SettledCount < cfg.MinSettledSample
	var count int
	switch cfg.Mode {
	case SizingTiered:
		if probing {
			count = 1
			break
		}
		switch {
		case in.EffectiveBps < cfg.Tier1Bps:
			count = 1
		case in.EffectiveBps < cfg.Tier2Bps:
			count = 2
		default:
			count = 3
		}
	case SizingKelly:
		if probing {
			count = 1
			break
		}
		count = kellyCount(cfg, in)
	default: // fixed
		count = cfg.FixedCount
		if probing || count < 1 {
			count = 1
		}
	}

	throttle := in.Throttle
	if throttle <= 0 {
		throttle = 1
	}
	scaled := float64(count) * throttle * domain.Clamp(in.Confidence, 0.25, 1)
	if scaled < 1 && count >= 1 {
		return 1
	}
	return int(scaled)
}

// kellyCount converts a fractional-Kelly stake into contracts.
// stake fraction = clamp(0, cap, kellyFraction × (p - price)/(1 - price)).
func kellyCount(cfg SizingConfig, in SizingInputs) int {
	if in.Bankroll <= 0 {
		return 1
	}
	edge := in.WinProb - in.Price
	if edge <= 0 {
		return 0
	}
	f := cfg.KellyFraction * edge / (1 - in.Price)
	f = domain.Clamp(f, 0, cfg.KellyCap)
	stake := in.Bankroll * f
	count := int(math.Floor(stake / in.Price))
	if count < 1 {
		count = 1
	}
	return count
}

// CapCount shrinks count so its notional fits the per-order cap.
func CapCount(count int, price, maxOrderNotional float64) int {
	if price <= 0 {
		return 0
	}
	maxByOrder := int(math.Floor(maxOrderNotional / price))
	if count > maxByOrder {
		count = maxByOrder
	}
	if count < 0 {
		count = 0
	}
	return count
}

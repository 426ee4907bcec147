package ledger

import (
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// BucketStats aggregates settled performance for one report breakdown cell.
type BucketStats struct {
	Settled int     `json:"settled"`
	Wins    int     `json:"wins"`
	PnL     float64 `json:"pnl"`
}

// WinRate returns wins/settled, 0 when empty.
func (b BucketStats) WinRate() float64 {
	if b.Settled == 0 {
		return 0
	}
	return float64(b.Wins) / float64(b.Settled)
}

// Report is the closed-loop performance summary over a trailing window.
// It is the autotuner's sole performance input. Hedge legs contribute to
// PnL only; the calibration fields cover model-driven orders alone.
type Report struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Placed int `json:"placed"`
	Filled int `json:"filled"`

	AvgEffectiveBps float64 `json:"avg_effective_bps"` // across placed orders
	AvgFairProb     float64 `json:"avg_fair_prob"`     // implied win prob at entry

	Settled    int     `json:"settled"`
	Wins       int     `json:"wins"`
	WinRate    float64 `json:"win_rate"`
	AvgImplied float64 `json:"avg_implied"` // entry fair prob across settled
	Brier      float64 `json:"brier"`       // mean (fair_prob - outcome)²
	PnL        float64 `json:"pnl"`         // approximate realized dollars

	ByShape   map[string]BucketStats `json:"by_shape"`
	ByTTE     map[string]BucketStats `json:"by_tte"`
	ByStrikeD map[string]BucketStats `json:"by_strike_distance"`
}

// PerTradePnL returns PnL per settled order, 0 when nothing settled.
func (r Report) PerTradePnL() float64 {
	if r.Settled == 0 {
		return 0
	}
	return r.PnL / float64(r.Settled)
}

// BuildReport aggregates the window [from, to] over submission times.
func (l *Ledger) BuildReport(from, to time.Time) Report {
	r := Report{
		From:      from,
		To:        to,
		ByShape:   make(map[string]BucketStats),
		ByTTE:     make(map[string]BucketStats),
		ByStrikeD: make(map[string]BucketStats),
	}

	var sumEff, sumFair float64
	var sumImplied, sumBrier float64

	for _, o := range l.Orders {
		if o.SubmittedAt.Before(from) || o.SubmittedAt.After(to) {
			continue
		}
		// Hedge legs carry no model prediction. They count in realized
		// dollars only, never in the calibration aggregates the tuner
		// reads.
		if o.HedgeOf != "" {
			if o.Settled {
				r.PnL += o.CashDelta
			}
			continue
		}
		r.Placed++
		sumEff += o.EffectiveBps
		sumFair += o.FairProb
		if o.FillCount > 0 {
			r.Filled++
		}
		if !o.Settled {
			continue
		}

		r.Settled++
		outcome := 0.0
		if o.Won {
			r.Wins++
			outcome = 1
		}
		sumImplied += o.FairProb
		d := o.FairProb - outcome
		sumBrier += d * d
		r.PnL += o.CashDelta

		addBucket(r.ByShape, string(o.Shape), o)
		addBucket(r.ByTTE, domain.TTEBucket(o.HoursToExpiry), o)
		addBucket(r.ByStrikeD, domain.StrikeDistanceBucket(o.StrikeDistancePct), o)
	}

	if r.Placed > 0 {
		r.AvgEffectiveBps = sumEff / float64(r.Placed)
		r.AvgFairProb = sumFair / float64(r.Placed)
	}
	if r.Settled > 0 {
		r.WinRate = float64(r.Wins) / float64(r.Settled)
		r.AvgImplied = sumImplied / float64(r.Settled)
		r.Brier = sumBrier / float64(r.Settled)
	}
	return r
}

func addBucket(m map[string]BucketStats, key string, o domain.Order) {
	b := m[key]
	b.Settled++
	if o.Won {
		b.Wins++
	}
	b.PnL += o.CashDelta
	m[key] = b
}

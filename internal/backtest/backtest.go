package backtest

import (
	"sort"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ledger"
)

// Config holds replay cost assumptions. Fees and slippage are additive, in
// bps of filled notional per trade.
type Config struct {
	Lookback    time.Duration
	FeeBps      float64
	SlippageBps float64
	Folds       int // walk-forward fold count; <2 disables the split
}

// DefaultConfig returns the standard replay assumptions.
func DefaultConfig() Config {
	return Config{
		Lookback:    30 * 24 * time.Hour,
		FeeBps:      700,
		SlippageBps: 50,
		Folds:       4,
	}
}

// Summary aggregates one set of settled trades.
type Summary struct {
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	WinRate     float64 `json:"win_rate"`
	PnLRaw      float64 `json:"pnl_raw"`
	PnLAdjusted float64 `json:"pnl_adjusted"` // raw minus fee+slippage assumption
	Notional    float64 `json:"notional"`
}

// Fold is one chronological train/test split of the walk-forward.
type Fold struct {
	Index     int     `json:"index"`
	TrainRows int     `json:"train_rows"`
	TestRows  int     `json:"test_rows"`
	Train     Summary `json:"train"`
	Test      Summary `json:"test"`
	Skipped   bool    `json:"skipped"` // fewer than 2 points in the fold
}

// Report is the full backtest output.
type Report struct {
	From      time.Time          `json:"from"`
	To        time.Time          `json:"to"`
	Overall   Summary            `json:"overall"`
	ByAsset   map[string]Summary `json:"by_asset"`
	BySide    map[string]Summary `json:"by_side"`
	ByTTE     map[string]Summary `json:"by_tte"`
	Folds     []Fold             `json:"folds,omitempty"`
	Discarded int                `json:"discarded"` // settled rows outside the lookback
}

// trade is one replayed settled order.
type trade struct {
	order domain.Order
	at    time.Time // settlement time, submission time when unrecorded
	pnl   float64   // raw, before cost assumptions
	cost  float64   // fee + slippage dollars
}

// Run replays the ledger's settled orders within the lookback window ending
// at now. Pure computation over the loaded ledger.
func Run(book *ledger.Ledger, cfg Config, now time.Time) Report {
	from := now.Add(-cfg.Lookback)
	rep := Report{
		From:    from,
		To:      now,
		ByAsset: make(map[string]Summary),
		BySide:  make(map[string]Summary),
		ByTTE:   make(map[string]Summary),
	}

	trades := collect(book, cfg, from, now, &rep.Discarded)
	for _, tr := range trades {
		accumulate(&rep.Overall, tr)
		accumulateKey(rep.ByAsset, tr.order.Asset, tr)
		accumulateKey(rep.BySide, string(tr.order.Side), tr)
		accumulateKey(rep.ByTTE, domain.TTEBucket(tr.order.HoursToExpiry), tr)
	}
	finish(&rep.Overall)
	finishMap(rep.ByAsset)
	finishMap(rep.BySide)
	finishMap(rep.ByTTE)

	if cfg.Folds >= 2 {
		rep.Folds = walkForward(trades, cfg.Folds)
	}
	return rep
}

// collect gathers settled orders inside [from, now], oldest first.
func collect(book *ledger.Ledger, cfg Config, from, now time.Time, discarded *int) []trade {
	var trades []trade
	for _, o := range book.SettledOrders() {
		at := o.SubmittedAt
		if o.SettledAt != nil {
			at = *o.SettledAt
		}
		if at.Before(from) || at.After(now) {
			*discarded++
			continue
		}
		notional := o.FilledNotional()
		trades = append(trades, trade{
			order: o,
			at:    at,
			pnl:   o.CashDelta,
			cost:  notional * (cfg.FeeBps + cfg.SlippageBps) / 10000,
		})
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].at.Before(trades[j].at)
	})
	return trades
}

// walkForward splits trades chronologically into k folds. Fold i tests on
// slice i and trains on everything before it, so fold 0 has no training data
// and is reported but skipped. Folds with fewer than 2 test points are
// skipped rather than fabricated. The integer remainder of len/k is dropped
// from the tail and shows up in the row accounting.
func walkForward(trades []trade, k int) []Fold {
	per := len(trades) / k
	folds := make([]Fold, 0, k)
	for i := 0; i < k; i++ {
		f := Fold{Index: i}
		test := trades[i*per : (i+1)*per]
		train := trades[:i*per]
		f.TrainRows = len(train)
		f.TestRows = len(test)
		if len(test) < 2 || len(train) < 2 {
			f.Skipped = true
			folds = append(folds, f)
			continue
		}
		f.Train = summarize(train)
		f.Test = summarize(test)
		folds = append(folds, f)
	}
	return folds
}

func summarize(trades []trade) Summary {
	var s Summary
	for _, tr := range trades {
		accumulate(&s, tr)
	}
	finish(&s)
	return s
}

func accumulate(s *Summary, tr trade) {
	s.Trades++
	if tr.order.Won {
		s.Wins++
	}
	s.PnLRaw += tr.pnl
	s.PnLAdjusted += tr.pnl - tr.cost
	s.Notional += tr.order.FilledNotional()
}

func accumulateKey(m map[string]Summary, key string, tr trade) {
	s := m[key]
	accumulate(&s, tr)
	m[key] = s
}

func finish(s *Summary) {
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
	}
}

func finishMap(m map[string]Summary) {
	for k, s := range m {
		finish(&s)
		m[k] = s
	}
}

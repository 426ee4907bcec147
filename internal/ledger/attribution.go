package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// attribution.go — best-effort mapping of venue settlement records onto
// ledger orders.
//
// Settlement schemas drift across venue API versions, so parsing is an
// ordered list of (shape, extractor) variants, each independently testable.
// Records are content-hash-deduplicated; outcomes attribute FIFO to the
// oldest unsettled filled orders on the (ticker, side), splitting across
// orders when a settlement covers fewer contracts than are open. A record
// can never settle more contracts than were actually filled.

// settlementFact is the typed result of a successful extraction.
type settlementFact struct {
	Ticker     string
	Side       domain.Side
	Count      int
	YesOutcome bool // the market resolved YES
}

// Won reports whether this fact's side won.
func (f settlementFact) Won() bool {
	return (f.Side == domain.SideYes) == f.YesOutcome
}

// extractor is one schema variant. Returns all facts the record yields
// (a record holding both yes and no positions yields two).
type extractor struct {
	name string
	fn   func(raw map[string]any) ([]settlementFact, bool)
}

// extractors are tried in order; the first match wins.
var extractors = []extractor{
	{name: "result_string", fn: extractResultString},
	{name: "price_cents", fn: extractPriceCents},
	{name: "price_fraction", fn: extractPriceFraction},
}

// ApplySettlements runs dedup + parse + FIFO attribution over raw venue
// settlement records. Returns how many orders were touched.
func (l *Ledger) ApplySettlements(records []ports.SettlementRecord, now time.Time) int {
	touched := 0
	for _, rec := range records {
		hash := contentHash(rec.Raw)
		if l.seen(hash) {
			continue
		}
		l.markSeen(hash)

		facts, shape, ok := parseSettlement(rec.Raw)
		if !ok {
			l.recordUnattributed(hash, "no schema variant matched", rec.Raw, now)
			slog.Warn("ledger: unattributable settlement record", "hash", hash[:12])
			continue
		}

		for _, fact := range facts {
			n := l.attribute(fact, now)
			if n == 0 {
				l.recordUnattributed(hash, fmt.Sprintf("no open fills on %s/%s", fact.Ticker, fact.Side), rec.Raw, now)
				continue
			}
			touched += n
			slog.Info("ledger: settlement attributed",
				"ticker", fact.Ticker, "side", fact.Side, "count", fact.Count,
				"won", fact.Won(), "schema", shape)
		}
	}
	return touched
}

// attribute assigns the fact FIFO across open fills. Returns orders touched.
func (l *Ledger) attribute(fact settlementFact, now time.Time) int {
	open := l.UnsettledFilled(fact.Ticker, fact.Side)
	if len(open) == 0 {
		return 0
	}

	remaining := fact.Count
	touched := 0
	for _, o := range open {
		if remaining <= 0 {
			break
		}
		assign := o.OpenFillCount()
		if assign > remaining {
			assign = remaining
		}

		o.SettledCount += assign
		o.Won = fact.Won()
		if fact.Won() {
			o.CashDelta += float64(assign) * (1 - o.FillAvgPrice)
		} else {
			o.CashDelta -= float64(assign) * o.FillAvgPrice
		}
		if o.SettledCount >= o.FillCount {
			o.Settled = true
			t := now
			o.SettledAt = &t
		}
		l.Orders[o.IdempotencyKey] = o

		remaining -= assign
		touched++
	}
	return touched
}

// parseSettlement tries each schema variant in order.
func parseSettlement(raw map[string]any) ([]settlementFact, string, bool) {
	for _, ex := range extractors {
		if facts, ok := ex.fn(raw); ok {
			return facts, ex.name, true
		}
	}
	return nil, "", false
}

// extractResultString handles {"ticker": ..., "market_result": "yes"|"no",
// "yes_count": N, "no_count": M} and close variants.
func extractResultString(raw map[string]any) ([]settlementFact, bool) {
	ticker := stringField(raw, "ticker", "market_ticker")
	if ticker == "" {
		return nil, false
	}
	result := strings.ToLower(stringField(raw, "market_result", "result", "outcome"))
	if result != "yes" && result != "no" {
		return nil, false
	}
	yesOutcome := result == "yes"

	var facts []settlementFact
	if n, ok := intField(raw, "yes_count", "yes_total_count"); ok && n > 0 {
		facts = append(facts, settlementFact{Ticker: ticker, Side: domain.SideYes, Count: n, YesOutcome: yesOutcome})
	}
	if n, ok := intField(raw, "no_count", "no_total_count"); ok && n > 0 {
		facts = append(facts, settlementFact{Ticker: ticker, Side: domain.SideNo, Count: n, YesOutcome: yesOutcome})
	}
	if len(facts) == 0 {
		// Result known but counts missing: treat as single-side with count.
		n, ok := intField(raw, "count", "contracts")
		side := domain.Side(strings.ToLower(stringField(raw, "side")))
		if !ok || (side != domain.SideYes && side != domain.SideNo) {
			return nil, false
		}
		facts = append(facts, settlementFact{Ticker: ticker, Side: side, Count: n, YesOutcome: yesOutcome})
	}
	return facts, true
}

// extractPriceCents handles cent-like settled prices in 0–100; values at or
// above the midpoint mean YES. Heuristic, flagged in the diagnostics.
func extractPriceCents(raw map[string]any) ([]settlementFact, bool) {
	return extractPriced(raw, 100, 50)
}

// extractPriceFraction handles fractional settled prices in 0–1.
func extractPriceFraction(raw map[string]any) ([]settlementFact, bool) {
	return extractPriced(raw, 1, 0.5)
}

func extractPriced(raw map[string]any, scale, midpoint float64) ([]settlementFact, bool) {
	ticker := stringField(raw, "ticker", "market_ticker")
	if ticker == "" {
		return nil, false
	}
	price, ok := floatField(raw, "settled_price", "settlement_price", "price", "settlement_value")
	if !ok || price < 0 || price > scale {
		return nil, false
	}
	if scale == 100 && price <= 1 {
		// Ambiguous with the fractional shape; let the next variant claim it.
		return nil, false
	}
	count, ok := intField(raw, "count", "contracts", "quantity")
	if !ok || count <= 0 {
		return nil, false
	}
	side := domain.Side(strings.ToLower(stringField(raw, "side")))
	if side != domain.SideYes && side != domain.SideNo {
		return nil, false
	}
	return []settlementFact{{
		Ticker:     ticker,
		Side:       side,
		Count:      count,
		YesOutcome: price >= midpoint,
	}}, true
}

// contentHash produces a stable hash of the raw record for deduplication.
// Keys are sorted so map iteration order can't split identical records.
func contentHash(raw map[string]any) string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		b, _ := json.Marshal(raw[k])
		fmt.Fprintf(h, "%s=%s;", k, b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func stringField(raw map[string]any, names ...string) string {
	for _, n := range names {
		if v, ok := raw[n].(string); ok {
			return v
		}
	}
	return ""
}

func floatField(raw map[string]any, names ...string) (float64, bool) {
	for _, n := range names {
		switch v := raw[n].(type) {
		case float64:
			return v, true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func intField(raw map[string]any, names ...string) (int, bool) {
	f, ok := floatField(raw, names...)
	if !ok {
		return 0, false
	}
	return int(f), true
}

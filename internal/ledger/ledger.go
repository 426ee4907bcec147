package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const (
	ledgerDoc = "ledger/orders"

	maxSeenHashes       = 5000
	maxUnattributed     = 200
	maxDiagnosticSample = 10
)

// UnattributedRecord is one settlement the parser could not map to an order,
// kept for auditability instead of being silently dropped.
type UnattributedRecord struct {
	Hash   string    `json:"hash"`
	Reason string    `json:"reason"`
	SeenAt time.Time `json:"seen_at"`
}

// Ledger is the durable order/fill/settlement book. Loaded at cycle start,
// mutated in memory, atomically rewritten at cycle end. Orders are merge-only
// and never deleted.
type Ledger struct {
	Orders       map[string]domain.Order `json:"orders"` // idempotency key → order
	SeenHashes   []string                `json:"seen_hashes"`
	Unattributed []UnattributedRecord    `json:"unattributed"`

	// DiagnosticSample keeps a few raw unattributable payloads for schema
	// debugging against real venue data.
	DiagnosticSample []map[string]any `json:"diagnostic_sample,omitempty"`
}

// Load reads the ledger document, starting fresh when none exists.
func Load(ctx context.Context, store ports.DocumentStore) (*Ledger, error) {
	l := &Ledger{}
	err := store.Load(ctx, ledgerDoc, l)
	switch {
	case errors.Is(err, ports.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("ledger.Load: %w", err)
	}
	if l.Orders == nil {
		l.Orders = make(map[string]domain.Order)
	}
	return l, nil
}

// Save atomically replaces the ledger document.
func (l *Ledger) Save(ctx context.Context, store ports.DocumentStore) error {
	if err := store.Save(ctx, ledgerDoc, l); err != nil {
		return fmt.Errorf("ledger.Save: %w", err)
	}
	return nil
}

// RecordPlacement inserts the order if absent, otherwise merges field by
// field: existing non-empty values are never overwritten.
func (l *Ledger) RecordPlacement(o domain.Order) {
	existing, ok := l.Orders[o.IdempotencyKey]
	if !ok {
		l.Orders[o.IdempotencyKey] = o
		return
	}
	l.Orders[o.IdempotencyKey] = mergeOrder(existing, o)
}

// mergeOrder fills only the zero fields of dst from src.
func mergeOrder(dst, src domain.Order) domain.Order {
	if dst.VenueOrderID == "" {
		dst.VenueOrderID = src.VenueOrderID
	}
	if dst.Ticker == "" {
		dst.Ticker = src.Ticker
	}
	if dst.Asset == "" {
		dst.Asset = src.Asset
	}
	if dst.Side == "" {
		dst.Side = src.Side
	}
	if dst.Count == 0 {
		dst.Count = src.Count
	}
	if dst.Price == 0 {
		dst.Price = src.Price
	}
	if dst.SubmittedAt.IsZero() {
		dst.SubmittedAt = src.SubmittedAt
	}
	if dst.HedgeOf == "" {
		dst.HedgeOf = src.HedgeOf
	}
	// Fill and settlement state never merge from a placement; only
	// ConfirmFills and attribution write those.
	if dst.EdgeBps == 0 {
		dst.EdgeBps = src.EdgeBps
		dst.EffectiveBps = src.EffectiveBps
	}
	if dst.FairProb == 0 {
		dst.FairProb = src.FairProb
	}
	if dst.HoursToExpiry == 0 {
		dst.HoursToExpiry = src.HoursToExpiry
	}
	if dst.StrikeDistancePct == 0 {
		dst.StrikeDistancePct = src.StrikeDistancePct
	}
	if dst.Shape == "" {
		dst.Shape = src.Shape
	}
	return dst
}

// ConfirmFills applies confirmed fills (from the fills query, never the
// submission ack) to their orders: count plus volume-weighted average price.
func (l *Ledger) ConfirmFills(fills []ports.Fill) int {
	byVenueID := make(map[string][]ports.Fill)
	for _, f := range fills {
		if f.VenueOrderID == "" {
			continue
		}
		byVenueID[f.VenueOrderID] = append(byVenueID[f.VenueOrderID], f)
	}

	updated := 0
	for key, o := range l.Orders {
		fs, ok := byVenueID[o.VenueOrderID]
		if !ok || o.VenueOrderID == "" {
			continue
		}
		var count int
		var cost float64
		for _, f := range fs {
			count += f.Count
			cost += float64(f.Count) * f.Price
		}
		if count <= 0 || count == o.FillCount {
			continue
		}
		o.FillCount = count
		o.FillAvgPrice = cost / float64(count)
		l.Orders[key] = o
		updated++
		slog.Debug("ledger: fill confirmed",
			"ticker", o.Ticker, "side", o.Side, "count", count,
			"avg_price", fmt.Sprintf("%.2f", o.FillAvgPrice))
	}
	return updated
}

// PendingFillCheck returns the venue order ids of unsettled orders whose
// confirmed fills are still short of the submitted count. An order that
// rested in its submitting cycle may fill on the venue any time before
// expiry, so these ids get re-queried every cycle.
func (l *Ledger) PendingFillCheck() []string {
	var ids []string
	for _, o := range l.Orders {
		if o.VenueOrderID != "" && !o.Settled && o.FillCount < o.Count {
			ids = append(ids, o.VenueOrderID)
		}
	}
	sort.Strings(ids)
	return ids
}

// UnsettledFilled returns orders on (ticker, side) with open fills, oldest
// first — the FIFO attribution order.
func (l *Ledger) UnsettledFilled(ticker string, side domain.Side) []domain.Order {
	var out []domain.Order
	for _, o := range l.Orders {
		if o.Ticker == ticker && o.Side == side && o.OpenFillCount() > 0 {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// SettledOrders returns settled orders, oldest first.
func (l *Ledger) SettledOrders() []domain.Order {
	var out []domain.Order
	for _, o := range l.Orders {
		if o.Settled {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// OpenCountOn returns the number of unsettled orders on a ticker, resting
// zero-fill ones included. The conservative count feeds the risk gate's
// stacking cap.
func (l *Ledger) OpenCountOn(ticker string) int {
	n := 0
	for _, o := range l.Orders {
		if o.Ticker == ticker && !o.Settled {
			n++
		}
	}
	return n
}

// markSeen records a settlement content hash, bounded.
func (l *Ledger) markSeen(hash string) {
	l.SeenHashes = append(l.SeenHashes, hash)
	if len(l.SeenHashes) > maxSeenHashes {
		l.SeenHashes = l.SeenHashes[len(l.SeenHashes)-maxSeenHashes:]
	}
}

func (l *Ledger) seen(hash string) bool {
	for _, h := range l.SeenHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// recordUnattributed appends to the bounded rotating log and keeps a small
// raw sample for diagnostics.
func (l *Ledger) recordUnattributed(hash, reason string, raw map[string]any, now time.Time) {
	l.Unattributed = append(l.Unattributed, UnattributedRecord{Hash: hash, Reason: reason, SeenAt: now})
	if len(l.Unattributed) > maxUnattributed {
		l.Unattributed = l.Unattributed[len(l.Unattributed)-maxUnattributed:]
	}
	if len(l.DiagnosticSample) < maxDiagnosticSample {
		l.DiagnosticSample = append(l.DiagnosticSample, raw)
	}
}

package feeds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const (
	momentumDocPrefix  = "momentum/"
	momentumMaxPoints  = 500
	momentumMinSpacing = time.Minute
)

// ErrNoLookbackPoint means the persisted history has nothing at or before the
// lookback boundary yet.
var ErrNoLookbackPoint = errors.New("no price point at or before lookback boundary")

// Momentum persists a bounded per-asset price history and computes
// lookback-window returns from it.
type Momentum struct {
	store ports.DocumentStore
}

// NewMomentum builds a tracker over the given document store.
func NewMomentum(store ports.DocumentStore) *Momentum {
	return &Momentum{store: store}
}

// Record appends the reference price to the asset's persisted history.
// Points closer than a minute to the newest one are dropped.
func (m *Momentum) Record(ctx context.Context, ref domain.RefPrice) error {
	hist, err := m.load(ctx, ref.Asset)
	if err != nil {
		return err
	}
	hist.Append(domain.PricePoint{Price: ref.Price, ObservedAt: ref.ObservedAt},
		momentumMinSpacing, momentumMaxPoints)
	if err := m.store.Save(ctx, momentumDocPrefix+ref.Asset, hist); err != nil {
		return fmt.Errorf("feeds.Record: save history for %s: %w", ref.Asset, err)
	}
	return nil
}

// Return computes price_now/price_at_or_before(now-lookback) - 1.
// ErrNoLookbackPoint when the history does not reach back far enough.
func (m *Momentum) Return(ctx context.Context, asset string, now time.Time, priceNow float64, lookback time.Duration) (float64, error) {
	if priceNow <= 0 {
		return 0, fmt.Errorf("feeds.Return: non-positive current price for %s", asset)
	}
	hist, err := m.load(ctx, asset)
	if err != nil {
		return 0, err
	}
	p, ok := hist.AtOrBefore(now.Add(-lookback))
	if !ok || p.Price <= 0 {
		return 0, ErrNoLookbackPoint
	}
	return priceNow/p.Price - 1, nil
}

func (m *Momentum) load(ctx context.Context, asset string) (*domain.PriceHistory, error) {
	hist := &domain.PriceHistory{Asset: asset}
	err := m.store.Load(ctx, momentumDocPrefix+asset, hist)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("feeds: load history for %s: %w", asset, err)
	}
	return hist, nil
}

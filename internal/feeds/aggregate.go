package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Aggregator combines spot prices from independent reference exchanges into
// a robust median with cross-venue dispersion and staleness diagnostics.
type Aggregator struct {
	feeds []ports.PriceFeed
}

// NewAggregator builds an aggregator over the given venue subset.
func NewAggregator(feeds []ports.PriceFeed) *Aggregator {
	return &Aggregator{feeds: feeds}
}

// RefPrice queries every configured venue, discards failures, and returns the
// median of survivors. Zero survivors is an error: no reference price means
// no trading for that asset this cycle.
func (a *Aggregator) RefPrice(ctx context.Context, asset string) (domain.RefPrice, error) {
	var samples []domain.PriceSample
	for _, f := range a.feeds {
		s, err := f.Spot(ctx, asset)
		if err != nil {
			slog.Warn("feeds: venue spot failed", "venue", f.Venue(), "asset", asset, "err", err)
			continue
		}
		if s.Price <= 0 {
			slog.Warn("feeds: venue returned non-positive price", "venue", f.Venue(), "asset", asset)
			continue
		}
		samples = append(samples, s)
	}

	if len(samples) == 0 {
		return domain.RefPrice{}, fmt.Errorf("feeds.RefPrice: no venue returned a usable price for %s", asset)
	}
	return aggregate(asset, samples), nil
}

// aggregate folds surviving samples into the reference price.
func aggregate(asset string, samples []domain.PriceSample) domain.RefPrice {
	prices := make([]float64, len(samples))
	var maxStale time.Duration
	var observed time.Time
	for i, s := range samples {
		prices[i] = s.Price
		if st := s.Staleness(); st > maxStale {
			maxStale = st
		}
		if s.ObservedAt.After(observed) {
			observed = s.ObservedAt
		}
	}
	sort.Float64s(prices)

	med := median(prices)
	dispersion := 0.0
	if med > 0 {
		dispersion = (prices[len(prices)-1] - prices[0]) / med * 10000
	}

	return domain.RefPrice{
		Asset:         asset,
		Price:         med,
		DispersionBps: dispersion,
		MaxStaleness:  maxStale,
		Venues:        len(samples),
		ObservedAt:    observed,
	}
}

// median of a sorted slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

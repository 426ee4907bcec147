package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const (
	// Realized vol needs a minimum sample to mean anything.
	minVolObservations = 10

	secondsPerYear = 365.25 * 24 * 3600

	// Conservative-mode clamp band for annualized vol.
	volClampLow  = 0.20
	volClampHigh = 2.00
)

// Volatility estimates annualized realized volatility from historical hourly
// closes of the reference exchanges.
type Volatility struct {
	feeds    []ports.PriceFeed
	interval time.Duration // sampling interval of the closes
	window   int           // closes requested per venue
}

// NewVolatility builds an estimator over the given venues using hourly closes.
func NewVolatility(feeds []ports.PriceFeed, window int) *Volatility {
	if window <= 0 {
		window = 72
	}
	return &Volatility{feeds: feeds, interval: time.Hour, window: window}
}

// Annualized computes realized vol for the asset from the first venue that
// yields enough closes. Fewer than minVolObservations closes is unavailable.
func (v *Volatility) Annualized(ctx context.Context, asset string) (float64, error) {
	for _, f := range v.feeds {
		candles, err := f.HourlyCloses(ctx, asset, v.window)
		if err != nil {
			slog.Warn("feeds: hourly closes failed", "venue", f.Venue(), "asset", asset, "err", err)
			continue
		}
		sigma, ok := annualizedFromCloses(candles, v.interval)
		if ok {
			return sigma, nil
		}
	}
	return 0, fmt.Errorf("feeds.Annualized: insufficient close history for %s", asset)
}

// Conservative returns the max annualized vol across all venues, clamped to
// [volClampLow, volClampHigh]. Used when the engine wants to err on the side
// of wider distributions.
func (v *Volatility) Conservative(ctx context.Context, asset string) (float64, error) {
	best := 0.0
	found := false
	for _, f := range v.feeds {
		candles, err := f.HourlyCloses(ctx, asset, v.window)
		if err != nil {
			slog.Warn("feeds: hourly closes failed", "venue", f.Venue(), "asset", asset, "err", err)
			continue
		}
		sigma, ok := annualizedFromCloses(candles, v.interval)
		if !ok {
			continue
		}
		found = true
		if sigma > best {
			best = sigma
		}
	}
	if !found {
		return 0, fmt.Errorf("feeds.Conservative: no venue had enough close history for %s", asset)
	}
	if best < volClampLow {
		best = volClampLow
	}
	if best > volClampHigh {
		best = volClampHigh
	}
	return best, nil
}

// annualizedFromCloses computes the sample stdev of log returns and scales it
// by sqrt(secondsPerYear / interval).
func annualizedFromCloses(candles []ports.Candle, interval time.Duration) (float64, bool) {
	var returns []float64
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < minVolObservations {
		return 0, false
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	perInterval := math.Sqrt(variance)
	scale := math.Sqrt(secondsPerYear / interval.Seconds())
	return perInterval * scale, true
}

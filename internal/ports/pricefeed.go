package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Candle is one historical close used for realized volatility.
type Candle struct {
	Close    float64
	ClosedAt time.Time
}

// PriceFeed reads spot and historical prices from one reference exchange.
type PriceFeed interface {
	// Venue names the exchange ("coinbase", "kraken", ...).
	Venue() string

	// Spot returns the latest trade price for the asset.
	Spot(ctx context.Context, asset string) (domain.PriceSample, error)

	// HourlyCloses returns up to limit hourly closes, oldest first.
	HourlyCloses(ctx context.Context, asset string, limit int) ([]Candle, error)
}

// FundingFeed optionally exposes perpetual funding rates for regime filters.
type FundingFeed interface {
	// FundingRate returns the most recent funding rate for the asset.
	FundingRate(ctx context.Context, asset string) (float64, error)
}

// LiveTicks exposes the freshest sub-second reference price when a streaming
// connection is up. Implementations must never block the caller.
type LiveTicks interface {
	// Last returns the most recent tick for the asset, ok=false when the
	// stream has nothing fresh.
	Last(asset string) (domain.PriceSample, bool)
}

package prices

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
	"golang.org/x/time/rate"
)

const coinbaseBase = "https://api.exchange.coinbase.com"

// Coinbase reads spot and hourly candles from the Coinbase Exchange API.
type Coinbase struct {
	http    *http.Client
	limiter *rate.Limiter
	base    string
	pairs   map[string]string // asset → product id, e.g. BTC → BTC-USD
}

// NewCoinbase creates the feed. pairs maps assets to product ids; a missing
// asset falls back to <ASSET>-USD.
func NewCoinbase(pairs map[string]string) *Coinbase {
	return &Coinbase{
		http:    newHTTPClient(),
		limiter: newLimiter(),
		base:    coinbaseBase,
		pairs:   pairs,
	}
}

func (c *Coinbase) Venue() string { return "coinbase" }

type coinbaseTicker struct {
	Price string    `json:"price"`
	Time  time.Time `json:"time"`
}

// Spot returns the latest trade price.
func (c *Coinbase) Spot(ctx context.Context, asset string) (domain.PriceSample, error) {
	var t coinbaseTicker
	url := fmt.Sprintf("%s/products/%s/ticker", c.base, c.pair(asset))
	if err := getJSON(ctx, c.http, c.limiter, url, &t); err != nil {
		return domain.PriceSample{}, fmt.Errorf("prices.Coinbase.Spot: %w", err)
	}
	price, err := strconv.ParseFloat(t.Price, 64)
	if err != nil || price <= 0 {
		return domain.PriceSample{}, fmt.Errorf("prices.Coinbase.Spot: bad price %q", t.Price)
	}
	return domain.PriceSample{
		Venue:      c.Venue(),
		Symbol:     c.pair(asset),
		Price:      price,
		ObservedAt: time.Now().UTC(),
		QuotedAt:   t.Time,
	}, nil
}

// HourlyCloses returns up to limit hourly closes, oldest first. The API
// serves candles as [time, low, high, open, close, volume] rows, newest
// first.
func (c *Coinbase) HourlyCloses(ctx context.Context, asset string, limit int) ([]ports.Candle, error) {
	var rows [][6]float64
	url := fmt.Sprintf("%s/products/%s/candles?granularity=3600", c.base, c.pair(asset))
	if err := getJSON(ctx, c.http, c.limiter, url, &rows); err != nil {
		return nil, fmt.Errorf("prices.Coinbase.HourlyCloses: %w", err)
	}

	candles := make([]ports.Candle, 0, len(rows))
	for _, r := range rows {
		candles = append(candles, ports.Candle{
			Close:    r[4],
			ClosedAt: time.Unix(int64(r[0]), 0).UTC(),
		})
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].ClosedAt.Before(candles[j].ClosedAt)
	})
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (c *Coinbase) pair(asset string) string {
	if p, ok := c.pairs[asset]; ok {
		return p
	}
	return asset + "-USD"
}

package prices

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
	"golang.org/x/time/rate"
)

const geminiBase = "https://api.gemini.com"

// Gemini reads spot and hourly candles from the Gemini public API.
type Gemini struct {
	http    *http.Client
	limiter *rate.Limiter
	base    string
	pairs   map[string]string // asset → symbol, e.g. BTC → btcusd
}

func NewGemini(pairs map[string]string) *Gemini {
	return &Gemini{
		http:    newHTTPClient(),
		limiter: newLimiter(),
		base:    geminiBase,
		pairs:   pairs,
	}
}

func (g *Gemini) Venue() string { return "gemini" }

type geminiTicker struct {
	Last string `json:"last"`
}

// Spot returns the last trade price.
func (g *Gemini) Spot(ctx context.Context, asset string) (domain.PriceSample, error) {
	symbol := g.symbol(asset)
	var t geminiTicker
	url := fmt.Sprintf("%s/v1/pubticker/%s", g.base, symbol)
	if err := getJSON(ctx, g.http, g.limiter, url, &t); err != nil {
		return domain.PriceSample{}, fmt.Errorf("prices.Gemini.Spot: %w", err)
	}
	price, err := strconv.ParseFloat(t.Last, 64)
	if err != nil || price <= 0 {
		return domain.PriceSample{}, fmt.Errorf("prices.Gemini.Spot: bad price %q", t.Last)
	}
	return domain.PriceSample{
		Venue:      g.Venue(),
		Symbol:     symbol,
		Price:      price,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// HourlyCloses returns up to limit hourly closes, oldest first. Candle rows
// are [time_ms, open, high, low, close, volume], newest first.
func (g *Gemini) HourlyCloses(ctx context.Context, asset string, limit int) ([]ports.Candle, error) {
	var rows [][6]float64
	url := fmt.Sprintf("%s/v2/candles/%s/1hr", g.base, g.symbol(asset))
	if err := getJSON(ctx, g.http, g.limiter, url, &rows); err != nil {
		return nil, fmt.Errorf("prices.Gemini.HourlyCloses: %w", err)
	}

	candles := make([]ports.Candle, 0, len(rows))
	for _, r := range rows {
		if r[4] <= 0 {
			continue
		}
		candles = append(candles, ports.Candle{
			Close:    r[4],
			ClosedAt: time.UnixMilli(int64(r[0])).UTC(),
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

func (g *Gemini) symbol(asset string) string {
	if p, ok := g.pairs[asset]; ok {
		return p
	}
	return strings.ToLower(asset) + "usd"
}

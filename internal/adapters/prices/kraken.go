package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
	"golang.org/x/time/rate"
)

const krakenBase = "https://api.kraken.com"

// Kraken reads spot and hourly candles from the Kraken public API. Kraken
// wraps every payload in {"error": [...], "result": {...}} and keys the
// result by its own pair aliases, so responses are decoded in two steps.
type Kraken struct {
	http    *http.Client
	limiter *rate.Limiter
	base    string
	pairs   map[string]string // asset → pair, e.g. BTC → XBTUSD
}

func NewKraken(pairs map[string]string) *Kraken {
	return &Kraken{
		http:    newHTTPClient(),
		limiter: newLimiter(),
		base:    krakenBase,
		pairs:   pairs,
	}
}

func (k *Kraken) Venue() string { return "kraken" }

type krakenEnvelope struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

func (k *Kraken) call(ctx context.Context, url string) (json.RawMessage, error) {
	var env krakenEnvelope
	if err := getJSON(ctx, k.http, k.limiter, url, &env); err != nil {
		return nil, err
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("venue error: %s", strings.Join(env.Error, "; "))
	}
	// The result is keyed by Kraken's canonical pair name, which may differ
	// from the requested alias (XBTUSD → XXBTZUSD). Take the first non-meta
	// entry.
	for key, raw := range env.Result {
		if key == "last" {
			continue
		}
		return raw, nil
	}
	return nil, fmt.Errorf("empty result")
}

// Spot returns the last trade price ("c" field of the ticker).
func (k *Kraken) Spot(ctx context.Context, asset string) (domain.PriceSample, error) {
	pair := k.pair(asset)
	raw, err := k.call(ctx, fmt.Sprintf("%s/0/public/Ticker?pair=%s", k.base, pair))
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("prices.Kraken.Spot: %w", err)
	}
	var ticker struct {
		C []string `json:"c"` // [price, lot volume]
	}
	if err := json.Unmarshal(raw, &ticker); err != nil {
		return domain.PriceSample{}, fmt.Errorf("prices.Kraken.Spot: decode ticker: %w", err)
	}
	if len(ticker.C) == 0 {
		return domain.PriceSample{}, fmt.Errorf("prices.Kraken.Spot: ticker has no last trade")
	}
	price, err := strconv.ParseFloat(ticker.C[0], 64)
	if err != nil || price <= 0 {
		return domain.PriceSample{}, fmt.Errorf("prices.Kraken.Spot: bad price %q", ticker.C[0])
	}
	return domain.PriceSample{
		Venue:      k.Venue(),
		Symbol:     pair,
		Price:      price,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// HourlyCloses returns up to limit hourly closes, oldest first. OHLC rows
// are [time, open, high, low, close, vwap, volume, count] with prices as
// strings; Kraken already serves them oldest first.
func (k *Kraken) HourlyCloses(ctx context.Context, asset string, limit int) ([]ports.Candle, error) {
	pair := k.pair(asset)
	raw, err := k.call(ctx, fmt.Sprintf("%s/0/public/OHLC?pair=%s&interval=60", k.base, pair))
	if err != nil {
		return nil, fmt.Errorf("prices.Kraken.HourlyCloses: %w", err)
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("prices.Kraken.HourlyCloses: decode rows: %w", err)
	}

	candles := make([]ports.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		var ts float64
		var closeStr string
		if err := json.Unmarshal(row[0], &ts); err != nil {
			continue
		}
		if err := json.Unmarshal(row[4], &closeStr); err != nil {
			continue
		}
		price, err := strconv.ParseFloat(closeStr, 64)
		if err != nil || price <= 0 {
			continue
		}
		candles = append(candles, ports.Candle{
			Close:    price,
			ClosedAt: time.Unix(int64(ts), 0).UTC(),
		})
	}
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (k *Kraken) pair(asset string) string {
	if p, ok := k.pairs[asset]; ok {
		return p
	}
	if asset == "BTC" {
		return "XBTUSD"
	}
	return asset + "USD"
}

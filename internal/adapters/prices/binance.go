package prices

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

const binanceFuturesBase = "https://fapi.binance.com"

// BinanceFunding reads perpetual funding rates from Binance USD-M futures.
// Funding is a regime signal only, so a failed read degrades to "no filter"
// upstream rather than blocking a cycle.
type BinanceFunding struct {
	http    *http.Client
	limiter *rate.Limiter
	base    string
}

func NewBinanceFunding() *BinanceFunding {
	return &BinanceFunding{
		http:    newHTTPClient(),
		limiter: newLimiter(),
		base:    binanceFuturesBase,
	}
}

type premiumIndex struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
}

// FundingRate returns the most recent funding rate for the asset's USDT
// perpetual, e.g. 0.0001 for one basis point per interval.
func (b *BinanceFunding) FundingRate(ctx context.Context, asset string) (float64, error) {
	var idx premiumIndex
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%sUSDT", b.base, asset)
	if err := getJSON(ctx, b.http, b.limiter, url, &idx); err != nil {
		return 0, fmt.Errorf("prices.BinanceFunding.FundingRate: %w", err)
	}
	r, err := strconv.ParseFloat(idx.LastFundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("prices.BinanceFunding.FundingRate: bad rate %q", idx.LastFundingRate)
	}
	return r, nil
}

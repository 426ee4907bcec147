// Package prices implements the reference-exchange price feeds: spot quotes
// and hourly closes from Coinbase, Kraken and Gemini, perpetual funding from
// Binance, and a streaming live-tick feed.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	requestTimeout = 8 * time.Second

	// Public endpoints allow far more, but one cycle only needs a handful of
	// calls per venue.
	publicRatePerSec = 3
)

// getJSON fetches a public endpoint with rate limiting. No retries here: the
// aggregator already treats a failed venue as a discarded sample, and the
// volatility estimator skips to the next venue.
func getJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, url string, out any) error {
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

func newLimiter() *rate.Limiter {
	return rate.NewLimiter(publicRatePerSec, 5)
}

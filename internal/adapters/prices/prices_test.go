package prices

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCoinbase_Spot(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-USD/ticker", r.URL.Path)
		fmt.Fprint(w, `{"price":"64321.5","time":"2026-08-30T12:00:00Z"}`)
	})
	c := NewCoinbase(nil)
	c.base = srv.URL

	s, err := c.Spot(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "coinbase", s.Venue)
	assert.Equal(t, "BTC-USD", s.Symbol)
	assert.Equal(t, 64321.5, s.Price)
	assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), s.QuotedAt)
}

func TestCoinbase_HourlyClosesOldestFirstAndLimited(t *testing.T) {
	// Coinbase serves candles newest first: [time, low, high, open, close, volume].
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3600", r.URL.Query().Get("granularity"))
		fmt.Fprint(w, `[
			[10800, 0, 0, 0, 103, 1],
			[7200,  0, 0, 0, 102, 1],
			[3600,  0, 0, 0, 101, 1]
		]`)
	})
	c := NewCoinbase(nil)
	c.base = srv.URL

	candles, err := c.HourlyCloses(context.Background(), "BTC", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 102.0, candles[0].Close)
	assert.Equal(t, 103.0, candles[1].Close)
	assert.True(t, candles[0].ClosedAt.Before(candles[1].ClosedAt))
}

func TestKraken_SpotResolvesCanonicalPairKey(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "XBTUSD", r.URL.Query().Get("pair"))
		fmt.Fprint(w, `{"error":[],"result":{"XXBTZUSD":{"c":["64000.1","0.5"]}}}`)
	})
	k := NewKraken(nil)
	k.base = srv.URL

	s, err := k.Spot(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "kraken", s.Venue)
	assert.Equal(t, 64000.1, s.Price)
}

func TestKraken_VenueErrorSurfaces(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":["EQuery:Unknown asset pair"],"result":{}}`)
	})
	k := NewKraken(nil)
	k.base = srv.URL

	_, err := k.Spot(context.Background(), "BTC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown asset pair")
}

func TestKraken_HourlyClosesParsesStringPrices(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "60", r.URL.Query().Get("interval"))
		fmt.Fprint(w, `{"error":[],"result":{
			"XXBTZUSD":[
				[3600,"1","1","1","101","1","1",5],
				[7200,"1","1","1","102","1","1",5]
			],
			"last":7200
		}}`)
	})
	k := NewKraken(nil)
	k.base = srv.URL

	candles, err := k.HourlyCloses(context.Background(), "BTC", 10)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 102.0, candles[1].Close)
}

func TestGemini_HourlyClosesReordersNewestFirstFeed(t *testing.T) {
	// Gemini serves [time_ms, open, high, low, close, volume], newest first.
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/candles/ethusd/1hr", r.URL.Path)
		fmt.Fprint(w, `[
			[7200000, 0, 0, 0, 202, 1],
			[3600000, 0, 0, 0, 201, 1]
		]`)
	})
	g := NewGemini(nil)
	g.base = srv.URL

	candles, err := g.HourlyCloses(context.Background(), "ETH", 10)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 201.0, candles[0].Close)
	assert.Equal(t, 202.0, candles[1].Close)
}

func TestBinanceFunding_ParsesRate(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"symbol":"BTCUSDT","lastFundingRate":"0.00037500"}`)
	})
	b := NewBinanceFunding()
	b.base = srv.URL

	rate, err := b.FundingRate(context.Background(), "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0.000375, rate, 1e-9)
}

func TestTickStream_LastIgnoresStaleTicks(t *testing.T) {
	ts := NewTickStream([]string{"BTC"}, nil)

	ts.mu.Lock()
	ts.last["BTC"] = domain.PriceSample{
		Venue:      "coinbase",
		Price:      64000,
		ObservedAt: time.Now().UTC(),
	}
	ts.mu.Unlock()
	_, ok := ts.Last("BTC")
	assert.True(t, ok)

	ts.mu.Lock()
	ts.last["BTC"] = domain.PriceSample{
		Venue:      "coinbase",
		Price:      64000,
		ObservedAt: time.Now().UTC().Add(-time.Minute),
	}
	ts.mu.Unlock()
	_, ok = ts.Last("BTC")
	assert.False(t, ok, "ticks older than the freshness window must not be served")

	_, ok = ts.Last("ETH")
	assert.False(t, ok)
}

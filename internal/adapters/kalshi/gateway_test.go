package kalshi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, "", "")
	require.NoError(t, err)
	return NewGateway(client)
}

func TestListContracts_FollowsCursor(t *testing.T) {
	pages := map[string]marketsResponse{
		"": {
			Markets: []marketMsg{{
				Ticker: "KXBTCD-25AUG30-T64000", StrikeType: "greater",
				FloorStrike: 64000, YesBid: 55, YesAsk: 58, NoBid: 42, NoAsk: 45,
				Liquidity: 1000000, ExpirationTime: time.Now().Add(6 * time.Hour),
			}},
			Cursor: "page2",
		},
		"page2": {
			Markets: []marketMsg{{
				Ticker: "KXBTCD-25AUG30-T66000", StrikeType: "less",
				CapStrike: 66000, YesBid: 30, YesAsk: 33, NoBid: 67, NoAsk: 70,
			}},
		},
	}

	var gotSeries []string
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets", r.URL.Path)
		gotSeries = append(gotSeries, r.URL.Query().Get("series_ticker"))
		json.NewEncoder(w).Encode(pages[r.URL.Query().Get("cursor")])
	})

	contracts, err := g.ListContracts(context.Background(), "KXBTCD")
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Equal(t, []string{"KXBTCD", "KXBTCD"}, gotSeries)

	first := contracts[0]
	assert.Equal(t, domain.ShapeGreater, first.Shape)
	assert.Equal(t, 64000.0, first.Strike)
	assert.Equal(t, "BTC", first.Asset)
	assert.InDelta(t, 0.58, first.YesAsk, 1e-12, "cents convert to dollar fractions")
	assert.InDelta(t, 0.45, first.NoAsk, 1e-12)
	assert.InDelta(t, 10000.0, first.Liquidity, 1e-9)

	second := contracts[1]
	assert.Equal(t, domain.ShapeLess, second.Shape)
	assert.Equal(t, 66000.0, second.Strike)
}

func TestSubmitOrder_SendsCentsAndClientOrderID(t *testing.T) {
	var got orderMsg
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/portfolio/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{
			"order": map[string]any{"order_id": "ord-1", "status": "resting"},
		})
	})

	ack, err := g.SubmitOrder(context.Background(), ports.OrderRequest{
		Ticker: "KXBTCD-25AUG30-T64000", Side: domain.SideNo,
		Count: 3, Price: 0.45, IdempotencyKey: "key-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", ack.VenueOrderID)
	assert.Equal(t, "key-abc", got.ClientOrderID)
	assert.Equal(t, "buy", got.Action)
	assert.Equal(t, "limit", got.Type)
	assert.Equal(t, 45, got.NoPrice)
	assert.Zero(t, got.YesPrice)
}

func TestGetBalance_CentsToDollars(t *testing.T) {
	g := testGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(balanceResponse{Balance: 123456})
	})
	bal, err := g.GetBalance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1234.56, bal, 1e-9)
}

func TestToCents_Clamps(t *testing.T) {
	assert.Equal(t, 58, toCents(0.58))
	assert.Equal(t, 1, toCents(0.001))
	assert.Equal(t, 99, toCents(1.50))
}

func TestAssetFromSeries(t *testing.T) {
	assert.Equal(t, "BTC", assetFromSeries("KXBTCD", ""))
	assert.Equal(t, "ETH", assetFromSeries("", "KXETHD-25AUG30-T4000"))
	assert.Equal(t, "KXGOLD", assetFromSeries("KXGOLD", ""))
}

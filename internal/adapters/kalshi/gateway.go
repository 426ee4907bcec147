package kalshi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

const pageLimit = 200

// Gateway implements ports.MarketGateway against the Kalshi trade API.
// Kalshi prices are integer cents on the wire; the core works in dollar
// fractions, so conversion happens here and nowhere else.
type Gateway struct {
	client *Client
}

// NewGateway wraps a client.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// --- wire types ---

type marketMsg struct {
	Ticker         string    `json:"ticker"`
	Status         string    `json:"status"`
	StrikeType     string    `json:"strike_type"`
	FloorStrike    float64   `json:"floor_strike"`
	CapStrike      float64   `json:"cap_strike"`
	ExpirationTime time.Time `json:"expiration_time"`
	YesBid         int       `json:"yes_bid"`
	YesAsk         int       `json:"yes_ask"`
	NoBid          int       `json:"no_bid"`
	NoAsk          int       `json:"no_ask"`
	Liquidity      int       `json:"liquidity"`
}

type marketsResponse struct {
	Markets []marketMsg `json:"markets"`
	Cursor  string      `json:"cursor"`
}

type marketResponse struct {
	Market marketMsg `json:"market"`
}

type orderMsg struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
}

type orderResponse struct {
	Order struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	} `json:"order"`
}

type balanceResponse struct {
	Balance int `json:"balance"` // cents
}

type positionsResponse struct {
	MarketPositions []struct {
		Ticker   string `json:"ticker"`
		Position int    `json:"position"` // signed: + yes, - no
	} `json:"market_positions"`
	Cursor string `json:"cursor"`
}

type fillsResponse struct {
	Fills []struct {
		OrderID     string    `json:"order_id"`
		Ticker      string    `json:"ticker"`
		Side        string    `json:"side"`
		Count       int       `json:"count"`
		YesPrice    int       `json:"yes_price"`
		NoPrice     int       `json:"no_price"`
		CreatedTime time.Time `json:"created_time"`
	} `json:"fills"`
	Cursor string `json:"cursor"`
}

type settlementsResponse struct {
	Settlements []map[string]any `json:"settlements"`
	Cursor      string           `json:"cursor"`
}

// --- ports.MarketGateway ---

// ListContracts returns open markets for the series, following the cursor
// until the venue reports no more pages.
func (g *Gateway) ListContracts(ctx context.Context, series string) ([]domain.Contract, error) {
	var out []domain.Contract
	cursor := ""
	for {
		q := url.Values{
			"limit":  {strconv.Itoa(pageLimit)},
			"status": {"open"},
		}
		if series != "" {
			q.Set("series_ticker", series)
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp marketsResponse
		if err := g.client.get(ctx, "/markets", q, &resp); err != nil {
			return nil, fmt.Errorf("kalshi.ListContracts: %w", err)
		}
		now := time.Now().UTC()
		for _, m := range resp.Markets {
			out = append(out, toContract(m, series, now))
		}
		if resp.Cursor == "" || len(resp.Markets) == 0 {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

// GetContract re-fetches a single market's freshest quote.
func (g *Gateway) GetContract(ctx context.Context, ticker string) (domain.Contract, error) {
	var resp marketResponse
	if err := g.client.get(ctx, "/markets/"+ticker, nil, &resp); err != nil {
		return domain.Contract{}, fmt.Errorf("kalshi.GetContract: %w", err)
	}
	return toContract(resp.Market, "", time.Now().UTC()), nil
}

// SubmitOrder places a limit buy. The idempotency key rides as the client
// order id, so a retried submission cannot double-fill.
func (g *Gateway) SubmitOrder(ctx context.Context, req ports.OrderRequest) (ports.OrderAck, error) {
	msg := orderMsg{
		Ticker:        req.Ticker,
		ClientOrderID: req.IdempotencyKey,
		Side:          string(req.Side),
		Action:        "buy",
		Count:         req.Count,
		Type:          "limit",
	}
	switch req.Side {
	case domain.SideYes:
		msg.YesPrice = toCents(req.Price)
	case domain.SideNo:
		msg.NoPrice = toCents(req.Price)
	default:
		return ports.OrderAck{}, fmt.Errorf("kalshi.SubmitOrder: bad side %q", req.Side)
	}

	var resp orderResponse
	if err := g.client.post(ctx, "/portfolio/orders", msg, &resp); err != nil {
		return ports.OrderAck{}, fmt.Errorf("kalshi.SubmitOrder: %w", err)
	}
	return ports.OrderAck{VenueOrderID: resp.Order.OrderID, Status: resp.Order.Status}, nil
}

// GetBalance returns available dollars.
func (g *Gateway) GetBalance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	if err := g.client.get(ctx, "/portfolio/balance", nil, &resp); err != nil {
		return 0, fmt.Errorf("kalshi.GetBalance: %w", err)
	}
	return float64(resp.Balance) / 100, nil
}

// GetPositions returns open positions across all tickers.
func (g *Gateway) GetPositions(ctx context.Context) ([]ports.Position, error) {
	var out []ports.Position
	cursor := ""
	for {
		q := url.Values{"limit": {strconv.Itoa(pageLimit)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp positionsResponse
		if err := g.client.get(ctx, "/portfolio/positions", q, &resp); err != nil {
			return nil, fmt.Errorf("kalshi.GetPositions: %w", err)
		}
		for _, p := range resp.MarketPositions {
			if p.Position == 0 {
				continue
			}
			pos := ports.Position{Ticker: p.Ticker, Side: domain.SideYes, Count: p.Position}
			if p.Position < 0 {
				pos.Side = domain.SideNo
				pos.Count = -p.Position
			}
			out = append(out, pos)
		}
		if resp.Cursor == "" || len(resp.MarketPositions) == 0 {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

// GetFills returns confirmed fills for the given venue order ids. The API
// filters one order id per query.
func (g *Gateway) GetFills(ctx context.Context, venueOrderIDs []string) ([]ports.Fill, error) {
	var out []ports.Fill
	for _, id := range venueOrderIDs {
		q := url.Values{
			"order_id": {id},
			"limit":    {strconv.Itoa(pageLimit)},
		}
		var resp fillsResponse
		if err := g.client.get(ctx, "/portfolio/fills", q, &resp); err != nil {
			return nil, fmt.Errorf("kalshi.GetFills: %w", err)
		}
		for _, f := range resp.Fills {
			side := domain.Side(f.Side)
			price := f.YesPrice
			if side == domain.SideNo {
				price = f.NoPrice
			}
			out = append(out, ports.Fill{
				VenueOrderID: f.OrderID,
				Ticker:       f.Ticker,
				Side:         side,
				Count:        f.Count,
				Price:        fromCents(price),
				FilledAt:     f.CreatedTime,
			})
		}
	}
	return out, nil
}

// GetSettlements returns raw settlement rows in [from, to]. The payload stays
// loose; the ledger's ordered extractors own the schema tolerance.
func (g *Gateway) GetSettlements(ctx context.Context, from, to time.Time) ([]ports.SettlementRecord, error) {
	var out []ports.SettlementRecord
	cursor := ""
	for {
		q := url.Values{
			"limit":  {strconv.Itoa(pageLimit)},
			"min_ts": {strconv.FormatInt(from.Unix(), 10)},
			"max_ts": {strconv.FormatInt(to.Unix(), 10)},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp settlementsResponse
		if err := g.client.get(ctx, "/portfolio/settlements", q, &resp); err != nil {
			return nil, fmt.Errorf("kalshi.GetSettlements: %w", err)
		}
		for _, raw := range resp.Settlements {
			out = append(out, ports.SettlementRecord{Raw: raw})
		}
		if resp.Cursor == "" || len(resp.Settlements) == 0 {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

// --- mapping ---

func toContract(m marketMsg, series string, now time.Time) domain.Contract {
	c := domain.Contract{
		Ticker:     m.Ticker,
		Asset:      assetFromSeries(series, m.Ticker),
		Expiration: m.ExpirationTime,
		YesBid:     fromCents(m.YesBid),
		YesAsk:     fromCents(m.YesAsk),
		NoBid:      fromCents(m.NoBid),
		NoAsk:      fromCents(m.NoAsk),
		Liquidity:  float64(m.Liquidity) / 100,
		FetchedAt:  now,
	}
	switch m.StrikeType {
	case "greater", "greater_or_equal":
		c.Shape = domain.ShapeGreater
		c.Strike = m.FloorStrike
	case "less", "less_or_equal":
		c.Shape = domain.ShapeLess
		c.Strike = m.CapStrike
	case "between":
		c.Shape = domain.ShapeBetween
		c.StrikeLow = m.FloorStrike
		c.StrikeHigh = m.CapStrike
	default:
		c.Shape = domain.Shape(m.StrikeType)
	}
	return c
}

// assetFromSeries extracts the reference asset from the series ticker, e.g.
// KXBTCD → BTC. Falls back to the market ticker's series prefix.
func assetFromSeries(series, ticker string) string {
	s := series
	if s == "" {
		for i, r := range ticker {
			if r == '-' {
				s = ticker[:i]
				break
			}
		}
	}
	s = strings.ToUpper(s)
	for _, asset := range []string{"BTC", "ETH", "SOL", "XRP", "DOGE"} {
		if strings.Contains(s, asset) {
			return asset
		}
	}
	return s
}

// toCents converts a dollar fraction to integer cents, clamped to [1, 99].
func toCents(price float64) int {
	c := int(price*100 + 0.5)
	if c < 1 {
		c = 1
	}
	if c > 99 {
		c = 99
	}
	return c
}

func fromCents(c int) float64 {
	return float64(c) / 100
}

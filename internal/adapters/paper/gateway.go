// Package paper wraps a real market gateway for dry runs: reads pass
// through, writes are simulated locally. Submitted orders fill instantly at
// their limit price so the full execute/confirm/ledger path gets exercised
// without touching the venue's order book.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// Gateway is a dry-run ports.MarketGateway.
type Gateway struct {
	real    ports.MarketGateway
	balance float64

	mu    sync.Mutex
	seq   int
	fills map[string]ports.Fill // venue order id → simulated fill
}

// New wraps the real gateway. balance is the virtual bankroll reported by
// GetBalance.
func New(real ports.MarketGateway, balance float64) *Gateway {
	return &Gateway{real: real, balance: balance, fills: make(map[string]ports.Fill)}
}

func (g *Gateway) ListContracts(ctx context.Context, series string) ([]domain.Contract, error) {
	return g.real.ListContracts(ctx, series)
}

func (g *Gateway) GetContract(ctx context.Context, ticker string) (domain.Contract, error) {
	return g.real.GetContract(ctx, ticker)
}

// SubmitOrder records a virtual order and schedules an immediate full fill.
func (g *Gateway) SubmitOrder(_ context.Context, req ports.OrderRequest) (ports.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := fmt.Sprintf("paper-%d", g.seq)
	g.fills[id] = ports.Fill{
		VenueOrderID: id,
		Ticker:       req.Ticker,
		Side:         req.Side,
		Count:        req.Count,
		Price:        req.Price,
		FilledAt:     time.Now().UTC(),
	}
	slog.Info("paper: virtual order filled",
		"ticker", req.Ticker,
		"side", req.Side,
		"count", req.Count,
		"price", req.Price,
	)
	return ports.OrderAck{VenueOrderID: id, Status: "executed"}, nil
}

func (g *Gateway) GetBalance(context.Context) (float64, error) {
	return g.balance, nil
}

// GetPositions reports nothing open; virtual fills never stack on the venue.
func (g *Gateway) GetPositions(context.Context) ([]ports.Position, error) {
	return nil, nil
}

func (g *Gateway) GetFills(_ context.Context, venueOrderIDs []string) ([]ports.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []ports.Fill
	for _, id := range venueOrderIDs {
		if f, ok := g.fills[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// GetSettlements returns nothing: virtual orders never settle, so dry runs
// leave the real ledger's settled history untouched.
func (g *Gateway) GetSettlements(context.Context, time.Time, time.Time) ([]ports.SettlementRecord, error) {
	return nil, nil
}

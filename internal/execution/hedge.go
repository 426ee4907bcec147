package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// hedge.go — opportunistic paired hedge.
//
// After a primary fill, buying the complementary side of the same contract
// locks $1 per pair at expiry. The hedge goes out only when the combined
// worst-case cost clears the profit buffer and the run budget allows it.
// A failed hedge leg does NOT unwind the primary: the asymmetric risk is
// accepted and surfaced through the outcome's diagnostic.

// tryHedge attempts the complementary leg. Returns whether it filled and a
// warning string when the leg failed after the primary was already on.
func (c *Controller) tryHedge(ctx context.Context, contract domain.Contract, primarySide domain.Side, primaryAvg float64, count int, primaryKey string, in ExecuteInputs) (bool, string) {
	hedgeSide := primarySide.Opposite()
	hedgeAsk := contract.AskFor(hedgeSide)
	if hedgeAsk <= 0 {
		return false, ""
	}

	combined := primaryAvg + hedgeAsk
	if combined > 1-c.cfg.HedgeMinProfit {
		return false, ""
	}

	notional := float64(count) * hedgeAsk
	if notional > c.gate.RemainingRunBudget() {
		return false, ""
	}
	if ok, _ := c.gate.AllowNotional(contract.Ticker, notional, 0); !ok {
		return false, ""
	}

	key := c.freshKey()
	ack, err := c.gateway.SubmitOrder(ctx, ports.OrderRequest{
		Ticker:         contract.Ticker,
		Side:           hedgeSide,
		Count:          count,
		Price:          hedgeAsk,
		IdempotencyKey: key,
	})
	if err != nil {
		warn := fmt.Sprintf("hedge leg failed after primary fill on %s: %v", contract.Ticker, err)
		slog.Warn("exec: "+warn, "primary_side", primarySide)
		return false, warn
	}

	c.book.RecordPlacement(domain.Order{
		IdempotencyKey: key,
		VenueOrderID:   ack.VenueOrderID,
		Ticker:         contract.Ticker,
		Asset:          contract.Asset,
		Side:           hedgeSide,
		Count:          count,
		Price:          hedgeAsk,
		SubmittedAt:    in.Now,
		HedgeOf:        primaryKey,
		Shape:          contract.Shape,
		HoursToExpiry:  contract.HoursToExpiry(in.Now),
	})

	fillCount, avg := c.confirmFills(ctx, ack.VenueOrderID)
	if fillCount == 0 {
		return false, fmt.Sprintf("hedge leg rested without fills on %s", contract.Ticker)
	}
	c.gate.State().Commit(contract.Ticker, float64(fillCount)*avg)

	slog.Info("exec: hedge filled",
		"ticker", contract.Ticker, "side", hedgeSide,
		"count", fillCount,
		"locked_profit", fmt.Sprintf("$%.2f", float64(fillCount)*(1-primaryAvg-avg)))
	return true, ""
}

// PairProfitPerDollar returns the guaranteed profit per dollar contract when
// both sides are bought at the given asks, before fees. Buying both at
// 0.45/0.45 yields 0.10 per contract — a 1000 bps edge on the pair.
func PairProfitPerDollar(yesAsk, noAsk float64) float64 {
	return 1 - (yesAsk + noAsk)
}

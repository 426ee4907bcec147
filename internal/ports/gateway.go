package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// OrderRequest is a limit buy submitted to the venue.
type OrderRequest struct {
	Ticker         string
	Side           domain.Side
	Count          int
	Price          float64 // dollars in (0,1)
	IdempotencyKey string
}

// OrderAck is the venue's immediate response to a submission. Fill state in
// the ack is advisory only — confirmed fills come from GetFills.
type OrderAck struct {
	VenueOrderID string
	Status       string // e.g. "resting", "executed", "canceled"
}

// Fill is one confirmed execution reported by the venue.
type Fill struct {
	VenueOrderID string
	Ticker       string
	Side         domain.Side
	Count        int
	Price        float64
	FilledAt     time.Time
}

// SettlementRecord is a raw settlement row from the venue. The schema varies
// across API versions, so the payload is kept loose and parsed by the
// ledger's ordered extractors.
type SettlementRecord struct {
	Raw map[string]any
}

// Position is an open venue position for one ticker.
type Position struct {
	Ticker string
	Side   domain.Side
	Count  int
}

// MarketGateway lists contracts and routes orders on the prediction-market
// venue.
type MarketGateway interface {
	// ListContracts returns open contracts, optionally filtered by series.
	// Paginates internally until the venue cursor is exhausted.
	ListContracts(ctx context.Context, series string) ([]domain.Contract, error)

	// GetContract re-fetches a single contract's freshest quote.
	GetContract(ctx context.Context, ticker string) (domain.Contract, error)

	// SubmitOrder places a limit buy. The idempotency key makes retries safe.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// GetBalance returns the available dollar balance.
	GetBalance(ctx context.Context) (float64, error)

	// GetPositions returns current open positions.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetFills returns confirmed fills for the venue order IDs given.
	GetFills(ctx context.Context, venueOrderIDs []string) ([]Fill, error)

	// GetSettlements returns settlement records in [from, to].
	GetSettlements(ctx context.Context, from, to time.Time) ([]SettlementRecord, error)
}

package prices

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	coinbaseWSURL = "wss://ws-feed.exchange.coinbase.com"

	tickMaxAge        = 10 * time.Second
	reconnectDelay    = 1 * time.Second
	maxReconnectDelay = 30 * time.Second
)

// TickStream keeps a Coinbase ticker websocket open for a set of assets and
// remembers the last trade per asset. Readers never block: Last returns the
// cached tick or ok=false when the stream has nothing fresh.
type TickStream struct {
	assets []string
	pairs  map[string]string // asset → product id

	mu   sync.RWMutex
	last map[string]domain.PriceSample
}

// NewTickStream creates the stream for the given assets. Start must be
// called before ticks appear.
func NewTickStream(assets []string, pairs map[string]string) *TickStream {
	return &TickStream{
		assets: assets,
		pairs:  pairs,
		last:   make(map[string]domain.PriceSample),
	}
}

// Last returns the most recent tick for the asset. Stale ticks are treated
// as absent so a dead stream cannot masquerade as a live price.
func (t *TickStream) Last(asset string) (domain.PriceSample, bool) {
	t.mu.RLock()
	s, ok := t.last[asset]
	t.mu.RUnlock()
	if !ok || time.Since(s.ObservedAt) > tickMaxAge {
		return domain.PriceSample{}, false
	}
	return s, true
}

// Start runs the connect/subscribe/read loop until ctx is cancelled.
// Intended to run in its own goroutine.
func (t *TickStream) Start(ctx context.Context) {
	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}
		err := t.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("prices: tick stream disconnected",
			"error", err,
			"retry_in", delay,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

type tickerSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type tickerMsg struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id"`
	Price     string    `json:"price"`
	Time      time.Time `json:"time"`
}

func (t *TickStream) readLoop(ctx context.Context) error {
	products := make([]string, 0, len(t.assets))
	byProduct := make(map[string]string, len(t.assets))
	for _, a := range t.assets {
		p := t.product(a)
		products = append(products, p)
		byProduct[p] = a
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, coinbaseWSURL, nil)
	if err != nil {
		return fmt.Errorf("prices.TickStream: dial: %w", err)
	}
	defer conn.Close()

	sub := tickerSubscribe{Type: "subscribe", ProductIDs: products, Channels: []string{"ticker"}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("prices.TickStream: subscribe: %w", err)
	}
	slog.Info("prices: tick stream connected", "products", products)

	// Unblock ReadJSON when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg tickerMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("prices.TickStream: read: %w", err)
		}
		if msg.Type != "ticker" {
			continue
		}
		asset, ok := byProduct[msg.ProductID]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		t.mu.Lock()
		t.last[asset] = domain.PriceSample{
			Venue:      "coinbase",
			Symbol:     msg.ProductID,
			Price:      price,
			ObservedAt: time.Now().UTC(),
			QuotedAt:   msg.Time,
		}
		t.mu.Unlock()
	}
}

func (t *TickStream) product(asset string) string {
	if p, ok := t.pairs[asset]; ok {
		return p
	}
	return strings.ToUpper(asset) + "-USD"
}

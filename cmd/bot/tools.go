package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/kalshibot/config"
	"github.com/alejandrodnm/kalshibot/internal/adapters/notify"
	"github.com/alejandrodnm/kalshibot/internal/autotune"
	"github.com/alejandrodnm/kalshibot/internal/backtest"
	"github.com/alejandrodnm/kalshibot/internal/cycle"
	"github.com/alejandrodnm/kalshibot/internal/ledger"
	"github.com/alejandrodnm/kalshibot/internal/ports"
)

// runReport prints the closed-loop performance report over the standard
// window and exits.
func runReport(ctx context.Context, store ports.DocumentStore, console *notify.Console) {
	book, err := ledger.Load(ctx, store)
	if err != nil {
		slog.Error("failed to load ledger", "err", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	window := cycle.DefaultConfig().ReportWindow
	console.PrintReport(book.BuildReport(now.Add(-window), now))
}

// runBacktest replays the settled ledger through the fee and slippage model.
func runBacktest(ctx context.Context, store ports.DocumentStore, console *notify.Console) {
	book, err := ledger.Load(ctx, store)
	if err != nil {
		slog.Error("failed to load ledger", "err", err)
		os.Exit(1)
	}

	console.PrintBacktest(backtest.Run(book, backtest.DefaultConfig(), time.Now().UTC()))
}

// runTunerStatus prints the champion/challenger state.
func runTunerStatus(ctx context.Context, store ports.DocumentStore, console *notify.Console, cfg *config.Config) {
	tuner, err := autotune.Load(ctx, store, tuneConfig(cfg))
	if err != nil {
		slog.Error("failed to load tuner state", "err", err)
		os.Exit(1)
	}
	console.PrintTunerStatus(*tuner.State())
}

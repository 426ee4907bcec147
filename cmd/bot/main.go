package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/kalshibot/config"
	"github.com/alejandrodnm/kalshibot/internal/adapters/kalshi"
	"github.com/alejandrodnm/kalshibot/internal/adapters/notify"
	"github.com/alejandrodnm/kalshibot/internal/adapters/paper"
	"github.com/alejandrodnm/kalshibot/internal/adapters/prices"
	"github.com/alejandrodnm/kalshibot/internal/adapters/storage"
	"github.com/alejandrodnm/kalshibot/internal/autotune"
	"github.com/alejandrodnm/kalshibot/internal/cycle"
	"github.com/alejandrodnm/kalshibot/internal/decision"
	"github.com/alejandrodnm/kalshibot/internal/domain"
	"github.com/alejandrodnm/kalshibot/internal/execution"
	"github.com/alejandrodnm/kalshibot/internal/feeds"
	"github.com/alejandrodnm/kalshibot/internal/metrics"
	"github.com/alejandrodnm/kalshibot/internal/ports"
	"github.com/alejandrodnm/kalshibot/internal/risk"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one trading cycle and exit")
	dryRun := flag.Bool("dry-run", false, "simulate order submission, never touch the venue's book")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full per-contract tables (default: compact 1-line)")
	interval := flag.Duration("interval", 5*time.Minute, "delay between cycles")
	report := flag.Bool("report", false, "print the settlement performance report and exit")
	backtestMode := flag.Bool("backtest", false, "replay the settled ledger through the cost model and exit")
	tunerStatus := flag.Bool("tuner-status", false, "print the parameter tuner state and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, closeStore, err := openStore(cfg.Storage, *dryRun)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "backend", cfg.Storage.Backend)
		os.Exit(1)
	}
	defer closeStore()

	notifier := notify.NewConsole(*table)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Read-only modes need the documents, not the venue.
	switch {
	case *report:
		runReport(ctx, store, notifier)
		return
	case *backtestMode:
		runBacktest(ctx, store, notifier)
		return
	case *tunerStatus:
		runTunerStatus(ctx, store, notifier, cfg)
		return
	}

	slog.Info("kalshibot starting",
		"config", *configPath,
		"interval", *interval,
		"dry_run", *dryRun,
		"once", *once,
		"assets", len(cfg.Assets),
	)

	orch, ticks, err := buildOrchestrator(cfg, store, notifier, *dryRun)
	if err != nil {
		slog.Error("failed to wire components", "err", err)
		os.Exit(1)
	}
	if ticks != nil {
		go ticks.Start(ctx)
	}

	if cfg.Metrics.Enabled {
		startMetrics(ctx, cfg.Metrics.Port)
	}

	if *once {
		if _, err := runCycle(ctx, orch, cfg); err != nil {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		return
	}

	runLoop(ctx, orch, cfg, *interval)
	slog.Info("kalshibot stopped cleanly")
}

// runLoop runs a cycle immediately and then on every tick until shutdown.
func runLoop(ctx context.Context, orch *cycle.Orchestrator, cfg *config.Config, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := runCycle(ctx, orch, cfg); err != nil {
			slog.Error("cycle failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runCycle(ctx context.Context, orch *cycle.Orchestrator, cfg *config.Config) (*cycle.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, cfg.CycleTimeout())
	defer cancel()

	res, err := orch.RunOnce(cctx)
	if errors.Is(err, cycle.ErrLockHeld) {
		slog.Warn("cycle: another run holds the lock, skipping")
		return nil, nil
	}
	return res, err
}

// buildOrchestrator wires every adapter and engine into the cycle deps.
func buildOrchestrator(cfg *config.Config, store ports.DocumentStore, notifier ports.Notifier, dryRun bool) (*cycle.Orchestrator, *prices.TickStream, error) {
	client, err := kalshi.NewClient(cfg.Venue.BaseURL, cfg.Venue.KeyID, cfg.Venue.PrivateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("kalshi client: %w", err)
	}

	var gateway ports.MarketGateway = kalshi.NewGateway(client)
	if dryRun {
		gateway = paper.New(gateway, cfg.Risk.MaxRunNotional)
	}

	assets := make([]string, 0, len(cfg.Assets))
	pairs := make(map[string]string, len(cfg.Assets))
	assetCfgs := make([]cycle.AssetConfig, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets = append(assets, a.Asset)
		if a.Symbol != "" {
			pairs[a.Asset] = a.Symbol
		}
		assetCfgs = append(assetCfgs, cycle.AssetConfig{
			Asset:         a.Asset,
			Series:        a.Series,
			BaselineSigma: a.BaselineSigma,
		})
	}

	feedList, err := buildFeeds(cfg.Feeds.Venues, pairs)
	if err != nil {
		return nil, nil, err
	}

	var funding ports.FundingFeed
	if cfg.Feeds.FundingEnabled {
		funding = prices.NewBinanceFunding()
	}
	var ticks *prices.TickStream
	if cfg.Feeds.LiveTicks {
		ticks = prices.NewTickStream(assets, pairs)
	}

	var m *metrics.Set
	if cfg.Metrics.Enabled {
		m = metricsSet()
	}

	deps := cycle.Deps{
		Gateway:  gateway,
		Prices:   feeds.NewAggregator(feedList),
		Vol:      feeds.NewVolatility(feedList, cfg.Feeds.VolWindowHours),
		Momentum: feeds.NewMomentum(store),
		Funding:  funding,
		Store:    store,
		Engine:   decision.New(decisionConfig(cfg)),
		Notifier: notifier,
		Metrics:  m,
		RiskCfg:  riskConfig(cfg),
		Sizing:   sizingConfig(cfg),
		ExecCfg:  execConfig(cfg),
		TuneCfg:  tuneConfig(cfg),
	}
	if ticks != nil {
		deps.Ticks = ticks
	}

	ccfg := cycle.DefaultConfig()
	ccfg.Assets = assetCfgs
	return cycle.New(deps, ccfg), ticks, nil
}

func buildFeeds(venues []string, pairs map[string]string) ([]ports.PriceFeed, error) {
	var out []ports.PriceFeed
	for _, v := range venues {
		switch v {
		case "coinbase":
			out = append(out, prices.NewCoinbase(pairs))
		case "kraken":
			out = append(out, prices.NewKraken(nil))
		case "gemini":
			out = append(out, prices.NewGemini(nil))
		default:
			return nil, fmt.Errorf("unknown price venue %q", v)
		}
	}
	return out, nil
}

func openStore(cfg config.StorageConfig, dryRun bool) (ports.DocumentStore, func(), error) {
	backend := cfg.Backend
	if dryRun {
		// Dry runs must not mutate real state documents.
		backend = "memory"
	}
	switch backend {
	case "memory":
		return storage.NewMemStore(), func() {}, nil
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := storage.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

func decisionConfig(cfg *config.Config) decision.Config {
	dc := decision.DefaultConfig()
	dc.MinHoursToExpiry = cfg.Trading.MinHoursToExpiry
	dc.MinLiquidity = cfg.Trading.MinLiquidity
	dc.MaxSpread = cfg.Trading.MaxSpread
	dc.FeeRate = cfg.Trading.FeeRate
	dc.BlendEnabled = cfg.Trading.BlendEnabled
	return dc
}

func riskConfig(cfg *config.Config) risk.Config {
	rc := risk.DefaultConfig()
	rc.MaxOrderNotional = cfg.Risk.MaxOrderNotional
	rc.MaxMarketNotional = cfg.Risk.MaxMarketNotional
	rc.MaxRunNotional = cfg.Risk.MaxRunNotional
	rc.MaxOpenPerTicker = cfg.Risk.MaxOpenPerTicker
	rc.EscalationWindow = cfg.Risk.EscalationWindow
	rc.EscalationErrors = cfg.Risk.EscalationErrors
	return rc
}

func sizingConfig(cfg *config.Config) risk.SizingConfig {
	sc := risk.DefaultSizingConfig()
	sc.Mode = risk.SizingMode(cfg.Sizing.Mode)
	sc.FixedCount = cfg.Sizing.FixedCount
	sc.MinSettledSample = cfg.Sizing.MinSettledSample
	sc.KellyFraction = cfg.Sizing.KellyFraction
	sc.KellyCap = cfg.Sizing.KellyCap
	return sc
}

func execConfig(cfg *config.Config) execution.Config {
	ec := execution.DefaultConfig()
	ec.HedgeEnabled = cfg.Trading.HedgeEnabled
	ec.HedgeMinProfit = cfg.Trading.HedgeMinProfit
	return ec
}

func tuneConfig(cfg *config.Config) autotune.Config {
	tc := autotune.DefaultConfig()
	tc.Seed = domain.TradingParams{
		MinEdgeBps:    cfg.Trading.MinEdgeBps,
		BufferBps:     cfg.Trading.BufferBps,
		PersistCycles: cfg.Trading.PersistCycles,
	}
	return tc
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// The metrics registry is created once and shared between the orchestrator
// and the HTTP endpoint.
var sharedMetrics *metrics.Set

func metricsSet() *metrics.Set {
	if sharedMetrics == nil {
		sharedMetrics = metrics.New()
	}
	return sharedMetrics
}

func startMetrics(ctx context.Context, port int) {
	m := metricsSet()
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		slog.Info("metrics endpoint listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics endpoint failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
}

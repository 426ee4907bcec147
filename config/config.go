package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full bot configuration, built once per run and passed by
// reference into every component.
type Config struct {
	Trading TradingConfig `yaml:"trading"`
	Risk    RiskConfig    `yaml:"risk"`
	Sizing  SizingConfig  `yaml:"sizing"`
	Venue   VenueConfig   `yaml:"venue"`
	Feeds   FeedsConfig   `yaml:"feeds"`
	Assets  []AssetConfig `yaml:"assets"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// TradingConfig controls the decision engine and execution behavior.
type TradingConfig struct {
	MinEdgeBps       float64 `yaml:"min_edge_bps"`
	BufferBps        float64 `yaml:"buffer_bps"`
	PersistCycles    int     `yaml:"persist_cycles"`
	MinHoursToExpiry float64 `yaml:"min_hours_to_expiry"`
	MinLiquidity     float64 `yaml:"min_liquidity"`
	MaxSpread        float64 `yaml:"max_spread"`
	FeeRate          float64 `yaml:"fee_rate"`
	BlendEnabled     bool    `yaml:"blend_enabled"`
	HedgeEnabled     bool    `yaml:"hedge_enabled"`
	HedgeMinProfit   float64 `yaml:"hedge_min_profit"`
}

// RiskConfig controls the safety gate's caps and escalation.
type RiskConfig struct {
	MaxOrderNotional  float64 `yaml:"max_order_notional"`
	MaxMarketNotional float64 `yaml:"max_market_notional"`
	MaxRunNotional    float64 `yaml:"max_run_notional"`
	MaxOpenPerTicker  int     `yaml:"max_open_per_ticker"`
	EscalationWindow  int     `yaml:"escalation_window"`
	EscalationErrors  int     `yaml:"escalation_errors"`
}

// SizingConfig selects and parameterizes the position-sizing mode.
type SizingConfig struct {
	Mode             string  `yaml:"mode"` // fixed | tiered | kelly
	FixedCount       int     `yaml:"fixed_count"`
	MinSettledSample int     `yaml:"min_settled_sample"`
	KellyFraction    float64 `yaml:"kelly_fraction"`
	KellyCap         float64 `yaml:"kelly_cap"`
}

// VenueConfig holds prediction-market API access.
type VenueConfig struct {
	BaseURL string `yaml:"base_url"`
	// KeyID and PrivateKeyPath come from the environment, never the file.
	KeyID          string `yaml:"-"`
	PrivateKeyPath string `yaml:"-"`
}

// FeedsConfig selects reference exchanges.
type FeedsConfig struct {
	Venues         []string `yaml:"venues"` // coinbase | kraken | gemini
	FundingEnabled bool     `yaml:"funding_enabled"`
	LiveTicks      bool     `yaml:"live_ticks"`
	VolWindowHours int      `yaml:"vol_window_hours"`
}

// AssetConfig binds one reference asset to its venue series.
type AssetConfig struct {
	Asset         string  `yaml:"asset"`
	Series        string  `yaml:"series"`
	Symbol        string  `yaml:"symbol"` // exchange pair, e.g. BTC-USD
	BaselineSigma float64 `yaml:"baseline_sigma"`
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // file | sqlite | memory
	Dir     string `yaml:"dir"`     // file backend root
	DSN     string `yaml:"dsn"`     // sqlite path, or ":memory:"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file and the .env file if present. Environment values
// override the YAML for the keys that correspond. Validation errors are
// collected and returned together, never silently defaulted away.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("config.Load: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Validate collects every problem instead of stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	if c.Trading.MinEdgeBps <= 0 {
		errs = append(errs, errors.New("trading.min_edge_bps must be positive"))
	}
	if c.Trading.BufferBps < 0 {
		errs = append(errs, errors.New("trading.buffer_bps must not be negative"))
	}
	if c.Trading.PersistCycles < 1 {
		errs = append(errs, errors.New("trading.persist_cycles must be at least 1"))
	}
	switch c.Sizing.Mode {
	case "fixed", "tiered", "kelly":
	default:
		errs = append(errs, fmt.Errorf("sizing.mode %q is not one of fixed|tiered|kelly", c.Sizing.Mode))
	}
	if c.Sizing.Mode == "kelly" && (c.Sizing.KellyFraction <= 0 || c.Sizing.KellyFraction > 1) {
		errs = append(errs, errors.New("sizing.kelly_fraction must be in (0,1]"))
	}
	if c.Risk.MaxOrderNotional <= 0 || c.Risk.MaxMarketNotional <= 0 || c.Risk.MaxRunNotional <= 0 {
		errs = append(errs, errors.New("risk caps must all be positive"))
	}
	if c.Risk.MaxOrderNotional > c.Risk.MaxMarketNotional {
		errs = append(errs, errors.New("risk.max_order_notional exceeds risk.max_market_notional"))
	}
	if len(c.Assets) == 0 {
		errs = append(errs, errors.New("at least one asset is required"))
	}
	for i, a := range c.Assets {
		if a.Asset == "" || a.Series == "" {
			errs = append(errs, fmt.Errorf("assets[%d]: asset and series are required", i))
		}
	}
	if len(c.Feeds.Venues) == 0 {
		errs = append(errs, errors.New("feeds.venues must name at least one exchange"))
	}
	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of file|sqlite|memory", c.Storage.Backend))
	}
	return errs
}

// applyEnvOverrides pulls secrets and operator overrides from the environment.
func applyEnvOverrides(cfg *Config) {
	cfg.Venue.KeyID = os.Getenv("KALSHI_API_KEY_ID")
	cfg.Venue.PrivateKeyPath = os.Getenv("KALSHI_PRIVATE_KEY_PATH")

	if v := os.Getenv("KALSHI_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("MAX_RUN_NOTIONAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.MaxRunNotional = f
		}
	}
	if v := os.Getenv("SIZING_MODE"); v != "" {
		cfg.Sizing.Mode = v
	}
}

// setDefaults fills unset values with production settings.
func setDefaults(cfg *Config) {
	if cfg.Trading.MinEdgeBps <= 0 {
		cfg.Trading.MinEdgeBps = 350
	}
	if cfg.Trading.BufferBps == 0 {
		cfg.Trading.BufferBps = 150
	}
	if cfg.Trading.PersistCycles <= 0 {
		cfg.Trading.PersistCycles = 2
	}
	if cfg.Trading.MinHoursToExpiry <= 0 {
		cfg.Trading.MinHoursToExpiry = 0.75
	}
	if cfg.Trading.MinLiquidity <= 0 {
		cfg.Trading.MinLiquidity = 250
	}
	if cfg.Trading.MaxSpread <= 0 {
		cfg.Trading.MaxSpread = 0.08
	}
	if cfg.Trading.FeeRate <= 0 {
		cfg.Trading.FeeRate = 0.07
	}
	if cfg.Trading.HedgeMinProfit <= 0 {
		cfg.Trading.HedgeMinProfit = 0.03
	}
	if cfg.Sizing.Mode == "" {
		cfg.Sizing.Mode = "fixed"
	}
	if cfg.Sizing.FixedCount <= 0 {
		cfg.Sizing.FixedCount = 3
	}
	if cfg.Sizing.MinSettledSample <= 0 {
		cfg.Sizing.MinSettledSample = 25
	}
	if cfg.Sizing.KellyFraction <= 0 {
		cfg.Sizing.KellyFraction = 0.25
	}
	if cfg.Sizing.KellyCap <= 0 {
		cfg.Sizing.KellyCap = 0.05
	}
	if cfg.Risk.MaxOrderNotional <= 0 {
		cfg.Risk.MaxOrderNotional = 25
	}
	if cfg.Risk.MaxMarketNotional <= 0 {
		cfg.Risk.MaxMarketNotional = 50
	}
	if cfg.Risk.MaxRunNotional <= 0 {
		cfg.Risk.MaxRunNotional = 150
	}
	if cfg.Risk.MaxOpenPerTicker <= 0 {
		cfg.Risk.MaxOpenPerTicker = 2
	}
	if cfg.Risk.EscalationWindow <= 0 {
		cfg.Risk.EscalationWindow = 5
	}
	if cfg.Risk.EscalationErrors <= 0 {
		cfg.Risk.EscalationErrors = 3
	}
	if cfg.Venue.BaseURL == "" {
		cfg.Venue.BaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	if len(cfg.Feeds.Venues) == 0 {
		cfg.Feeds.Venues = []string{"coinbase", "kraken", "gemini"}
	}
	if cfg.Feeds.VolWindowHours <= 0 {
		cfg.Feeds.VolWindowHours = 72
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "file"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "state"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "kalshibot.db"
	}
	if cfg.Metrics.Port <= 0 {
		cfg.Metrics.Port = 9109
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// CycleTimeout is the hard ceiling for one cycle's network work.
func (c *Config) CycleTimeout() time.Duration {
	return 2 * time.Minute
}

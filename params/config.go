// Package params loads the exchange's startup configuration: risk
// defaults, circuit-breaker thresholds, fee schedule, and the product
// catalog seed. Grounded on the teacher's params/config.go shape
// (Default() + LoadFromEnv(envPath string) Config, godotenv, ENV >
// .env file > defaults precedence), generalized from consensus
// parameters to the trading-core parameters of spec.md §6.
package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Risk holds the default pre-trade risk limits, spec.md §4.E. Per-user
// overrides are set at runtime via risk.Engine.SetUserLimits, not here.
type Risk struct {
	MaxPositionSize    int64 // lots
	MaxOrdersPerSecond int
	FatFingerThreshold float64 // fraction, e.g. 0.1 == 10%
	DailyLossLimit     int64   // micro-units
}

// CircuitBreaker holds the default per-symbol breaker thresholds,
// spec.md §4.F. Individual symbols may be seeded with overrides at
// startup; these are the defaults applied when none is given.
type CircuitBreaker struct {
	PriceLimitPct    float64
	HaltThresholdPct float64
	HaltDuration     time.Duration
	WindowDuration   time.Duration
}

// Fees holds the exchange-wide fee schedule, spec.md §3 "Symbol" and
// §4.G "insurance-fund contribution".
type Fees struct {
	MakerFeeBps              int64
	TakerFeeBps              int64
	InsuranceContribFraction float64 // fraction of taker fee diverted to the insurance fund
}

// SymbolSeed is one catalog entry loaded at startup, spec.md §3 "Symbol".
// ReferencePrice seeds the circuit breaker's initial band, spec.md §4.F.
type SymbolSeed struct {
	Name                  string
	TickSize              int64
	LotSize               int64
	ContractSize          int64
	MarginRate            float64
	MaintenanceMarginRate float64
	MinNotional           int64
	MinFee                int64
	ReferencePrice        int64
}

// Journal holds the event-journal persistence settings, spec.md §4.H.
type Journal struct {
	DBPath string
}

// CommandLoop holds the command-loop queue sizing, spec.md §4.I.
type CommandLoop struct {
	QueueDepth int
}

// Rates holds the FX rate cache's staleness window, spec.md §4.J.
type Rates struct {
	MaxStale time.Duration
}

// Config is the full set of startup parameters for BuildCore.
type Config struct {
	Risk        Risk
	Breaker     CircuitBreaker
	Fees        Fees
	Symbols     []SymbolSeed
	Journal     Journal
	CommandLoop CommandLoop
	Rates       Rates
}

// Default returns the exchange's baseline configuration: a single
// BTC-USD perpetual seeded with conservative risk and breaker defaults,
// mirroring the teacher's single-market NewApp() seed.
func Default() Config {
	return Config{
		Risk: Risk{
			MaxPositionSize:    100_000,
			MaxOrdersPerSecond: 50,
			FatFingerThreshold: 0.10,
			DailyLossLimit:     50_000 * 1_000_000, // 50,000 quote units
		},
		Breaker: CircuitBreaker{
			PriceLimitPct:    0.07,
			HaltThresholdPct: 0.15,
			HaltDuration:     5 * time.Minute,
			WindowDuration:   10 * time.Minute,
		},
		Fees: Fees{
			MakerFeeBps:              -2,
			TakerFeeBps:              5,
			InsuranceContribFraction: 0.5,
		},
		Symbols: []SymbolSeed{
			{
				Name:                  "BTC-USD",
				TickSize:              1,
				LotSize:               1,
				ContractSize:          1,
				MarginRate:            0.10,
				MaintenanceMarginRate: 0.05,
				MinNotional:           1_000_000,
				MinFee:                1,
				ReferencePrice:        50_000 * 1_000_000,
			},
		},
		Journal: Journal{
			DBPath: "./data/journal",
		},
		CommandLoop: CommandLoop{
			QueueDepth: 4096,
		},
		Rates: Rates{
			MaxStale: 30 * time.Second,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("RISK_MAX_POSITION_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Risk.MaxPositionSize = n
		}
	}
	if v := os.Getenv("RISK_MAX_ORDERS_PER_SECOND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Risk.MaxOrdersPerSecond = n
		}
	}
	if v := os.Getenv("RISK_FAT_FINGER_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Risk.FatFingerThreshold = f
		}
	}
	if v := os.Getenv("RISK_DAILY_LOSS_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Risk.DailyLossLimit = n
		}
	}

	if v := os.Getenv("CB_PRICE_LIMIT_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Breaker.PriceLimitPct = f
		}
	}
	if v := os.Getenv("CB_HALT_THRESHOLD_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Breaker.HaltThresholdPct = f
		}
	}
	if v := os.Getenv("CB_HALT_DURATION_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.HaltDuration = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CB_TIME_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.WindowDuration = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("MAKER_FEE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Fees.MakerFeeBps = n
		}
	}
	if v := os.Getenv("TAKER_FEE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Fees.TakerFeeBps = n
		}
	}
	if v := os.Getenv("INSURANCE_CONTRIB_FRACTION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Fees.InsuranceContribFraction = f
		}
	}

	if v := os.Getenv("JOURNAL_DB_PATH"); v != "" {
		cfg.Journal.DBPath = v
	}
	if v := os.Getenv("COMMAND_LOOP_QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CommandLoop.QueueDepth = n
		}
	}
	if v := os.Getenv("RATES_MAX_STALE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Rates.MaxStale = time.Duration(n) * time.Second
		}
	}

	return cfg
}

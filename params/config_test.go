package params

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"RISK_MAX_POSITION_SIZE", "RISK_MAX_ORDERS_PER_SECOND", "RISK_FAT_FINGER_THRESHOLD",
		"RISK_DAILY_LOSS_LIMIT", "CB_PRICE_LIMIT_PCT", "CB_HALT_THRESHOLD_PCT",
		"CB_HALT_DURATION_SECONDS", "CB_TIME_WINDOW_SECONDS", "MAKER_FEE_BPS", "TAKER_FEE_BPS",
		"INSURANCE_CONTRIB_FRACTION", "JOURNAL_DB_PATH", "COMMAND_LOOP_QUEUE_DEPTH",
		"RATES_MAX_STALE_SECONDS",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestDefaultConfigSeedsOneSymbol(t *testing.T) {
	cfg := Default()
	if len(cfg.Symbols) != 1 || cfg.Symbols[0].Name != "BTC-USD" {
		t.Fatalf("want single BTC-USD seed symbol, got %+v", cfg.Symbols)
	}
	if cfg.Risk.MaxOrdersPerSecond <= 0 {
		t.Fatalf("want positive default rate limit")
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("RISK_MAX_POSITION_SIZE", "500")
	os.Setenv("CB_HALT_DURATION_SECONDS", "60")
	os.Setenv("TAKER_FEE_BPS", "10")
	os.Setenv("JOURNAL_DB_PATH", "/tmp/custom-journal")

	cfg := LoadFromEnv("")

	if cfg.Risk.MaxPositionSize != 500 {
		t.Fatalf("want overridden max position size 500, got %d", cfg.Risk.MaxPositionSize)
	}
	if cfg.Breaker.HaltDuration != 60*time.Second {
		t.Fatalf("want overridden halt duration 60s, got %s", cfg.Breaker.HaltDuration)
	}
	if cfg.Fees.TakerFeeBps != 10 {
		t.Fatalf("want overridden taker fee 10, got %d", cfg.Fees.TakerFeeBps)
	}
	if cfg.Journal.DBPath != "/tmp/custom-journal" {
		t.Fatalf("want overridden journal path, got %s", cfg.Journal.DBPath)
	}
}

func TestLoadFromEnvIgnoresMalformedValues(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("RISK_MAX_ORDERS_PER_SECOND", "not-a-number")

	cfg := LoadFromEnv("")
	if cfg.Risk.MaxOrdersPerSecond != Default().Risk.MaxOrdersPerSecond {
		t.Fatalf("want malformed env var ignored, kept default")
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"signalexec/internal/engine"
)

// isolate очищает переменные, которые могут прийти из окружения CI
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{"SERVER_PORT", "MAX_RETRIES", "BREAKER_THRESHOLD", "ENGINE_TIMEZONE", "KAFKA_BROKERS", "DB_ENABLED", "DRY_RUN_EXCHANGES"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Enabled {
		t.Error("database must be disabled by default")
	}
	if cfg.Engine.BreakerThreshold != 5 || cfg.Engine.BreakerWindow != time.Minute || cfg.Engine.BreakerCooldown != 30*time.Second {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Engine)
	}
	if cfg.Engine.BreakerMaxCooldown != 5*time.Minute {
		t.Errorf("expected max cooldown 5m, got %v", cfg.Engine.BreakerMaxCooldown)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("kafka must be disabled by default, got %v", cfg.Kafka.Brokers)
	}
	if len(cfg.Engine.DryRunExchanges) != 6 {
		t.Errorf("unexpected dry-run exchanges: %v", cfg.Engine.DryRunExchanges)
	}
}

func TestLoadFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("ENGINE_TIMEZONE", "Europe/Moscow")
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Engine.MaxRetries != 5 || !cfg.Engine.DryRun {
		t.Errorf("env values not applied: %+v", cfg)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("brokers not parsed: %v", cfg.Kafka.Brokers)
	}
}

func TestLoadEnvFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("REDIS_ADDR=redis:6379\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	// godotenv не перекрывает существующие переменные, даже пустые
	t.Setenv("REDIS_ADDR", "")
	os.Unsetenv("REDIS_ADDR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("expected redis addr from .env, got %q", cfg.Redis.Addr)
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"port too high", map[string]string{"SERVER_PORT": "70000"}, "SERVER_PORT"},
		{"negative retries", map[string]string{"MAX_RETRIES": "-1"}, "MAX_RETRIES"},
		{"too many retries", map[string]string{"MAX_RETRIES": "11"}, "MAX_RETRIES"},
		{"zero threshold", map[string]string{"BREAKER_THRESHOLD": "0"}, "BREAKER_THRESHOLD"},
		{"cooldown above max", map[string]string{"BREAKER_COOLDOWN": "10m", "BREAKER_MAX_COOLDOWN": "5m"}, "BREAKER_MAX_COOLDOWN"},
		{"bad timezone", map[string]string{"ENGINE_TIMEZONE": "Mars/Olympus"}, "ENGINE_TIMEZONE"},
		{"negative reconcile", map[string]string{"RECONCILE_INTERVAL": "-1s"}, "RECONCILE_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEngineSettings(t *testing.T) {
	isolate(t)
	t.Setenv("ENGINE_TIMEZONE", "Asia/Tokyo")
	t.Setenv("MAX_RETRIES", "2")
	t.Setenv("RECONCILE_INTERVAL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ec, err := cfg.EngineSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ec.Location.String() != "Asia/Tokyo" {
		t.Errorf("expected Asia/Tokyo, got %s", ec.Location)
	}
	if ec.Gateway.Retry.MaxRetries != 2 || ec.Gateway.CallTimeout != 10*time.Second {
		t.Errorf("unexpected gateway config: %+v", ec.Gateway)
	}
	if ec.Breaker.FailureThreshold != 5 || ec.Breaker.CooldownFactor != 2 {
		t.Errorf("unexpected breaker config: %+v", ec.Breaker)
	}
	if ec.ReconcileInterval != 0 {
		t.Errorf("reconcile must be disabled, got %v", ec.ReconcileInterval)
	}
	if len(ec.ExchangeRateLimits) == 0 {
		t.Error("per-exchange rate limits must keep defaults")
	}
}

func TestDSNWithoutPassword(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "secret", Name: "n", SSLMode: "disable"}
	if strings.Contains(d.DSNWithoutPassword(), "secret") {
		t.Error("DSNWithoutPassword leaks password")
	}
	if !strings.Contains(d.DSN(), "password=secret") {
		t.Error("DSN must contain password")
	}
}

func TestBybitCredentials(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "shared-key")
	t.Setenv("BYBIT_API_SECRET", "shared-secret")
	t.Setenv("BYBIT_API_KEY_ACC_1", "acc1-key")
	t.Setenv("BYBIT_API_SECRET_ACC_1", "acc1-secret")
	t.Setenv("BYBIT_API_KEY_ACC_2", "")
	t.Setenv("BYBIT_API_SECRET_ACC_2", "")

	cfg := &Config{}
	tests := []struct {
		account string
		key     string
	}{
		{"acc-1", "acc1-key"},
		{"acc-2", "shared-key"},
	}
	for _, tt := range tests {
		key, _, ok := cfg.BybitCredentials(tt.account)
		if !ok || key != tt.key {
			t.Errorf("%s: got %q (ok=%v), want %q", tt.account, key, ok, tt.key)
		}
	}

	t.Setenv("BYBIT_API_KEY", "")
	if _, _, ok := cfg.BybitCredentials("acc-2"); ok {
		t.Error("credentials without any keys must not be ok")
	}
}

// ============================================================
// Bot catalog
// ============================================================

const validCatalog = `
bots:
  - id: trend-1
    name: Trend
    max_positions: 3
    defaults: {leverage: 5, margin_usd: 100, stop_loss_pct: 2, take_profit_pct: 4}
    symbol_configs:
      eth-usdt: {leverage: 10}
  - id: hook-btc
    name: Webhook BTC
    market_type: spot
    symbol: btc/usdt
    defaults: {leverage: 1, margin_usd: 50, stop_loss_pct: 1, take_profit_pct: 2}
`

func TestParseBotCatalog(t *testing.T) {
	bots, err := ParseBotCatalog([]byte(validCatalog))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bots) != 2 {
		t.Fatalf("expected 2 bots, got %d", len(bots))
	}

	trend := bots[0]
	if trend.MarketType != "futures" {
		t.Errorf("market type default not applied: %q", trend.MarketType)
	}
	if lev := trend.SymbolConfigs["ETHUSDT"].Leverage; lev == nil || *lev != 10 {
		t.Errorf("symbol config not normalized: %+v", trend.SymbolConfigs)
	}
	if *trend.Defaults.MarginUSD != 100 {
		t.Errorf("defaults not parsed: %+v", trend.Defaults)
	}
	if bots[1].Symbol != "BTCUSDT" || bots[1].MarketType != "spot" {
		t.Errorf("unexpected webhook bot: %+v", bots[1])
	}
}

func TestParseBotCatalogErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{
			name:    "incomplete defaults",
			data:    "bots:\n  - id: a\n    defaults: {leverage: 5}\n",
			wantErr: engine.ErrIncompleteConfiguration,
		},
		{
			name: "duplicate id",
			data: "bots:\n  - id: a\n    defaults: {leverage: 1, margin_usd: 1, stop_loss_pct: 1, take_profit_pct: 1}\n" +
				"  - id: a\n    defaults: {leverage: 1, margin_usd: 1, stop_loss_pct: 1, take_profit_pct: 1}\n",
		},
		{name: "missing id", data: "bots:\n  - name: x\n"},
		{name: "broken yaml", data: "bots: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBotCatalog([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadBotCatalogMissingFile(t *testing.T) {
	if _, err := LoadBotCatalog(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

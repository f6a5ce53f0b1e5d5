package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// observed возвращает логгер движка поверх observer и журнал записей
func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return FromZap(zap.New(core)), logs
}

// ============================================================
// InitLogger
// ============================================================

func TestInitLogger_JSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	log := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})

	log.WithComponent("router").Info("order placed",
		SubscriptionID("sub-1"),
		LinkID("link-1"),
		Exchange("bybit"),
		Price(50000.5),
	)
	log.Debug("below level")
	log.Sync()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 entry (debug filtered), got %d: %s", len(lines), content)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not valid JSON: %v", err)
	}
	want := map[string]interface{}{
		"msg":             "order placed",
		"component":       "router",
		"subscription_id": "sub-1",
		"link_id":         "link-1",
		"exchange":        "bybit",
		"price":           50000.5,
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("timestamp key ts is missing")
	}
}

func TestInitLogger_TextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.txt")
	log := InitLogger(LogConfig{Level: "debug", Format: "text", Output: path})
	log.Debug("breaker opened", State("open"))
	log.Sync()

	content, _ := os.ReadFile(path)
	line := string(content)
	if !strings.Contains(line, "DEBUG") || !strings.Contains(line, "breaker opened") {
		t.Errorf("unexpected console line: %q", line)
	}
	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		t.Error("text format must not produce JSON")
	}
}

func TestInitLogger_UnwritableOutputFallsBack(t *testing.T) {
	log := InitLogger(LogConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	if log == nil || log.Logger == nil {
		t.Fatal("logger must fall back to stderr")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ============================================================
// FromZap и дочерние логгеры
// ============================================================

func TestFromZap_ScopedLoggers(t *testing.T) {
	log, logs := observed(zapcore.DebugLevel)

	linkLog := log.WithSubscription("sub-1").WithLink("link-1")
	linkLog.WithExchange("paper").WithSymbol("BTCUSDT").Warn("link paused", Reason("daily_loss_exceeded"))
	log.Info("unscoped")

	if logs.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", logs.Len())
	}
	paused := logs.FilterMessage("link paused").All()
	if len(paused) != 1 || paused[0].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected entries: %+v", paused)
	}
	ctx := paused[0].ContextMap()
	want := map[string]string{
		"subscription_id": "sub-1",
		"link_id":         "link-1",
		"exchange":        "paper",
		"symbol":          "BTCUSDT",
		"reason":          "daily_loss_exceeded",
	}
	for k, v := range want {
		if ctx[k] != v {
			t.Errorf("%s = %v, want %s", k, ctx[k], v)
		}
	}

	// родительский логгер не наследует поля дочернего
	if f := logs.FilterMessage("unscoped").All()[0].ContextMap(); len(f) != 0 {
		t.Errorf("parent logger leaked fields: %v", f)
	}
}

func TestFromZap_SugarSharesCore(t *testing.T) {
	log, logs := observed(zapcore.InfoLevel)
	log.WithComponent("reconciler").Sugar().Infof("adjusted %d links", 2)

	entries := logs.All()
	if len(entries) != 1 || entries[0].Message != "adjusted 2 links" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if entries[0].ContextMap()["component"] != "reconciler" {
		t.Error("sugared logger lost component field")
	}
}

func TestDomainFields(t *testing.T) {
	log, logs := observed(zapcore.InfoLevel)
	log.Info("dispatch",
		BotID("bot-1"),
		SignalID("sig-1"),
		OrderID("ord-1"),
		Side("buy"),
		Size(0.25),
		PNL(-15),
		Latency(12.5),
		RequestID("req-1"),
		Err(errors.New("boom")),
	)

	ctx := logs.All()[0].ContextMap()
	want := map[string]interface{}{
		"bot_id":     "bot-1",
		"signal_id":  "sig-1",
		"order_id":   "ord-1",
		"side":       "buy",
		"size":       0.25,
		"pnl":        float64(-15),
		"latency_ms": 12.5,
		"request_id": "req-1",
		"error":      "boom",
	}
	for k, v := range want {
		if ctx[k] != v {
			t.Errorf("%s = %v (%T), want %v", k, ctx[k], ctx[k], v)
		}
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	log, logs := observed(zapcore.DebugLevel)
	SetGlobalLogger(log)
	if L() != log {
		t.Fatal("L() must return the installed logger")
	}

	Debug("debug", LinkID("l"))
	Info("info")
	Warnf("retry %d of %d", 1, 3)
	Errorf("call failed: %s", "timeout")

	msgs := make([]string, 0, logs.Len())
	for _, e := range logs.All() {
		msgs = append(msgs, e.Message)
	}
	got := strings.Join(msgs, "|")
	if got != "debug|info|retry 1 of 3|call failed: timeout" {
		t.Errorf("global entries = %s", got)
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.WithComponent("x").Error("ignored", Err(errors.New("e")))
	log.Sugar().Infof("ignored %d", 1)
}

func BenchmarkLogger_DispatchFields(b *testing.B) {
	log := FromZap(zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(discard{}),
		zapcore.InfoLevel,
	))).WithComponent("router")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.Info("order placed", LinkID("link-1"), Exchange("bybit"), Symbol("BTCUSDT"), Price(50000), Size(0.01))
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - структурированное логирование на базе zap
//
// Назначение:
// Единая точка инициализации логгера для всего движка исполнения сигналов.
//
// Функции:
// - InitLogger: создать logger по конфигурации (json/text, уровень, вывод)
// - InitGlobalLogger / SetGlobalLogger / GetGlobalLogger / L: глобальный логгер
// - Debug/Info/Warn/Error (+ *f варианты): логирование через глобальный логгер
// - Конструкторы доменных полей: SubscriptionID, LinkID, Exchange, Symbol...
//
// Использование:
//
//	log := utils.InitGlobalLogger(utils.LogConfig{Level: "info", Format: "json"})
//	log.WithComponent("router").Info("signal dispatched", utils.SignalID(id))

// LogConfig конфигурация логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json, text
	Development bool   // stacktrace на warn, caller, цветной уровень
	Output      string // путь к файлу; пусто = stderr
}

// Logger обёртка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitLogger создаёт новый логгер
//
// Ошибка открытия файла не фатальна - вывод переключается на stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "text") || strings.EqualFold(cfg.Format, "console") {
		if cfg.Development {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, openOutput(cfg.Output), level)

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}

	base := zap.New(core, opts...)
	return &Logger{Logger: base, sugar: base.Sugar()}
}

func openOutput(path string) zapcore.WriteSyncer {
	switch path {
	case "", "stderr":
		return zapcore.Lock(os.Stderr)
	case "stdout":
		return zapcore.Lock(os.Stdout)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(f)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============================================================
// Глобальный логгер
// ============================================================

// InitGlobalLogger создаёт логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// GetGlobalLogger возвращает глобальный логгер, создавая логгер по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// FromZap оборачивает готовый zap.Logger (zaptest/observer в тестах)
func FromZap(z *zap.Logger) *Logger {
	return &Logger{Logger: z, sugar: z.Sugar()}
}

// NewNop логгер, который ничего не пишет (для тестов)
func NewNop() *Logger {
	base := zap.NewNop()
	return &Logger{Logger: base, sugar: base.Sugar()}
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает дочерний логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

func (l *Logger) WithExchange(name string) *Logger {
	return l.With(Exchange(name))
}

func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

func (l *Logger) WithSubscription(id string) *Logger {
	return l.With(SubscriptionID(id))
}

func (l *Logger) WithLink(id string) *Logger {
	return l.With(LinkID(id))
}

// Sugar возвращает SugaredLogger для printf-стиля
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============================================================
// Глобальные функции логирования
// ============================================================

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

func Debugf(template string, args ...interface{}) { L().sugar.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { L().sugar.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { L().sugar.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { L().sugar.Errorf(template, args...) }

// ============================================================
// Конструкторы доменных полей
// ============================================================

func SubscriptionID(id string) zap.Field { return zap.String("subscription_id", id) }
func LinkID(id string) zap.Field         { return zap.String("link_id", id) }
func BotID(id string) zap.Field          { return zap.String("bot_id", id) }
func SignalID(id string) zap.Field       { return zap.String("signal_id", id) }
func Exchange(name string) zap.Field     { return zap.String("exchange", name) }
func Symbol(symbol string) zap.Field     { return zap.String("symbol", symbol) }
func OrderID(id string) zap.Field        { return zap.String("order_id", id) }
func Price(v float64) zap.Field          { return zap.Float64("price", v) }
func Size(v float64) zap.Field           { return zap.Float64("size", v) }
func PNL(v float64) zap.Field            { return zap.Float64("pnl", v) }
func Side(side string) zap.Field         { return zap.String("side", side) }
func State(state string) zap.Field       { return zap.String("state", state) }
func Reason(reason string) zap.Field     { return zap.String("reason", reason) }
func Latency(ms float64) zap.Field       { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field      { return zap.String("request_id", id) }
func Component(name string) zap.Field    { return zap.String("component", name) }

// Переэкспорт часто используемых конструкторов zap
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
)

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка исполнения сигналов
// ============================================================
//
// Экспортируются через /metrics (promhttp), см. internal/api/routes.go

// ============ Сигналы и диспетчеризация ============

// SignalsReceived - количество принятых сигналов по источнику
var SignalsReceived = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalexec",
		Subsystem: "engine",
		Name:      "signals_received_total",
		Help:      "Total number of signals accepted for dispatch",
	},
	[]string{"source"}, // http, kafka
)

// SignalsDuplicate - сигналы, отброшенные дедупликацией
var SignalsDuplicate = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "signalexec",
		Subsystem: "engine",
		Name:      "signals_duplicate_total",
		Help:      "Total number of duplicate signals dropped",
	},
)

// DispatchOutcomes - исходы по link
var DispatchOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalexec",
		Subsystem: "engine",
		Name:      "dispatch_outcomes_total",
		Help:      "Per-link dispatch outcomes",
	},
	[]string{"exchange", "status", "reason"},
)

// DispatchLatency - время обработки сигнала целиком (все link)
var DispatchLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "signalexec",
		Subsystem: "engine",
		Name:      "dispatch_latency_ms",
		Help:      "Time from signal receipt to settled dispatch result in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
)

// ============ Риск ============

// RiskDenials - отказы риск-менеджера
var RiskDenials = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalexec",
		Subsystem: "risk",
		Name:      "denials_total",
		Help:      "Total number of risk denials",
	},
	[]string{"reason"},
)

// OpenPositions - открытые позиции по биржам
var OpenPositions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "signalexec",
		Subsystem: "risk",
		Name:      "open_positions",
		Help:      "Current number of open positions",
	},
	[]string{"exchange"},
)

// PausedLinks - link на паузе
var PausedLinks = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "signalexec",
		Subsystem: "risk",
		Name:      "paused_links",
		Help:      "Current number of paused exchange links",
	},
)

// ============ Адаптеры бирж ============

// AdapterCallLatency - латентность вызовов адаптера
var AdapterCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "signalexec",
		Subsystem: "adapter",
		Name:      "call_latency_ms",
		Help:      "Exchange adapter call latency in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	},
	[]string{"exchange", "op"},
)

// AdapterRetries - повторы вызовов адаптера
var AdapterRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalexec",
		Subsystem: "adapter",
		Name:      "retries_total",
		Help:      "Total number of adapter call retries",
	},
	[]string{"exchange", "op"},
)

// CircuitState - состояние breaker (0=closed, 1=half_open, 2=open)
var CircuitState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "signalexec",
		Subsystem: "adapter",
		Name:      "circuit_state",
		Help:      "Circuit breaker state per exchange account (0=closed, 1=half_open, 2=open)",
	},
	[]string{"account"},
)

// ============ P&L ============

// TradesClosed - закрытые сделки по исходу
var TradesClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalexec",
		Subsystem: "pnl",
		Name:      "trades_closed_total",
		Help:      "Total number of closed trades",
	},
	[]string{"outcome"},
)

// RealizedPnL - суммарный реализованный PNL в USD (может уменьшаться)
var RealizedPnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "signalexec",
		Subsystem: "pnl",
		Name:      "realized_usd",
		Help:      "Total realized PnL in USD since process start",
	},
)

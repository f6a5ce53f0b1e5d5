package models

// PnLPoint - точка истории PNL за календарный день (в timezone трекера)
type PnLPoint struct {
	Date          string  `json:"date"` // YYYY-MM-DD
	DailyPnL      float64 `json:"daily_pnl"`
	CumulativePnL float64 `json:"cumulative_pnl"`
	Trades        int     `json:"trades"`
}

// PerformanceSummary - сводка результатов за период
type PerformanceSummary struct {
	From        string  `json:"from,omitempty"`
	To          string  `json:"to,omitempty"`
	TotalTrades int64   `json:"total_trades"`
	Wins        int64   `json:"wins"`
	Losses      int64   `json:"losses"`
	BreakEvens  int64   `json:"break_evens"`
	WinRate     float64 `json:"win_rate"` // % от закрытых сделок
	RealizedPnL float64 `json:"realized_pnl"`

	// Только для all-time сводки
	TotalSignals   int64 `json:"total_signals,omitempty"`
	OrdersExecuted int64 `json:"orders_executed,omitempty"`
}

// LinkSnapshot - текущее состояние link для UI
type LinkSnapshot struct {
	LinkID            string  `json:"link_id"`
	Exchange          string  `json:"exchange"`
	ExchangeAccountID string  `json:"exchange_account_id"`
	Status            string  `json:"status"`
	StatusReason      string  `json:"status_reason,omitempty"`
	CurrentPositions  int     `json:"current_positions"`
	MaxPositions      int     `json:"max_positions"`
	TodayLossUSD      float64 `json:"today_loss_usd"`
	MaxDailyLossUSD   float64 `json:"max_daily_loss_usd"`
	CircuitState      string  `json:"circuit_state,omitempty"`
}

// CurrentState - текущее состояние подписки
type CurrentState struct {
	Status        string         `json:"status"`
	StatusReason  string         `json:"status_reason,omitempty"`
	OpenPositions int            `json:"open_positions"`
	TodayLossUSD  float64        `json:"today_loss_usd"`
	Links         []LinkSnapshot `json:"links"`
}

// ExchangePerformance - результаты одного link
type ExchangePerformance struct {
	LinkID     string             `json:"link_id"`
	Exchange   string             `json:"exchange"`
	Summary    PerformanceSummary `json:"summary"`
	PnLHistory []PnLPoint         `json:"pnl_history"`
}

// PerformanceReport - read-model дашборда подписки
type PerformanceReport struct {
	SubscriptionID  string                `json:"subscription_id"`
	FilteredSummary PerformanceSummary    `json:"filtered_summary"`
	AllTimeSummary  PerformanceSummary    `json:"all_time_summary"`
	CurrentState    CurrentState          `json:"current_state"`
	PnLHistory      []PnLPoint            `json:"pnl_history"`
	PerExchange     []ExchangePerformance `json:"per_exchange"`
}

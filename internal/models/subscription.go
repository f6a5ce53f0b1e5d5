package models

import "time"

// BotSubscription - активация бота клиентом.
//
// Владеет 1-3 ExchangeLink (по одному на биржевой аккаунт).
type BotSubscription struct {
	ID           string            `json:"id" db:"id"`
	BotID        string            `json:"bot_id" db:"bot_id"`
	ClientID     string            `json:"client_id" db:"client_id"`
	Status       string            `json:"status" db:"status"`
	StatusReason string            `json:"status_reason,omitempty" db:"status_reason"`
	Links        []*ExchangeLink   `json:"links"`
	Stats        SubscriptionStats `json:"stats"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// Статусы подписки
const (
	SubscriptionActive       = "active"
	SubscriptionPaused       = "paused"
	SubscriptionUnsubscribed = "unsubscribed"
)

// MaxLinksPerSubscription - максимум биржевых аккаунтов на подписку
const MaxLinksPerSubscription = 3

// Link возвращает ExchangeLink по ID или nil
func (s *BotSubscription) Link(linkID string) *ExchangeLink {
	for _, l := range s.Links {
		if l.ID == linkID {
			return l
		}
	}
	return nil
}

// SubscriptionStats - агрегированные счётчики подписки
type SubscriptionStats struct {
	TotalSignals   int64   `json:"total_signals" db:"total_signals"`
	OrdersExecuted int64   `json:"orders_executed" db:"orders_executed"`
	TotalTrades    int64   `json:"total_trades" db:"total_trades"`
	Wins           int64   `json:"wins" db:"wins"`
	Losses         int64   `json:"losses" db:"losses"`
	BreakEvens     int64   `json:"break_evens" db:"break_evens"`
	RealizedPnL    float64 `json:"realized_pnl" db:"realized_pnl"`
}

// ExchangeLink привязывает подписку к одному биржевому аккаунту
type ExchangeLink struct {
	ID                string `json:"id" db:"id"`
	SubscriptionID    string `json:"subscription_id" db:"subscription_id"`
	BotID             string `json:"bot_id" db:"bot_id"`
	ExchangeAccountID string `json:"exchange_account_id" db:"exchange_account_id"`
	Exchange          string `json:"exchange" db:"exchange"` // имя адаптера (bybit, okx, paper ...)

	Limits RiskLimits `json:"limits"`

	// Override - настройки подписчика для всего link
	Override ConfigOverride `json:"override"`

	// SymbolOverrides - настройки подписчика по символам
	SymbolOverrides map[string]ConfigOverride `json:"symbol_overrides,omitempty"`

	State LinkState `json:"state"`
	Stats LinkStats `json:"stats"`
}

// RiskLimits - лимиты риска на уровне link
type RiskLimits struct {
	MaxDailyLossUSD float64 `json:"max_daily_loss_usd" db:"max_daily_loss_usd"`
	MaxPositions    int     `json:"max_positions" db:"max_positions"`
}

// LinkState - текущее состояние link (снапшот для UI и восстановления)
type LinkState struct {
	Status           string     `json:"status" db:"status"`
	StatusReason     string     `json:"status_reason,omitempty" db:"status_reason"`
	CurrentPositions int        `json:"current_positions" db:"current_positions"`
	TodayLossUSD     float64    `json:"today_loss_usd" db:"today_loss_usd"`
	PausedAt         *time.Time `json:"paused_at,omitempty" db:"paused_at"`
}

// Статусы link
const (
	LinkActive = "active"
	LinkPaused = "paused"
)

// Причины смены статуса
const (
	ReasonManual       = "manual"
	ReasonDailyLossCap = "daily_loss_cap"
	ReasonAllLinks     = "all_links_paused"
	ReasonResumed      = "resumed"
)

// LinkStats - счётчики сделок на уровне link
type LinkStats struct {
	OrdersExecuted int64   `json:"orders_executed" db:"orders_executed"`
	TotalTrades    int64   `json:"total_trades" db:"total_trades"`
	Wins           int64   `json:"wins" db:"wins"`
	Losses         int64   `json:"losses" db:"losses"`
	BreakEvens     int64   `json:"break_evens" db:"break_evens"`
	RealizedPnL    float64 `json:"realized_pnl" db:"realized_pnl"`
}

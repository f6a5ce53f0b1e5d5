package models

import "time"

// Signal - нормализованный торговый сигнал (подпись webhook уже проверена выше по стеку)
type Signal struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`                 // buy, sell
	Strength       float64   `json:"strength,omitempty"`   // сила сигнала (информативно)
	PriceHint      float64   `json:"price_hint,omitempty"` // цена из сигнала, 0 = запросить тикер
	ReceivedAt     time.Time `json:"received_at"`
}

// Стороны сигнала
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// OrderIntent - эфемерное намерение открыть позицию на одном link
type OrderIntent struct {
	LinkID          string          `json:"link_id"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Config          EffectiveConfig `json:"config"`
	Price           float64         `json:"price"`
	Size            float64         `json:"size"`
	StopLossPrice   float64         `json:"stop_loss_price"`
	TakeProfitPrice float64         `json:"take_profit_price"`
	ClientOrderID   string          `json:"client_order_id"`
}

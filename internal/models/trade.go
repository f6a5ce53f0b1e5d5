package models

import "time"

// TradeRecord - закрытая позиция (запись в таблицу trades)
type TradeRecord struct {
	ID             int64     `json:"id" db:"id"`
	LinkID         string    `json:"link_id" db:"link_id"`
	SubscriptionID string    `json:"subscription_id" db:"subscription_id"`
	Symbol         string    `json:"symbol" db:"symbol"`
	RealizedPnL    float64   `json:"realized_pnl" db:"realized_pnl"`
	Outcome        string    `json:"outcome" db:"outcome"`
	ClosedAt       time.Time `json:"closed_at" db:"closed_at"`
}

// Исход сделки
const (
	OutcomeWin       = "win"
	OutcomeLoss      = "loss"
	OutcomeBreakEven = "breakeven"
)

// ClassifyPnL определяет исход сделки по знаку PNL (ровно 0 = безубыток)
func ClassifyPnL(pnl float64) string {
	switch {
	case pnl > 0:
		return OutcomeWin
	case pnl < 0:
		return OutcomeLoss
	default:
		return OutcomeBreakEven
	}
}

package exchange

import (
	"context"
	"time"
)

// Adapter - унифицированный интерфейс одного биржевого аккаунта.
//
// Все особенности конкретной биржи живут внутри реализации адаптера,
// движок работает только через этот набор методов. Любой вызов может
// завершиться ошибкой, таймаутом или rate-limit'ом независимо от остальных.
type Adapter interface {
	// Name возвращает имя биржи (bybit, okx, paper ...)
	Name() string

	// PlaceOrder размещает ордер. ClientOrderID обязателен: повтор запроса
	// с тем же ClientOrderID не должен приводить к двойному исполнению
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetBalance получает баланс аккаунта в валюте котировки
	GetBalance(ctx context.Context) (*Balance, error)

	// GetTicker получает текущую цену актива
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)

	// GetPositions получает список открытых позиций
	GetPositions(ctx context.Context) ([]*Position, error)
}

// OrderRequest - параметры ордера
type OrderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"` // "buy" или "sell"
	Size          float64 `json:"size"` // в базовой валюте
	Leverage      int     `json:"leverage"`
	Price         float64 `json:"price,omitempty"`       // опорная цена расчёта объёма (ордер рыночный)
	StopLoss      float64 `json:"stop_loss,omitempty"`   // цена стоп-лосса (0 = без SL)
	TakeProfit    float64 `json:"take_profit,omitempty"` // цена тейк-профита (0 = без TP)
}

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`
	AskPrice  float64   `json:"ask_price"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}

// Balance - баланс аккаунта
type Balance struct {
	Currency  string  `json:"currency"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// Order представляет ордер
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Quantity      float64   `json:"quantity"`
	FilledQty     float64   `json:"filled_qty"`
	AvgFillPrice  float64   `json:"avg_fill_price"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Position представляет открытую позицию
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // "long" или "short"
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Leverage      int       `json:"leverage"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Side constants for orders
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Side constants for positions
const (
	SideLong  = "long"
	SideShort = "short"
)

// Order status constants
const (
	OrderStatusNew       = "new"
	OrderStatusFilled    = "filled"
	OrderStatusPartial   = "partial"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalexec/pkg/utils"
)

// PaperAdapter - симуляция биржевого аккаунта для dry-run и тестов.
//
// Ордера исполняются мгновенно по последней известной цене (+ проскальзывание),
// повтор с тем же ClientOrderID возвращает уже созданный ордер.
type PaperAdapter struct {
	name        string
	slippageBps float64

	mu        sync.Mutex
	prices    map[string]float64
	positions map[string]*Position // symbol → позиция
	orders    map[string]*Order    // clientOrderID → ордер
	balance   float64
	rng       *rand.Rand
}

// NewPaperAdapter создаёт симулятор с начальным балансом
func NewPaperAdapter(name string, initialBalance, slippageBps float64) *PaperAdapter {
	if name == "" {
		name = "paper"
	}
	return &PaperAdapter{
		name:        name,
		slippageBps: slippageBps,
		prices:      make(map[string]float64),
		positions:   make(map[string]*Position),
		orders:      make(map[string]*Order),
		balance:     initialBalance,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Name возвращает имя биржи
func (p *PaperAdapter) Name() string {
	return p.name
}

// SetPrice задаёт текущую цену символа
func (p *PaperAdapter) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// PlaceOrder исполняет рыночный ордер
func (p *PaperAdapter) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.orders[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		return existing, nil
	}

	price, ok := p.prices[req.Symbol]
	if (!ok || price <= 0) && req.Price > 0 {
		// котировки нет - исполняем по опорной цене и запоминаем её
		price, ok = req.Price, true
		p.prices[req.Symbol] = price
	}
	if !ok || price <= 0 {
		return nil, NewPermanentError(p.name, CodeInvalidSymbol, fmt.Sprintf("unknown symbol %s", req.Symbol))
	}
	if req.Size <= 0 {
		return nil, NewPermanentError(p.name, CodeOrderRejected, "order size must be positive")
	}

	leverage := req.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	margin := req.Size * price / float64(leverage)
	if margin > p.balance {
		return nil, NewPermanentError(p.name, CodeInsufficientBalance,
			fmt.Sprintf("required margin %.2f exceeds balance %.2f", margin, p.balance))
	}

	fill := price
	if p.slippageBps > 0 {
		noise := p.rng.Float64() * p.slippageBps / 10000.0
		if req.Side == SideBuy {
			fill = price * (1 + noise)
		} else {
			fill = price * (1 - noise)
		}
		fill = utils.RoundTo(fill, 8)
	}

	p.balance -= margin

	side := SideLong
	if req.Side == SideSell {
		side = SideShort
	}
	now := time.Now()
	pos, ok := p.positions[req.Symbol]
	if !ok || pos.Side != side {
		pos = &Position{Symbol: req.Symbol, Side: side, Leverage: leverage}
		p.positions[req.Symbol] = pos
	}
	total := pos.Size + req.Size
	pos.EntryPrice = (pos.EntryPrice*pos.Size + fill*req.Size) / total
	pos.Size = total
	pos.MarkPrice = price
	pos.UpdatedAt = now

	order := &Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Size,
		FilledQty:     req.Size,
		AvgFillPrice:  fill,
		Status:        OrderStatusFilled,
		CreatedAt:     now,
	}
	if req.ClientOrderID != "" {
		p.orders[req.ClientOrderID] = order
	}
	return order, nil
}

// CancelOrder - рыночные ордера исполняются сразу, отменять нечего
func (p *PaperAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return NewPermanentError(p.name, CodeOrderRejected, "order already filled")
}

// GetBalance возвращает баланс
func (p *PaperAdapter) GetBalance(ctx context.Context) (*Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Balance{Currency: "USDT", Total: p.balance, Available: p.balance}, nil
}

// GetTicker возвращает текущую цену
func (p *PaperAdapter) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return nil, NewPermanentError(p.name, CodeInvalidSymbol, fmt.Sprintf("unknown symbol %s", symbol))
	}
	return &Ticker{Symbol: symbol, BidPrice: price, AskPrice: price, LastPrice: price, Timestamp: time.Now()}, nil
}

// GetPositions возвращает открытые позиции
func (p *PaperAdapter) GetPositions(ctx context.Context) ([]*Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]*Position, 0, len(p.positions))
	for _, pos := range p.positions {
		cp := *pos
		if price, ok := p.prices[pos.Symbol]; ok {
			cp.MarkPrice = price
			cp.UnrealizedPnl = unrealized(&cp)
		}
		result = append(result, &cp)
	}
	return result, nil
}

// ClosePosition закрывает позицию по текущей цене и возвращает реализованный PNL
func (p *PaperAdapter) ClosePosition(symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return 0, NewPermanentError(p.name, CodeOrderRejected, fmt.Sprintf("no position for %s", symbol))
	}
	pos.MarkPrice = p.prices[symbol]
	pnl := unrealized(pos)
	p.balance += pos.Size*pos.EntryPrice/float64(pos.Leverage) + pnl
	delete(p.positions, symbol)
	return pnl, nil
}

func unrealized(pos *Position) float64 {
	return utils.CalculatePNL(pos.Side, pos.EntryPrice, pos.MarkPrice, pos.Size)
}

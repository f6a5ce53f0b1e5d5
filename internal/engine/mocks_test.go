package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signalexec/internal/exchange"
	"signalexec/internal/models"
	"signalexec/pkg/ratelimit"
	"signalexec/pkg/retry"
	"signalexec/pkg/utils"
)

// ============================================================
// mockAdapter - управляемый адаптер биржи
// ============================================================

type mockAdapter struct {
	name string

	mu        sync.Mutex
	placeFn   func(req exchange.OrderRequest) (*exchange.Order, error)
	tickerFn  func(symbol string) (*exchange.Ticker, error)
	positions []*exchange.Position
	requests  []exchange.OrderRequest

	placeCalls  int32
	tickerCalls int32
}

func newMockAdapter(name string) *mockAdapter {
	return &mockAdapter{name: name}
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	atomic.AddInt32(&m.placeCalls, 1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.placeFn
	m.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return &exchange.Order{
		ID:            "ord-" + req.ClientOrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Size,
		FilledQty:     req.Size,
		Status:        exchange.OrderStatusFilled,
		CreatedAt:     time.Now(),
	}, nil
}

func (m *mockAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (m *mockAdapter) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	return &exchange.Balance{Currency: "USDT", Total: 1000, Available: 1000}, nil
}

func (m *mockAdapter) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	atomic.AddInt32(&m.tickerCalls, 1)
	m.mu.Lock()
	fn := m.tickerFn
	m.mu.Unlock()
	if fn != nil {
		return fn(symbol)
	}
	return &exchange.Ticker{Symbol: symbol, BidPrice: 99, AskPrice: 101, LastPrice: 100}, nil
}

func (m *mockAdapter) GetPositions(ctx context.Context) ([]*exchange.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.positions, nil
}

func (m *mockAdapter) setPlace(fn func(req exchange.OrderRequest) (*exchange.Order, error)) {
	m.mu.Lock()
	m.placeFn = fn
	m.mu.Unlock()
}

func (m *mockAdapter) placed() int { return int(atomic.LoadInt32(&m.placeCalls)) }

func (m *mockAdapter) lastRequests() []exchange.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]exchange.OrderRequest(nil), m.requests...)
}

// adapterMap - AdapterSource по ID аккаунта
type adapterMap map[string]exchange.Adapter

func (a adapterMap) Get(accountID, exchangeName string) (exchange.Adapter, error) {
	ad, ok := a[accountID]
	if !ok {
		return nil, fmt.Errorf("unsupported exchange: %s", exchangeName)
	}
	return ad, nil
}

// ============================================================
// memStore - хранилище для проверки сохранения
// ============================================================

type memStore struct {
	mu     sync.Mutex
	subs   map[string]*models.BotSubscription
	links  map[string]*models.ExchangeLink
	trades []*models.TradeRecord
}

func newMemStore() *memStore {
	return &memStore{
		subs:  make(map[string]*models.BotSubscription),
		links: make(map[string]*models.ExchangeLink),
	}
}

func (s *memStore) LoadSubscriptions(ctx context.Context) ([]*models.BotSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.BotSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		// Состояние link хранится отдельно и новее снапшота подписки
		cp := *sub
		cp.Links = make([]*models.ExchangeLink, len(sub.Links))
		for i, l := range sub.Links {
			cp.Links[i] = l
			if latest, ok := s.links[l.ID]; ok {
				cp.Links[i] = latest
			}
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) SaveSubscription(ctx context.Context, sub *models.BotSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	for _, l := range sub.Links {
		s.links[l.ID] = l
	}
	return nil
}

func (s *memStore) SaveLinkState(ctx context.Context, link *models.ExchangeLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.ID] = link
	return nil
}

func (s *memStore) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

func (s *memStore) LoadTrades(ctx context.Context) ([]*models.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.TradeRecord(nil), s.trades...), nil
}

func (s *memStore) link(id string) *models.ExchangeLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[id]
}

// ============================================================
// Хелперы
// ============================================================

// fakeClock - управляемые часы
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSink собирает события
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Handle(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) ofType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testBot() *models.Bot {
	return &models.Bot{
		ID:         "bot-1",
		Name:       "trend",
		MarketType: models.MarketFutures,
		Defaults: models.ConfigOverride{
			Leverage:      models.IntPtr(5),
			MarginUSD:     models.FloatPtr(100),
			StopLossPct:   models.FloatPtr(2),
			TakeProfitPct: models.FloatPtr(4),
		},
		SymbolConfigs: map[string]models.ConfigOverride{
			"ETHUSDT": {Leverage: models.IntPtr(10)},
		},
		MaxPositions: 3,
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Gateway = GatewayConfig{
		CallTimeout: time.Second,
		Retry: retry.Config{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
		},
	}
	cfg.RateLimit = ratelimit.Limits{Rate: 1e6, Burst: 1e6}
	cfg.ExchangeRateLimits = nil
	cfg.ReconcileInterval = 0
	return cfg
}

func newTestEngine(adapters adapterMap, store Store, sinks ...EventSink) *Engine {
	return New(fastConfig(), NewStaticCatalog(testBot()), adapters, store, utils.NewNop(), sinks...)
}

func linkReq(account string, maxLoss float64, maxPositions int) LinkRequest {
	return LinkRequest{
		ExchangeAccountID: account,
		Exchange:          "mock",
		Limits:            models.RiskLimits{MaxDailyLossUSD: maxLoss, MaxPositions: maxPositions},
	}
}

func buySignal(subID, symbol string) *models.Signal {
	return &models.Signal{
		ID:             fmt.Sprintf("sig-%d", time.Now().UnixNano()),
		SubscriptionID: subID,
		Symbol:         symbol,
		Side:           models.SideBuy,
		PriceHint:      100,
	}
}

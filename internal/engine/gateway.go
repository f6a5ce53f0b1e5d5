package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signalexec/internal/exchange"
	"signalexec/pkg/ratelimit"
	"signalexec/pkg/retry"
)

// GatewayConfig - политика вызовов адаптеров бирж
type GatewayConfig struct {
	CallTimeout time.Duration // таймаут одного вызова адаптера
	Retry       retry.Config  // повторы временных ошибок
}

// DefaultGatewayConfig: таймаут 10s, 3 повтора с backoff 100ms..5s и jitter
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		CallTimeout: 10 * time.Second,
		Retry:       retry.DefaultConfig(),
	}
}

// Gateway выдаёт адаптеры, обёрнутые rate limit + circuit breaker + retry.
//
// Breaker и лимитер общие для всех подписок, использующих аккаунт.
type Gateway struct {
	cfg      GatewayConfig
	breakers *BreakerRegistry
	limiter  *ratelimit.KeyedLimiter
	events   *EventBus
}

// NewGateway создаёт шлюз. limiter может быть nil (без ограничения частоты).
func NewGateway(cfg GatewayConfig, breakers *BreakerRegistry, limiter *ratelimit.KeyedLimiter, events *EventBus) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultGatewayConfig().CallTimeout
	}
	return &Gateway{cfg: cfg, breakers: breakers, limiter: limiter, events: events}
}

// Breakers возвращает реестр breaker
func (g *Gateway) Breakers() *BreakerRegistry {
	return g.breakers
}

// Wrap оборачивает адаптер биржевого аккаунта
func (g *Gateway) Wrap(accountID string, a exchange.Adapter) *GuardedAdapter {
	return &GuardedAdapter{
		gw:        g,
		accountID: accountID,
		adapter:   a,
		breaker:   g.breakers.Get(accountID),
	}
}

// GuardedAdapter - адаптер с защитой вызовов.
//
// Порядок на каждую попытку: rate limit → проверка breaker → вызов с таймаутом.
// Повторяются только временные ошибки (таймаут, rate limit, 5xx).
// Постоянные ошибки возвращаются сразу и для breaker считаются ответом биржи.
// ErrCircuitOpen не повторяется и не учитывается как сбой.
type GuardedAdapter struct {
	gw        *Gateway
	accountID string
	adapter   exchange.Adapter
	breaker   *Breaker
}

// Name возвращает имя биржи
func (ga *GuardedAdapter) Name() string {
	return ga.adapter.Name()
}

// AccountID возвращает ID биржевого аккаунта
func (ga *GuardedAdapter) AccountID() string {
	return ga.accountID
}

// PlaceOrder размещает ордер. ClientOrderID одинаков во всех попытках -
// биржа не создаст дубль при повторе.
func (ga *GuardedAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	return guardedCall(ctx, ga, "place_order", func(ctx context.Context) (*exchange.Order, error) {
		return ga.adapter.PlaceOrder(ctx, req)
	})
}

// CancelOrder отменяет ордер
func (ga *GuardedAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := guardedCall(ctx, ga, "cancel_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, ga.adapter.CancelOrder(ctx, symbol, orderID)
	})
	return err
}

// GetBalance возвращает баланс
func (ga *GuardedAdapter) GetBalance(ctx context.Context) (*exchange.Balance, error) {
	return guardedCall(ctx, ga, "get_balance", ga.adapter.GetBalance)
}

// GetTicker возвращает тикер
func (ga *GuardedAdapter) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return guardedCall(ctx, ga, "get_ticker", func(ctx context.Context) (*exchange.Ticker, error) {
		return ga.adapter.GetTicker(ctx, symbol)
	})
}

// GetPositions возвращает открытые позиции
func (ga *GuardedAdapter) GetPositions(ctx context.Context) ([]*exchange.Position, error) {
	return guardedCall(ctx, ga, "get_positions", ga.adapter.GetPositions)
}

var _ exchange.Adapter = (*GuardedAdapter)(nil)

// guardedCall выполняет fn с политикой шлюза
func guardedCall[T any](ctx context.Context, ga *GuardedAdapter, op string, fn func(context.Context) (T, error)) (T, error) {
	exchangeName := ga.adapter.Name()

	cfg := ga.gw.cfg.Retry
	cfg.RetryIf = func(err error) bool {
		if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
			return false
		}
		return exchange.IsTransient(err)
	}
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		AdapterRetries.WithLabelValues(exchangeName, op).Inc()
		ga.gw.events.Publish(Event{
			Type:      EventRetry,
			AccountID: ga.accountID,
			Message:   fmt.Sprintf("%s %s retry %d in %s: %v", exchangeName, op, attempt, delay, err),
			Fields: map[string]interface{}{
				"exchange": exchangeName,
				"op":       op,
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
			},
		})
	}

	return retry.DoWithResult(ctx, func() (T, error) {
		var zero T

		if ga.gw.limiter != nil {
			if err := ga.gw.limiter.Wait(ctx, ga.accountID, exchangeName); err != nil {
				return zero, retry.Permanent(err)
			}
		}

		if err := ga.breaker.Allow(); err != nil {
			return zero, fmt.Errorf("%s account %s: %w", exchangeName, ga.accountID, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, ga.gw.cfg.CallTimeout)
		start := time.Now()
		v, err := fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		AdapterCallLatency.WithLabelValues(exchangeName, op).Observe(float64(time.Since(start).Microseconds()) / 1000)

		switch {
		case err == nil:
			ga.breaker.Success()
			return v, nil
		case ctx.Err() != nil:
			// Отмена вызывающим - исход неизвестен, breaker не трогаем
			ga.breaker.Abandon()
			return zero, err
		case timedOut:
			ga.breaker.Failure()
			return zero, &exchange.ExchangeError{
				Exchange: exchangeName,
				Kind:     exchange.KindTimeout,
				Message:  fmt.Sprintf("%s timed out after %s", op, ga.gw.cfg.CallTimeout),
				Original: err,
			}
		case exchange.IsTransient(err):
			ga.breaker.Failure()
			return zero, err
		default:
			ga.breaker.Success()
			return zero, err
		}
	}, cfg)
}

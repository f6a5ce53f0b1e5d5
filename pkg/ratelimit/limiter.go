package ratelimit

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limits - лимит запросов для одной биржи
type Limits struct {
	Rate  float64 // запросов в секунду
	Burst int     // допустимый всплеск
}

// KeyedLimiter - набор token bucket лимитеров (golang.org/x/time/rate),
// по одному на ключ (ID биржевого аккаунта).
//
// Лимиты берутся по имени биржи, для неизвестных бирж - значение по умолчанию.
//
// Использование:
//
//	kl := ratelimit.NewKeyedLimiter(ratelimit.Limits{Rate: 10, Burst: 20}, nil)
//	if err := kl.Wait(ctx, accountID, "bybit"); err != nil {
//	    return err // контекст отменён
//	}
type KeyedLimiter struct {
	defaults    Limits
	perExchange map[string]Limits

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// DefaultExchangeLimits - публичные лимиты REST API основных бирж
func DefaultExchangeLimits() map[string]Limits {
	return map[string]Limits{
		"bybit":  {Rate: 10, Burst: 20},
		"bitget": {Rate: 10, Burst: 20},
		"okx":    {Rate: 20, Burst: 40},
		"gate":   {Rate: 10, Burst: 20},
		"htx":    {Rate: 10, Burst: 20},
		"bingx":  {Rate: 10, Burst: 20},
	}
}

// NewKeyedLimiter создаёт набор лимитеров
func NewKeyedLimiter(defaults Limits, perExchange map[string]Limits) *KeyedLimiter {
	if defaults.Rate <= 0 {
		defaults.Rate = 10
	}
	if defaults.Burst <= 0 {
		defaults.Burst = int(defaults.Rate * 2)
	}
	normalized := make(map[string]Limits, len(perExchange))
	for name, l := range perExchange {
		normalized[strings.ToLower(name)] = l
	}
	return &KeyedLimiter{
		defaults:    defaults,
		perExchange: normalized,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// limiter возвращает лимитер для ключа, создавая при первом обращении
func (kl *KeyedLimiter) limiter(key, exchangeName string) *rate.Limiter {
	kl.mu.RLock()
	l, ok := kl.limiters[key]
	kl.mu.RUnlock()
	if ok {
		return l
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()
	if l, ok := kl.limiters[key]; ok {
		return l
	}

	limits, ok := kl.perExchange[strings.ToLower(exchangeName)]
	if !ok || limits.Rate <= 0 {
		limits = kl.defaults
	}
	if limits.Burst <= 0 {
		limits.Burst = 1
	}
	l = rate.NewLimiter(rate.Limit(limits.Rate), limits.Burst)
	kl.limiters[key] = l
	return l
}

// Wait блокирует до получения токена или отмены контекста
func (kl *KeyedLimiter) Wait(ctx context.Context, key, exchangeName string) error {
	return kl.limiter(key, exchangeName).Wait(ctx)
}

// Allow - неблокирующая проверка
func (kl *KeyedLimiter) Allow(key, exchangeName string) bool {
	return kl.limiter(key, exchangeName).Allow()
}

// Tokens возвращает текущее количество токенов (для мониторинга)
func (kl *KeyedLimiter) Tokens(key, exchangeName string) float64 {
	return kl.limiter(key, exchangeName).Tokens()
}

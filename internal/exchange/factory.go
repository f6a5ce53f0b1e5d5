package exchange

import (
	"fmt"
	"strings"
	"sync"
)

// Factory создаёт адаптер для биржевого аккаунта
type Factory func(accountID string) (Adapter, error)

// Registry хранит адаптеры по ID биржевого аккаунта.
//
// Реальные адаптеры бирж регистрируются внешним кодом через RegisterFactory,
// "paper" доступен всегда.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter // accountID → adapter
	factories map[string]Factory // exchange name → factory

	paperBalance     float64
	paperSlippageBps float64
}

// NewRegistry создаёт реестр с фабрикой paper-адаптера
func NewRegistry(paperBalance, paperSlippageBps float64) *Registry {
	r := &Registry{
		adapters:         make(map[string]Adapter),
		factories:        make(map[string]Factory),
		paperBalance:     paperBalance,
		paperSlippageBps: paperSlippageBps,
	}
	r.UsePaperFor("paper")
	return r
}

// UsePaperFor подменяет биржи симуляцией: каждый аккаунт получает свой PaperAdapter.
// Используется в dry-run режиме.
func (r *Registry) UsePaperFor(exchangeNames ...string) {
	for _, name := range exchangeNames {
		name := strings.ToLower(name)
		r.RegisterFactory(name, func(accountID string) (Adapter, error) {
			return NewPaperAdapter(name, r.paperBalance, r.paperSlippageBps), nil
		})
	}
}

// RegisterFactory регистрирует фабрику адаптеров для биржи
func (r *Registry) RegisterFactory(exchangeName string, f Factory) {
	r.mu.Lock()
	r.factories[strings.ToLower(exchangeName)] = f
	r.mu.Unlock()
}

// Register явно привязывает адаптер к аккаунту
func (r *Registry) Register(accountID string, a Adapter) {
	r.mu.Lock()
	r.adapters[accountID] = a
	r.mu.Unlock()
}

// Get возвращает адаптер аккаунта, создавая его через фабрику биржи при первом обращении
func (r *Registry) Get(accountID, exchangeName string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[accountID]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check
	if a, ok := r.adapters[accountID]; ok {
		return a, nil
	}

	f, ok := r.factories[strings.ToLower(exchangeName)]
	if !ok {
		return nil, fmt.Errorf("unsupported exchange: %s", exchangeName)
	}
	a, err := f(accountID)
	if err != nil {
		return nil, fmt.Errorf("create adapter for account %s: %w", accountID, err)
	}
	r.adapters[accountID] = a
	return a, nil
}

// IsSupported проверяет, есть ли фабрика для биржи
func (r *Registry) IsSupported(exchangeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(exchangeName)]
	return ok
}

// Package memory - хранилище движка в памяти процесса.
//
// Используется когда база данных не настроена (DB_ENABLED=false) и в тестах.
// Состояние живёт до перезапуска процесса.
package memory

import (
	"context"
	"sort"
	"sync"

	"signalexec/internal/models"
)

// Store реализует engine.Store поверх map под мьютексом
type Store struct {
	mu     sync.RWMutex
	subs   map[string]*models.BotSubscription
	links  map[string]*models.ExchangeLink
	trades []*models.TradeRecord
	nextID int64
}

// New создаёт пустое хранилище
func New() *Store {
	return &Store{
		subs:  make(map[string]*models.BotSubscription),
		links: make(map[string]*models.ExchangeLink),
	}
}

// LoadSubscriptions возвращает копии подписок в порядке создания.
// Link берутся из последнего SaveLinkState - он новее снапшота подписки.
func (s *Store) LoadSubscriptions(ctx context.Context) ([]*models.BotSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.BotSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		cp := *sub
		cp.Links = make([]*models.ExchangeLink, len(sub.Links))
		for i, l := range sub.Links {
			if latest, ok := s.links[l.ID]; ok {
				l = latest
			}
			cp.Links[i] = copyLink(l)
		}
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveSubscription сохраняет снапшот подписки вместе с link
func (s *Store) SaveSubscription(ctx context.Context, sub *models.BotSubscription) error {
	cp := *sub
	cp.Links = make([]*models.ExchangeLink, len(sub.Links))
	for i, l := range sub.Links {
		cp.Links[i] = copyLink(l)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[cp.ID] = &cp
	for _, l := range cp.Links {
		s.links[l.ID] = l
	}
	return nil
}

// SaveLinkState сохраняет состояние одного link
func (s *Store) SaveLinkState(ctx context.Context, link *models.ExchangeLink) error {
	cp := copyLink(link)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[cp.ID] = cp
	return nil
}

// SaveTrade добавляет сделку в журнал и присваивает ей ID
func (s *Store) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	trade.ID = s.nextID
	cp := *trade
	s.trades = append(s.trades, &cp)
	return nil
}

// LoadTrades возвращает копию журнала сделок
func (s *Store) LoadTrades(ctx context.Context) ([]*models.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.TradeRecord, len(s.trades))
	for i, t := range s.trades {
		cp := *t
		out[i] = &cp
	}
	return out, nil
}

func copyLink(l *models.ExchangeLink) *models.ExchangeLink {
	cp := *l
	if l.SymbolOverrides != nil {
		cp.SymbolOverrides = make(map[string]models.ConfigOverride, len(l.SymbolOverrides))
		for k, v := range l.SymbolOverrides {
			cp.SymbolOverrides[k] = v
		}
	}
	if l.State.PausedAt != nil {
		t := *l.State.PausedAt
		cp.State.PausedAt = &t
	}
	return &cp
}

package repository

import (
	"context"
	"database/sql"

	"signalexec/internal/models"
)

// Store - постоянное хранилище движка на postgres (реализует engine.Store)
type Store struct {
	Subscriptions *SubscriptionRepository
	Trades        *TradeRepository
}

// NewStore создаёт хранилище поверх открытого соединения
func NewStore(db *sql.DB) *Store {
	return &Store{
		Subscriptions: NewSubscriptionRepository(db),
		Trades:        NewTradeRepository(db),
	}
}

func (s *Store) LoadSubscriptions(ctx context.Context) ([]*models.BotSubscription, error) {
	return s.Subscriptions.GetAll(ctx)
}

func (s *Store) SaveSubscription(ctx context.Context, sub *models.BotSubscription) error {
	return s.Subscriptions.Save(ctx, sub)
}

func (s *Store) SaveLinkState(ctx context.Context, link *models.ExchangeLink) error {
	return s.Subscriptions.SaveLink(ctx, link)
}

func (s *Store) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	return s.Trades.Create(ctx, trade)
}

func (s *Store) LoadTrades(ctx context.Context) ([]*models.TradeRecord, error) {
	return s.Trades.GetAll(ctx)
}

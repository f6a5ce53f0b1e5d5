package repository

import (
	"context"
	"database/sql"
	"time"

	"signalexec/internal/models"
)

// TradeRepository - работа с таблицей trades (журнал закрытых позиций)
//
// Из журнала при старте восстанавливается история PNL по дням.
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create записывает закрытую сделку
func (r *TradeRepository) Create(ctx context.Context, trade *models.TradeRecord) error {
	query := `
		INSERT INTO trades (link_id, subscription_id, symbol, realized_pnl, outcome, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if trade.ClosedAt.IsZero() {
		trade.ClosedAt = time.Now()
	}
	if trade.Outcome == "" {
		trade.Outcome = models.ClassifyPnL(trade.RealizedPnL)
	}

	return r.db.QueryRowContext(ctx, query,
		trade.LinkID,
		trade.SubscriptionID,
		trade.Symbol,
		trade.RealizedPnL,
		trade.Outcome,
		trade.ClosedAt,
	).Scan(&trade.ID)
}

// GetAll возвращает все сделки в порядке закрытия
func (r *TradeRepository) GetAll(ctx context.Context) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, link_id, subscription_id, symbol, realized_pnl, outcome, closed_at
		FROM trades
		ORDER BY closed_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		t := &models.TradeRecord{}
		if err := rows.Scan(&t.ID, &t.LinkID, &t.SubscriptionID, &t.Symbol, &t.RealizedPnL, &t.Outcome, &t.ClosedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

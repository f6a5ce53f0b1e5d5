package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"signalexec/internal/models"
)

// SubscriptionRepository - работа с таблицами subscriptions и exchange_links
//
// Подписка сохраняется целиком (строка подписки + все link) в одной транзакции.
// Состояние отдельного link (позиции, убыток за день, статус) пишется отдельно
// через SaveLink - это горячий путь после каждого ордера и закрытия.
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository создает новый экземпляр репозитория
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const upsertSubscriptionQuery = `
	INSERT INTO subscriptions (id, bot_id, client_id, status, status_reason, total_signals, orders_executed, total_trades, wins, losses, break_evens, realized_pnl, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		status_reason = EXCLUDED.status_reason,
		total_signals = EXCLUDED.total_signals,
		orders_executed = EXCLUDED.orders_executed,
		total_trades = EXCLUDED.total_trades,
		wins = EXCLUDED.wins,
		losses = EXCLUDED.losses,
		break_evens = EXCLUDED.break_evens,
		realized_pnl = EXCLUDED.realized_pnl,
		updated_at = EXCLUDED.updated_at`

const upsertLinkQuery = `
	INSERT INTO exchange_links (id, subscription_id, bot_id, exchange_account_id, exchange, max_daily_loss_usd, max_positions, override, symbol_overrides,
		status, status_reason, current_positions, today_loss_usd, paused_at, orders_executed, total_trades, wins, losses, break_evens, realized_pnl, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	ON CONFLICT (id) DO UPDATE SET
		max_daily_loss_usd = EXCLUDED.max_daily_loss_usd,
		max_positions = EXCLUDED.max_positions,
		override = EXCLUDED.override,
		symbol_overrides = EXCLUDED.symbol_overrides,
		status = EXCLUDED.status,
		status_reason = EXCLUDED.status_reason,
		current_positions = EXCLUDED.current_positions,
		today_loss_usd = EXCLUDED.today_loss_usd,
		paused_at = EXCLUDED.paused_at,
		orders_executed = EXCLUDED.orders_executed,
		total_trades = EXCLUDED.total_trades,
		wins = EXCLUDED.wins,
		losses = EXCLUDED.losses,
		break_evens = EXCLUDED.break_evens,
		realized_pnl = EXCLUDED.realized_pnl,
		updated_at = EXCLUDED.updated_at`

// Save сохраняет подписку и все её link в одной транзакции
func (r *SubscriptionRepository) Save(ctx context.Context, sub *models.BotSubscription) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.CreatedAt
	}

	st := sub.Stats
	_, err = tx.ExecContext(ctx, upsertSubscriptionQuery,
		sub.ID,
		sub.BotID,
		sub.ClientID,
		sub.Status,
		sub.StatusReason,
		st.TotalSignals,
		st.OrdersExecuted,
		st.TotalTrades,
		st.Wins,
		st.Losses,
		st.BreakEvens,
		st.RealizedPnL,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription %s: %w", sub.ID, err)
	}

	for _, link := range sub.Links {
		if err := saveLink(ctx, tx, link, sub.UpdatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveLink сохраняет лимиты, overrides, состояние и статистику одного link
func (r *SubscriptionRepository) SaveLink(ctx context.Context, link *models.ExchangeLink) error {
	return saveLink(ctx, r.db, link, time.Now())
}

func saveLink(ctx context.Context, ex execer, link *models.ExchangeLink, updatedAt time.Time) error {
	override, err := marshalJSON(link.Override, link.Override.IsEmpty())
	if err != nil {
		return fmt.Errorf("failed to encode override: %w", err)
	}
	symbolOverrides, err := marshalJSON(link.SymbolOverrides, len(link.SymbolOverrides) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode symbol overrides: %w", err)
	}

	var pausedAt sql.NullTime
	if link.State.PausedAt != nil {
		pausedAt = sql.NullTime{Time: *link.State.PausedAt, Valid: true}
	}

	st := link.Stats
	_, err = ex.ExecContext(ctx, upsertLinkQuery,
		link.ID,
		link.SubscriptionID,
		link.BotID,
		link.ExchangeAccountID,
		link.Exchange,
		link.Limits.MaxDailyLossUSD,
		link.Limits.MaxPositions,
		override,
		symbolOverrides,
		link.State.Status,
		link.State.StatusReason,
		link.State.CurrentPositions,
		link.State.TodayLossUSD,
		pausedAt,
		st.OrdersExecuted,
		st.TotalTrades,
		st.Wins,
		st.Losses,
		st.BreakEvens,
		st.RealizedPnL,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save link %s: %w", link.ID, err)
	}
	return nil
}

// GetAll возвращает все подписки (включая отписанные) с их link
func (r *SubscriptionRepository) GetAll(ctx context.Context) ([]*models.BotSubscription, error) {
	query := `
		SELECT id, bot_id, client_id, status, status_reason, total_signals, orders_executed, total_trades, wins, losses, break_evens, realized_pnl, created_at, updated_at
		FROM subscriptions
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.BotSubscription
	byID := make(map[string]*models.BotSubscription)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
		byID[sub.ID] = sub
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	links, err := r.queryLinks(ctx)
	if err != nil {
		return nil, err
	}
	for _, link := range links {
		if sub, ok := byID[link.SubscriptionID]; ok {
			sub.Links = append(sub.Links, link)
		}
	}

	return subs, nil
}

func (r *SubscriptionRepository) queryLinks(ctx context.Context) ([]*models.ExchangeLink, error) {
	query := `
		SELECT id, subscription_id, bot_id, exchange_account_id, exchange, max_daily_loss_usd, max_positions, override, symbol_overrides,
			status, status_reason, current_positions, today_loss_usd, paused_at, orders_executed, total_trades, wins, losses, break_evens, realized_pnl
		FROM exchange_links
		ORDER BY subscription_id, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*models.ExchangeLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func scanSubscription(row *sql.Rows) (*models.BotSubscription, error) {
	sub := &models.BotSubscription{}
	err := row.Scan(
		&sub.ID,
		&sub.BotID,
		&sub.ClientID,
		&sub.Status,
		&sub.StatusReason,
		&sub.Stats.TotalSignals,
		&sub.Stats.OrdersExecuted,
		&sub.Stats.TotalTrades,
		&sub.Stats.Wins,
		&sub.Stats.Losses,
		&sub.Stats.BreakEvens,
		&sub.Stats.RealizedPnL,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func scanLink(row *sql.Rows) (*models.ExchangeLink, error) {
	link := &models.ExchangeLink{}
	var override, symbolOverrides []byte
	var pausedAt sql.NullTime

	err := row.Scan(
		&link.ID,
		&link.SubscriptionID,
		&link.BotID,
		&link.ExchangeAccountID,
		&link.Exchange,
		&link.Limits.MaxDailyLossUSD,
		&link.Limits.MaxPositions,
		&override,
		&symbolOverrides,
		&link.State.Status,
		&link.State.StatusReason,
		&link.State.CurrentPositions,
		&link.State.TodayLossUSD,
		&pausedAt,
		&link.Stats.OrdersExecuted,
		&link.Stats.TotalTrades,
		&link.Stats.Wins,
		&link.Stats.Losses,
		&link.Stats.BreakEvens,
		&link.Stats.RealizedPnL,
	)
	if err != nil {
		return nil, err
	}

	if len(override) > 0 {
		if err := json.Unmarshal(override, &link.Override); err != nil {
			return nil, fmt.Errorf("failed to decode override of link %s: %w", link.ID, err)
		}
	}
	if len(symbolOverrides) > 0 {
		if err := json.Unmarshal(symbolOverrides, &link.SymbolOverrides); err != nil {
			return nil, fmt.Errorf("failed to decode symbol overrides of link %s: %w", link.ID, err)
		}
	}
	if pausedAt.Valid {
		t := pausedAt.Time
		link.State.PausedAt = &t
	}

	return link, nil
}

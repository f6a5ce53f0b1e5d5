package repository

import (
	"context"
	"database/sql"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json - JSONB колонки (override, symbol_overrides, meta) кодируются json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// schema - DDL таблиц движка. Выполняется при старте (идемпотентно).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS bots (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		market_type VARCHAR(16) NOT NULL DEFAULT 'futures',
		symbol VARCHAR(32) NOT NULL DEFAULT '',
		defaults JSONB NOT NULL,
		max_positions INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS bot_symbol_configs (
		bot_id VARCHAR(64) NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
		symbol VARCHAR(32) NOT NULL,
		config JSONB NOT NULL,
		PRIMARY KEY (bot_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id VARCHAR(64) PRIMARY KEY,
		bot_id VARCHAR(64) NOT NULL,
		client_id VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		status_reason VARCHAR(32) NOT NULL DEFAULT '',
		total_signals BIGINT NOT NULL DEFAULT 0,
		orders_executed BIGINT NOT NULL DEFAULT 0,
		total_trades BIGINT NOT NULL DEFAULT 0,
		wins BIGINT NOT NULL DEFAULT 0,
		losses BIGINT NOT NULL DEFAULT 0,
		break_evens BIGINT NOT NULL DEFAULT 0,
		realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_client ON subscriptions(client_id)`,
	`CREATE TABLE IF NOT EXISTS exchange_links (
		id VARCHAR(64) PRIMARY KEY,
		subscription_id VARCHAR(64) NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
		bot_id VARCHAR(64) NOT NULL,
		exchange_account_id VARCHAR(64) NOT NULL,
		exchange VARCHAR(32) NOT NULL,
		max_daily_loss_usd DECIMAL(20, 8) NOT NULL DEFAULT 0,
		max_positions INTEGER NOT NULL DEFAULT 0,
		override JSONB,
		symbol_overrides JSONB,
		status VARCHAR(16) NOT NULL,
		status_reason VARCHAR(32) NOT NULL DEFAULT '',
		current_positions INTEGER NOT NULL DEFAULT 0,
		today_loss_usd DECIMAL(20, 8) NOT NULL DEFAULT 0,
		paused_at TIMESTAMP,
		orders_executed BIGINT NOT NULL DEFAULT 0,
		total_trades BIGINT NOT NULL DEFAULT 0,
		wins BIGINT NOT NULL DEFAULT 0,
		losses BIGINT NOT NULL DEFAULT 0,
		break_evens BIGINT NOT NULL DEFAULT 0,
		realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_links_subscription ON exchange_links(subscription_id)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		link_id VARCHAR(64) NOT NULL,
		subscription_id VARCHAR(64) NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		realized_pnl DECIMAL(20, 8) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		closed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_link_closed ON trades(link_id, closed_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL DEFAULT NOW(),
		type VARCHAR(32) NOT NULL,
		severity VARCHAR(16) NOT NULL DEFAULT 'info',
		subscription_id VARCHAR(64) NOT NULL DEFAULT '',
		link_id VARCHAR(64) NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		meta JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications(timestamp DESC)`,
}

// Migrate создаёт таблицы движка, если их ещё нет
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// execer - общий интерфейс *sql.DB и *sql.Tx для запросов внутри и вне транзакции
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// marshalJSON кодирует значение для JSONB колонки; пустое значение хранится как NULL
func marshalJSON(v interface{}, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

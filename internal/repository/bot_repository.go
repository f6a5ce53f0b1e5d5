package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"signalexec/internal/models"
)

// BotRepository - работа с таблицами bots и bot_symbol_configs
//
// Боты задаёт администратор; движок только читает каталог при старте.
// Upsert используется для загрузки каталога из YAML в базу.
type BotRepository struct {
	db *sql.DB
}

// NewBotRepository создает новый экземпляр репозитория
func NewBotRepository(db *sql.DB) *BotRepository {
	return &BotRepository{db: db}
}

// Upsert сохраняет бота вместе с настройками по символам (заменяет старые)
func (r *BotRepository) Upsert(ctx context.Context, bot *models.Bot) error {
	defaults, err := json.Marshal(bot.Defaults)
	if err != nil {
		return fmt.Errorf("failed to encode bot defaults: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = now
	}
	bot.UpdatedAt = now

	query := `
		INSERT INTO bots (id, name, market_type, symbol, defaults, max_positions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			market_type = EXCLUDED.market_type,
			symbol = EXCLUDED.symbol,
			defaults = EXCLUDED.defaults,
			max_positions = EXCLUDED.max_positions,
			updated_at = EXCLUDED.updated_at`

	_, err = tx.ExecContext(ctx, query,
		bot.ID,
		bot.Name,
		bot.MarketType,
		bot.Symbol,
		defaults,
		bot.MaxPositions,
		bot.CreatedAt,
		bot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save bot %s: %w", bot.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bot_symbol_configs WHERE bot_id = $1`, bot.ID); err != nil {
		return fmt.Errorf("failed to clear symbol configs of bot %s: %w", bot.ID, err)
	}

	for symbol, cfg := range bot.SymbolConfigs {
		data, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode symbol config %s: %w", symbol, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO bot_symbol_configs (bot_id, symbol, config) VALUES ($1, $2, $3)`,
			bot.ID, symbol, data,
		)
		if err != nil {
			return fmt.Errorf("failed to save symbol config %s of bot %s: %w", symbol, bot.ID, err)
		}
	}

	return tx.Commit()
}

// GetAll возвращает всех ботов с настройками по символам
func (r *BotRepository) GetAll(ctx context.Context) ([]*models.Bot, error) {
	query := `
		SELECT id, name, market_type, symbol, defaults, max_positions, created_at, updated_at
		FROM bots
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*models.Bot
	byID := make(map[string]*models.Bot)
	for rows.Next() {
		bot := &models.Bot{}
		var defaults []byte
		err := rows.Scan(
			&bot.ID,
			&bot.Name,
			&bot.MarketType,
			&bot.Symbol,
			&defaults,
			&bot.MaxPositions,
			&bot.CreatedAt,
			&bot.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(defaults, &bot.Defaults); err != nil {
			return nil, fmt.Errorf("failed to decode defaults of bot %s: %w", bot.ID, err)
		}
		bots = append(bots, bot)
		byID[bot.ID] = bot
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadSymbolConfigs(ctx, byID); err != nil {
		return nil, err
	}
	return bots, nil
}

func (r *BotRepository) loadSymbolConfigs(ctx context.Context, byID map[string]*models.Bot) error {
	rows, err := r.db.QueryContext(ctx, `SELECT bot_id, symbol, config FROM bot_symbol_configs`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var botID, symbol string
		var data []byte
		if err := rows.Scan(&botID, &symbol, &data); err != nil {
			return err
		}
		bot, ok := byID[botID]
		if !ok {
			continue
		}
		var cfg models.ConfigOverride
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to decode symbol config %s of bot %s: %w", symbol, botID, err)
		}
		if bot.SymbolConfigs == nil {
			bot.SymbolConfigs = make(map[string]models.ConfigOverride)
		}
		bot.SymbolConfigs[symbol] = cfg
	}
	return rows.Err()
}

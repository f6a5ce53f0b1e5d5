package models

import "time"

// Bot описывает источник сигналов (webhook-бот или стратегия).
//
// Бот создаётся и меняется только администратором, движок читает его как есть.
type Bot struct {
	ID         string `json:"id" yaml:"id" db:"id"`
	Name       string `json:"name" yaml:"name" db:"name"`
	MarketType string `json:"market_type" yaml:"market_type" db:"market_type"` // spot, futures

	// Symbol - фиксированный символ для webhook-ботов (пусто = любой символ)
	Symbol string `json:"symbol,omitempty" yaml:"symbol" db:"symbol"`

	// Defaults - глобальные параметры бота, последний слой резолва (должны быть полными)
	Defaults ConfigOverride `json:"defaults" yaml:"defaults"`

	// SymbolConfigs - параметры бота по символам, заданные администратором
	SymbolConfigs map[string]ConfigOverride `json:"symbol_configs,omitempty" yaml:"symbol_configs"`

	// MaxPositions - лимит одновременных позиций по умолчанию для новых подключений
	MaxPositions int `json:"max_positions" yaml:"max_positions" db:"max_positions"`

	CreatedAt time.Time `json:"created_at" yaml:"-" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-" db:"updated_at"`
}

// Типы рынка
const (
	MarketSpot    = "spot"
	MarketFutures = "futures"
)

// TradesSymbol проверяет, может ли бот торговать символом
func (b *Bot) TradesSymbol(symbol string) bool {
	return b.Symbol == "" || b.Symbol == symbol
}

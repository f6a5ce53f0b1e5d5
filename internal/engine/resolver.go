package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"signalexec/internal/models"
)

var (
	// ErrIncompleteConfiguration - поле не задано ни на одном слое.
	// Глобальные настройки бота обязаны быть полными, поэтому это сбой целостности данных.
	ErrIncompleteConfiguration = errors.New("incomplete configuration")

	// ErrBotNotFound - бот link отсутствует в каталоге
	ErrBotNotFound = errors.New("bot not found")

	// ErrSymbolNotAllowed - бот с фиксированным символом получил сигнал по другому символу
	ErrSymbolNotAllowed = errors.New("symbol not allowed for bot")
)

// BotCatalog - источник определений ботов (только чтение)
type BotCatalog interface {
	Bot(id string) (*models.Bot, bool)
}

// StaticCatalog - каталог ботов в памяти
//
// Заполняется из YAML (config.LoadBotCatalog) и/или из таблицы bots.
type StaticCatalog struct {
	mu   sync.RWMutex
	bots map[string]*models.Bot
}

// NewStaticCatalog создаёт каталог из списка ботов
func NewStaticCatalog(bots ...*models.Bot) *StaticCatalog {
	c := &StaticCatalog{bots: make(map[string]*models.Bot, len(bots))}
	for _, b := range bots {
		c.bots[b.ID] = b
	}
	return c
}

// Put добавляет или заменяет бота
func (c *StaticCatalog) Put(b *models.Bot) {
	c.mu.Lock()
	c.bots[b.ID] = b
	c.mu.Unlock()
}

// Bot возвращает бота по ID
func (c *StaticCatalog) Bot(id string) (*models.Bot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bots[id]
	return b, ok
}

// All возвращает ботов, отсортированных по ID
func (c *StaticCatalog) All() []*models.Bot {
	c.mu.RLock()
	out := make([]*models.Bot, 0, len(c.bots))
	for _, b := range c.bots {
		out = append(out, b)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ValidateBot проверяет инвариант каталога: глобальные настройки полные
func ValidateBot(b *models.Bot) error {
	if b.ID == "" {
		return errors.New("bot id is required")
	}
	if !b.Defaults.IsComplete() {
		return fmt.Errorf("bot %s: defaults must set every field: %w", b.ID, ErrIncompleteConfiguration)
	}
	return nil
}

// ============================================================
// Resolver
// ============================================================

// configLayer - один слой резолва: имя и функция поиска
type configLayer struct {
	name   string
	lookup func() *models.ConfigOverride
}

// Resolver вычисляет эффективные параметры торговли для (link, symbol).
//
// Слои в порядке приоритета:
//  1. настройки подписчика для символа, затем настройки подписчика для всего link
//  2. настройки бота для символа
//  3. глобальные настройки бота
//
// Каждое поле резолвится независимо: слой без leverage пропускается
// только для leverage. Резолвер не делает I/O и детерминирован.
type Resolver struct {
	catalog BotCatalog
}

// NewResolver создаёт резолвер поверх каталога ботов
func NewResolver(catalog BotCatalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve возвращает полностью заполненную конфигурацию
func (r *Resolver) Resolve(link *models.ExchangeLink, symbol string) (models.EffectiveConfig, error) {
	bot, ok := r.catalog.Bot(link.BotID)
	if !ok {
		return models.EffectiveConfig{}, fmt.Errorf("%w: %s", ErrBotNotFound, link.BotID)
	}

	layers := []configLayer{
		{models.LayerSymbolCustom, func() *models.ConfigOverride {
			if o, ok := link.SymbolOverrides[symbol]; ok {
				return &o
			}
			return nil
		}},
		{models.LayerLinkCustom, func() *models.ConfigOverride { return &link.Override }},
		{models.LayerBotSymbol, func() *models.ConfigOverride {
			if o, ok := bot.SymbolConfigs[symbol]; ok {
				return &o
			}
			return nil
		}},
		{models.LayerBotDefault, func() *models.ConfigOverride { return &bot.Defaults }},
	}

	overrides := make([]*models.ConfigOverride, len(layers))
	for i, l := range layers {
		overrides[i] = l.lookup()
	}

	cfg := models.EffectiveConfig{Sources: make(map[string]string, 4)}

	pickInt := func(field string, get func(*models.ConfigOverride) *int) (int, error) {
		for i, o := range overrides {
			if o == nil {
				continue
			}
			if v := get(o); v != nil {
				cfg.Sources[field] = layers[i].name
				return *v, nil
			}
		}
		return 0, fmt.Errorf("%w: %s is unset for bot %s symbol %s", ErrIncompleteConfiguration, field, bot.ID, symbol)
	}
	pickFloat := func(field string, get func(*models.ConfigOverride) *float64) (float64, error) {
		for i, o := range overrides {
			if o == nil {
				continue
			}
			if v := get(o); v != nil {
				cfg.Sources[field] = layers[i].name
				return *v, nil
			}
		}
		return 0, fmt.Errorf("%w: %s is unset for bot %s symbol %s", ErrIncompleteConfiguration, field, bot.ID, symbol)
	}

	var err error
	if cfg.Leverage, err = pickInt(models.FieldLeverage, func(o *models.ConfigOverride) *int { return o.Leverage }); err != nil {
		return models.EffectiveConfig{}, err
	}
	if cfg.MarginUSD, err = pickFloat(models.FieldMarginUSD, func(o *models.ConfigOverride) *float64 { return o.MarginUSD }); err != nil {
		return models.EffectiveConfig{}, err
	}
	if cfg.StopLossPct, err = pickFloat(models.FieldStopLossPct, func(o *models.ConfigOverride) *float64 { return o.StopLossPct }); err != nil {
		return models.EffectiveConfig{}, err
	}
	if cfg.TakeProfitPct, err = pickFloat(models.FieldTakeProfitPct, func(o *models.ConfigOverride) *float64 { return o.TakeProfitPct }); err != nil {
		return models.EffectiveConfig{}, err
	}

	return cfg, nil
}

// CheckSymbol проверяет, может ли бот link торговать символом
func (r *Resolver) CheckSymbol(link *models.ExchangeLink, symbol string) error {
	bot, ok := r.catalog.Bot(link.BotID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBotNotFound, link.BotID)
	}
	if !bot.TradesSymbol(symbol) {
		return fmt.Errorf("%w: bot %s trades %s, got %s", ErrSymbolNotAllowed, bot.ID, bot.Symbol, symbol)
	}
	return nil
}

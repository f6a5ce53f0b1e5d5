package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

// catalogFile - структура YAML каталога ботов
//
//	bots:
//	  - id: trend-btc
//	    name: Trend BTC
//	    market_type: futures
//	    max_positions: 3
//	    defaults: {leverage: 5, margin_usd: 100, stop_loss_pct: 2, take_profit_pct: 4}
//	    symbol_configs:
//	      ETHUSDT: {leverage: 10}
type catalogFile struct {
	Bots []*models.Bot `yaml:"bots"`
}

// LoadBotCatalog читает определения ботов из YAML файла
func LoadBotCatalog(path string) ([]*models.Bot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bot catalog: %w", err)
	}
	return ParseBotCatalog(data)
}

// ParseBotCatalog разбирает и проверяет каталог ботов.
// Символы приводятся к верхнему регистру, у каждого бота должны быть полные defaults.
func ParseBotCatalog(data []byte) ([]*models.Bot, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse bot catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Bots))
	for i, bot := range file.Bots {
		if bot == nil {
			return nil, fmt.Errorf("bot catalog entry %d is empty", i)
		}
		if err := engine.ValidateBot(bot); err != nil {
			return nil, err
		}
		if seen[bot.ID] {
			return nil, fmt.Errorf("duplicate bot id %q in catalog", bot.ID)
		}
		seen[bot.ID] = true

		if bot.MarketType == "" {
			bot.MarketType = models.MarketFutures
		}
		if bot.Symbol != "" {
			bot.Symbol = utils.NormalizeSymbol(bot.Symbol)
		}
		if len(bot.SymbolConfigs) > 0 {
			normalized := make(map[string]models.ConfigOverride, len(bot.SymbolConfigs))
			for symbol, cfg := range bot.SymbolConfigs {
				normalized[utils.NormalizeSymbol(symbol)] = cfg
			}
			bot.SymbolConfigs = normalized
		}
	}

	return file.Bots, nil
}

package models

// ConfigOverride - частично заполненный набор торговых параметров.
//
// nil поле означает "не задано на этом слое" - значение берётся со следующего слоя.
type ConfigOverride struct {
	Leverage      *int     `json:"leverage,omitempty" yaml:"leverage"`
	MarginUSD     *float64 `json:"margin_usd,omitempty" yaml:"margin_usd"`
	StopLossPct   *float64 `json:"stop_loss_pct,omitempty" yaml:"stop_loss_pct"`
	TakeProfitPct *float64 `json:"take_profit_pct,omitempty" yaml:"take_profit_pct"`
}

// IsEmpty возвращает true если ни одно поле не задано
func (c ConfigOverride) IsEmpty() bool {
	return c.Leverage == nil && c.MarginUSD == nil && c.StopLossPct == nil && c.TakeProfitPct == nil
}

// IsComplete возвращает true если заданы все поля
func (c ConfigOverride) IsComplete() bool {
	return c.Leverage != nil && c.MarginUSD != nil && c.StopLossPct != nil && c.TakeProfitPct != nil
}

// Названия полей конфигурации (используются в ошибках и в EffectiveConfig.Sources)
const (
	FieldLeverage      = "leverage"
	FieldMarginUSD     = "margin_usd"
	FieldStopLossPct   = "stop_loss_pct"
	FieldTakeProfitPct = "take_profit_pct"
)

// Слои конфигурации в порядке приоритета
const (
	LayerSymbolCustom = "subscriber_symbol" // настройки подписчика для (link, symbol)
	LayerLinkCustom   = "subscriber_link"   // настройки подписчика для всего link
	LayerBotSymbol    = "bot_symbol"        // настройки бота для символа
	LayerBotDefault   = "bot_default"       // глобальные настройки бота
)

// EffectiveConfig - итоговые параметры после резолва, все поля заполнены
type EffectiveConfig struct {
	Leverage      int     `json:"leverage"`
	MarginUSD     float64 `json:"margin_usd"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`

	// Sources - с какого слоя взято каждое поле (field → layer)
	Sources map[string]string `json:"sources,omitempty"`
}

// IntPtr и FloatPtr - хелперы для заполнения ConfigOverride
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных API подписчика
//
// Функции:
// - ValidateSymbol / NormalizeSymbol: торговый символ (BTCUSDT)
// - ValidateLeverage / ValidateMargin: параметры размера позиции
// - ValidateStopLoss / ValidateTakeProfit: проценты защитных ордеров
// - ValidateMaxDailyLoss / ValidateMaxPositions: лимиты риска
// - ValidateExchange / NormalizeExchange: поддерживаемые биржи
// - ValidationErrors: накопление ошибок по полям

var (
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrInvalidLeverage     = errors.New("leverage must be between 1 and 125")
	ErrInvalidMargin       = errors.New("margin must be positive")
	ErrInvalidStopLoss     = errors.New("stop loss must be in (0, 100]")
	ErrInvalidTakeProfit   = errors.New("take profit must be in (0, 1000]")
	ErrInvalidDailyLoss    = errors.New("max daily loss must be non-negative")
	ErrInvalidMaxPositions = errors.New("max positions must be at least 1")
	ErrUnsupportedExchange = errors.New("unsupported exchange")
)

// MaxLeverage верхняя граница плеча среди поддерживаемых бирж
const MaxLeverage = 125

// SupportedExchanges биржи, для которых есть адаптер
var SupportedExchanges = []string{"paper", "bybit", "bitget", "okx", "gate", "htx", "bingx"}

var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9]+([-_/][A-Za-z0-9]+)?$`)

// ValidateSymbol проверяет формат символа: 2-30 символов, буквы/цифры,
// допускается один разделитель (-, _, /)
func ValidateSymbol(symbol string) error {
	if len(symbol) < 2 || len(symbol) > 30 || !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// NormalizeSymbol приводит символ к виду BTCUSDT
func NormalizeSymbol(symbol string) string {
	r := strings.NewReplacer("-", "", "_", "", "/", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(symbol)))
}

func ValidateLeverage(leverage int) error {
	if leverage < 1 || leverage > MaxLeverage {
		return ErrInvalidLeverage
	}
	return nil
}

func ValidateMargin(marginUSD float64) error {
	if marginUSD <= 0 {
		return ErrInvalidMargin
	}
	return nil
}

func ValidateStopLoss(pct float64) error {
	if pct <= 0 || pct > 100 {
		return ErrInvalidStopLoss
	}
	return nil
}

func ValidateTakeProfit(pct float64) error {
	if pct <= 0 || pct > 1000 {
		return ErrInvalidTakeProfit
	}
	return nil
}

// ValidateMaxDailyLoss - 0 означает "без лимита"
func ValidateMaxDailyLoss(usd float64) error {
	if usd < 0 {
		return ErrInvalidDailyLoss
	}
	return nil
}

func ValidateMaxPositions(n int) error {
	if n < 1 {
		return ErrInvalidMaxPositions
	}
	return nil
}

// ValidateExchange проверяет что биржа поддерживается
func ValidateExchange(name string) error {
	n := NormalizeExchange(name)
	for _, ex := range SupportedExchanges {
		if ex == n {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedExchange, name)
}

// NormalizeExchange приводит имя биржи к нижнему регистру без пробелов
func NormalizeExchange(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ============================================================
// ValidationErrors
// ============================================================

// ValidationError ошибка конкретного поля
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors набор ошибок валидации
type ValidationErrors []ValidationError

func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку, если она не nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Err возвращает nil если ошибок нет
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

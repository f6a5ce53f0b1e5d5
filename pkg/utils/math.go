package utils

import (
	"math"
)

// math.go - математические утилиты для исполнения сигналов
//
// Назначение:
// Чистые функции расчёта размера ордера, уровней SL/TP и P&L.
//
// Функции:
// - OrderSize: объём позиции из маржи, плеча и цены
// - StopLossPrice / TakeProfitPrice: уровни защитных ордеров
// - CalculatePNL: реализованный P&L позиции
// - RoundTo: округление до N знаков (для отчётов)

// OrderSize рассчитывает объём позиции в базовом активе
//
// size = margin * leverage / price
//
// Возвращает 0 при некорректных входных данных.
func OrderSize(marginUSD float64, leverage int, price float64) float64 {
	if marginUSD <= 0 || leverage <= 0 || price <= 0 {
		return 0
	}
	return marginUSD * float64(leverage) / price
}

// StopLossPrice возвращает цену стоп-лосса для стороны позиции
//
// Для покупки - ниже цены входа, для продажи - выше.
// pct <= 0 означает отсутствие стоп-лосса (0).
func StopLossPrice(side string, entry, pct float64) float64 {
	if pct <= 0 || entry <= 0 {
		return 0
	}
	if isShort(side) {
		return entry * (1 + pct/100)
	}
	return entry * (1 - pct/100)
}

// TakeProfitPrice возвращает цену тейк-профита для стороны позиции
func TakeProfitPrice(side string, entry, pct float64) float64 {
	if pct <= 0 || entry <= 0 {
		return 0
	}
	if isShort(side) {
		return entry * (1 - pct/100)
	}
	return entry * (1 + pct/100)
}

// CalculatePNL рассчитывает P&L позиции
//
// long/buy:   (current - entry) * qty
// short/sell: (entry - current) * qty
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	if isShort(side) {
		return (entryPrice - currentPrice) * quantity
	}
	return (currentPrice - entryPrice) * quantity
}

func isShort(side string) bool {
	return side == "sell" || side == "short"
}

// RoundTo округляет до places знаков после запятой
func RoundTo(value float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(value*p) / p
}

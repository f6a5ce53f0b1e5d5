package engine

import (
	"sort"

	"signalexec/internal/models"

	"github.com/shopspring/decimal"
)

// dayBucket - итоги link за календарный день
type dayBucket struct {
	pnl        decimal.Decimal
	trades     int64
	wins       int64
	losses     int64
	breakEvens int64
}

func (b *dayBucket) add(pnl float64, outcome string) {
	b.pnl = b.pnl.Add(decimal.NewFromFloat(pnl))
	b.trades++
	switch outcome {
	case models.OutcomeWin:
		b.wins++
	case models.OutcomeLoss:
		b.losses++
	default:
		b.breakEvens++
	}
}

// addMoney складывает денежные суммы без накопления ошибки float
func addMoney(a, b float64) float64 {
	return decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).InexactFloat64()
}

// MergePnLHistory объединяет истории нескольких link по дате.
//
// Дневной PNL и число сделок суммируются, накопленный PNL пересчитывается
// нарастающим итогом по объединённому ряду (накопленные значения link
// не складываются - это дало бы двойной счёт).
func MergePnLHistory(series ...[]models.PnLPoint) []models.PnLPoint {
	type agg struct {
		pnl    decimal.Decimal
		trades int
	}
	byDate := make(map[string]*agg)
	for _, s := range series {
		for _, p := range s {
			a, ok := byDate[p.Date]
			if !ok {
				a = &agg{}
				byDate[p.Date] = a
			}
			a.pnl = a.pnl.Add(decimal.NewFromFloat(p.DailyPnL))
			a.trades += p.Trades
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	// YYYY-MM-DD сортируется лексикографически
	sort.Strings(dates)

	out := make([]models.PnLPoint, 0, len(dates))
	cumulative := decimal.Zero
	for _, d := range dates {
		a := byDate[d]
		cumulative = cumulative.Add(a.pnl)
		out = append(out, models.PnLPoint{
			Date:          d,
			DailyPnL:      a.pnl.InexactFloat64(),
			CumulativePnL: cumulative.InexactFloat64(),
			Trades:        a.trades,
		})
	}
	return out
}

// historyFromBuckets строит ряд одного link с нарастающим итогом
func historyFromBuckets(buckets map[string]*dayBucket) []models.PnLPoint {
	series := make([]models.PnLPoint, 0, len(buckets))
	for d, b := range buckets {
		series = append(series, models.PnLPoint{Date: d, DailyPnL: b.pnl.InexactFloat64(), Trades: int(b.trades)})
	}
	return MergePnLHistory(series)
}

// dateFilter - включающий диапазон дат YYYY-MM-DD, пустая граница = без ограничения
type dateFilter struct {
	from string
	to   string
}

func (f dateFilter) includes(date string) bool {
	if f.from != "" && date < f.from {
		return false
	}
	if f.to != "" && date > f.to {
		return false
	}
	return true
}

// filterHistory оставляет точки в диапазоне. Накопленный PNL сохраняется
// как есть - он отражает весь результат к этой дате.
func filterHistory(points []models.PnLPoint, f dateFilter) []models.PnLPoint {
	out := make([]models.PnLPoint, 0, len(points))
	for _, p := range points {
		if f.includes(p.Date) {
			out = append(out, p)
		}
	}
	return out
}

// summaryAccumulator суммирует итоги нескольких источников
type summaryAccumulator struct {
	trades, wins, losses, breakEvens int64
	pnl                              decimal.Decimal
}

func (a *summaryAccumulator) addBucket(b *dayBucket) {
	a.trades += b.trades
	a.wins += b.wins
	a.losses += b.losses
	a.breakEvens += b.breakEvens
	a.pnl = a.pnl.Add(b.pnl)
}

func (a *summaryAccumulator) addStats(s models.LinkStats) {
	a.trades += s.TotalTrades
	a.wins += s.Wins
	a.losses += s.Losses
	a.breakEvens += s.BreakEvens
	a.pnl = a.pnl.Add(decimal.NewFromFloat(s.RealizedPnL))
}

func (a *summaryAccumulator) summary(f dateFilter) models.PerformanceSummary {
	s := models.PerformanceSummary{
		From:        f.from,
		To:          f.to,
		TotalTrades: a.trades,
		Wins:        a.wins,
		Losses:      a.losses,
		BreakEvens:  a.breakEvens,
		RealizedPnL: a.pnl.InexactFloat64(),
	}
	if a.trades > 0 {
		rate := decimal.NewFromInt(a.wins).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(a.trades))
		s.WinRate = rate.Round(2).InexactFloat64()
	}
	return s
}

package utils

import (
	"fmt"
	"strings"
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Границы торговых суток в опорной таймзоне. Дневной лимит убытка
// и история P&L считаются по календарному дню этой таймзоны.
//
// Функции:
// - DayStartIn / NextDayStartIn: границы суток
// - DayKey: ключ дня "2006-01-02"
// - UntilNextDay: время до следующего сброса дневных счётчиков
// - PeriodRange / ParseDate: фильтры отчётов

// DateLayout формат ключа дня в истории P&L
const DateLayout = "2006-01-02"

// DayStartIn возвращает начало суток (00:00:00) для t в таймзоне loc
func DayStartIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// NextDayStartIn возвращает начало следующих суток
//
// AddDate вместо Add(24h): сутки при переходе на летнее время короче/длиннее.
func NextDayStartIn(t time.Time, loc *time.Location) time.Time {
	return DayStartIn(t, loc).AddDate(0, 0, 1)
}

// DayKey возвращает ключ календарного дня t в таймзоне loc
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// UntilNextDay возвращает длительность до следующей полуночи loc
func UntilNextDay(now time.Time, loc *time.Location) time.Duration {
	return NextDayStartIn(now, loc).Sub(now)
}

// ============================================================
// Диапазоны для отчётов
// ============================================================

// TimeRange полуинтервал [From, To)
//
// Нулевое значение границы означает отсутствие ограничения.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains проверяет попадание t в диапазон
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.From.IsZero() && t.Before(tr.From) {
		return false
	}
	if !tr.To.IsZero() && !t.Before(tr.To) {
		return false
	}
	return true
}

// PeriodType период для фильтра отчётов
type PeriodType string

const (
	PeriodDay   PeriodType = "day"
	PeriodWeek  PeriodType = "week"
	PeriodMonth PeriodType = "month"
	PeriodAll   PeriodType = "all"
)

// PeriodRange возвращает диапазон текущего периода в таймзоне loc
//
// Неделя начинается с понедельника. Для PeriodAll - пустой диапазон.
func PeriodRange(period PeriodType, now time.Time, loc *time.Location) (TimeRange, error) {
	day := DayStartIn(now, loc)
	switch PeriodType(strings.ToLower(string(period))) {
	case PeriodDay:
		return TimeRange{From: day, To: day.AddDate(0, 0, 1)}, nil
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return TimeRange{From: start, To: start.AddDate(0, 0, 7)}, nil
	case PeriodMonth:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return TimeRange{From: start, To: start.AddDate(0, 1, 0)}, nil
	case PeriodAll, "":
		return TimeRange{}, nil
	default:
		return TimeRange{}, fmt.Errorf("unknown period %q", period)
	}
}

// ParseDate разбирает дату "2006-01-02" либо RFC3339 в таймзоне loc
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation(DateLayout, value, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", value)
	}
	return t, nil
}

package engine

import (
	"fmt"
	"sync"
	"time"

	"signalexec/internal/exchange"
	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

// CloseEvent - закрытие позиции (из ответа адаптера или потока сверки)
type CloseEvent struct {
	LinkID      string    `json:"link_id"`
	Symbol      string    `json:"symbol"`
	RealizedPnL float64   `json:"realized_pnl"`
	ClosedAt    time.Time `json:"closed_at"`
}

// Tracker - учёт позиций и P&L.
//
// Ведёт счётчики link и подписки, дневную историю P&L по link
// (ключ - календарная дата в опорной таймзоне) и собирает отчёт.
type Tracker struct {
	subs     *subscriptionSet
	guard    *RiskGuard
	breakers *BreakerRegistry
	loc      *time.Location
	events   *EventBus
	log      *utils.Logger

	mu      sync.Mutex
	history map[string]map[string]*dayBucket // linkID → дата → итоги дня
}

// NewTracker создаёт трекер
func NewTracker(subs *subscriptionSet, guard *RiskGuard, breakers *BreakerRegistry, loc *time.Location, events *EventBus, log *utils.Logger) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{
		subs:     subs,
		guard:    guard,
		breakers: breakers,
		loc:      loc,
		events:   events,
		log:      log.WithComponent("tracker"),
		history:  make(map[string]map[string]*dayBucket),
	}
}

// RecordSignal учитывает полученный сигнал
func (t *Tracker) RecordSignal(subID string) {
	entry, ok := t.subs.get(subID)
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.sub.Stats.TotalSignals++
	entry.mu.Unlock()
}

// RecordOpen подтверждает открытие позиции по исполненному ордеру
func (t *Tracker) RecordOpen(link *models.ExchangeLink, reservation *Reservation, order *exchange.Order) {
	reservation.Commit()
	t.guard.withLink(link, func() {
		link.Stats.OrdersExecuted++
	})

	if entry, ok := t.subs.get(link.SubscriptionID); ok {
		entry.mu.Lock()
		entry.sub.Stats.OrdersExecuted++
		entry.mu.Unlock()
	}

	t.log.Debug("position opened",
		utils.LinkID(link.ID),
		utils.OrderID(order.ID),
		utils.Symbol(order.Symbol),
	)
}

// RecordClose учитывает закрытие позиции.
//
// Исход определяется знаком P&L (ровно 0 - безубыток). Убыток растит
// today_loss_usd link, прибыль его не уменьшает.
func (t *Tracker) RecordClose(ev CloseEvent) (*models.TradeRecord, *models.ExchangeLink, error) {
	entry, link, ok := t.subs.link(ev.LinkID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrLinkNotFound, ev.LinkID)
	}
	if ev.ClosedAt.IsZero() {
		ev.ClosedAt = time.Now()
	}
	outcome := models.ClassifyPnL(ev.RealizedPnL)

	// Позиции и дневной убыток (может защёлкнуть паузу link)
	t.guard.ConfirmClose(link, ev.RealizedPnL)

	t.guard.withLink(link, func() {
		applyOutcome(&link.Stats.TotalTrades, &link.Stats.Wins, &link.Stats.Losses, &link.Stats.BreakEvens, outcome)
		link.Stats.RealizedPnL = addMoney(link.Stats.RealizedPnL, ev.RealizedPnL)
	})

	entry.mu.Lock()
	s := &entry.sub.Stats
	applyOutcome(&s.TotalTrades, &s.Wins, &s.Losses, &s.BreakEvens, outcome)
	s.RealizedPnL = addMoney(s.RealizedPnL, ev.RealizedPnL)
	entry.mu.Unlock()

	t.addToHistory(link.ID, ev.ClosedAt, ev.RealizedPnL, outcome)

	TradesClosed.WithLabelValues(outcome).Inc()
	RealizedPnL.Add(ev.RealizedPnL)

	trade := &models.TradeRecord{
		LinkID:         link.ID,
		SubscriptionID: link.SubscriptionID,
		Symbol:         ev.Symbol,
		RealizedPnL:    ev.RealizedPnL,
		Outcome:        outcome,
		ClosedAt:       ev.ClosedAt,
	}

	closeEv := linkEvent(EventTradeClosed, link, "%s closed on %s: %s %.2f", ev.Symbol, link.Exchange, outcome, ev.RealizedPnL)
	closeEv.Fields["pnl"] = ev.RealizedPnL
	closeEv.Fields["outcome"] = outcome
	t.events.Publish(closeEv)

	return trade, link, nil
}

func applyOutcome(total, wins, losses, breakEvens *int64, outcome string) {
	*total++
	switch outcome {
	case models.OutcomeWin:
		*wins++
	case models.OutcomeLoss:
		*losses++
	default:
		*breakEvens++
	}
}

func (t *Tracker) addToHistory(linkID string, at time.Time, pnl float64, outcome string) {
	day := utils.DayKey(at, t.loc)
	t.mu.Lock()
	defer t.mu.Unlock()
	buckets, ok := t.history[linkID]
	if !ok {
		buckets = make(map[string]*dayBucket)
		t.history[linkID] = buckets
	}
	b, ok := buckets[day]
	if !ok {
		b = &dayBucket{}
		buckets[day] = b
	}
	b.add(pnl, outcome)
}

// LoadHistory восстанавливает дневную историю из сохранённых сделок.
// Счётчики link не трогает - они восстанавливаются из снапшота link.
func (t *Tracker) LoadHistory(trades []*models.TradeRecord) {
	for _, tr := range trades {
		t.addToHistory(tr.LinkID, tr.ClosedAt, tr.RealizedPnL, tr.Outcome)
	}
}

// LinkHistory возвращает историю P&L link с нарастающим итогом
func (t *Tracker) LinkHistory(linkID string) []models.PnLPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return historyFromBuckets(t.history[linkID])
}

// Reconcile устанавливает число открытых позиций link по данным биржи.
//
// Все позиции аккаунта относятся к link: один аккаунт - один link.
func (t *Tracker) Reconcile(linkID string, positions []*exchange.Position) error {
	_, link, ok := t.subs.link(linkID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, linkID)
	}
	open := 0
	for _, p := range positions {
		if p != nil && p.Size != 0 {
			open++
		}
	}
	if prev := t.guard.SetPositions(link, open); prev != open {
		t.log.Warn("position count corrected by reconciliation",
			utils.LinkID(linkID),
			utils.Int("tracked", prev),
			utils.Int("exchange", open),
		)
	}
	return nil
}

// ============================================================
// Отчёт
// ============================================================

// Report собирает read-model дашборда подписки.
//
// from/to - включающий диапазон дат (нулевое значение = без границы)
// для filtered_summary и pnl_history. Итоги подписки - суммы по link,
// история объединяется по дате через MergePnLHistory.
func (t *Tracker) Report(subID string, from, to time.Time) (*models.PerformanceReport, error) {
	entry, ok := t.subs.get(subID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subID)
	}

	entry.mu.Lock()
	status, reason := entry.sub.Status, entry.sub.StatusReason
	totalSignals := entry.sub.Stats.TotalSignals
	links := append([]*models.ExchangeLink(nil), entry.sub.Links...)
	entry.mu.Unlock()

	var filter dateFilter
	if !from.IsZero() {
		filter.from = utils.DayKey(from, t.loc)
	}
	if !to.IsZero() {
		filter.to = utils.DayKey(to, t.loc)
	}

	report := &models.PerformanceReport{
		SubscriptionID: subID,
		CurrentState:   models.CurrentState{Status: status, StatusReason: reason},
	}

	var (
		allTime  summaryAccumulator
		filtered summaryAccumulator
		series   [][]models.PnLPoint
		orders   int64
		loss     float64
	)

	for _, link := range links {
		state, stats := t.guard.Snapshot(link)
		var limits models.RiskLimits
		t.guard.withLink(link, func() { limits = link.Limits })
		allTime.addStats(stats)
		orders += stats.OrdersExecuted
		loss = addMoney(loss, state.TodayLossUSD)

		var linkFiltered summaryAccumulator
		t.mu.Lock()
		for day, b := range t.history[link.ID] {
			if filter.includes(day) {
				linkFiltered.addBucket(b)
				filtered.addBucket(b)
			}
		}
		history := historyFromBuckets(t.history[link.ID])
		t.mu.Unlock()
		series = append(series, history)

		report.PerExchange = append(report.PerExchange, models.ExchangePerformance{
			LinkID:     link.ID,
			Exchange:   link.Exchange,
			Summary:    linkFiltered.summary(filter),
			PnLHistory: filterHistory(history, filter),
		})

		report.CurrentState.OpenPositions += state.CurrentPositions
		report.CurrentState.Links = append(report.CurrentState.Links, models.LinkSnapshot{
			LinkID:            link.ID,
			Exchange:          link.Exchange,
			ExchangeAccountID: link.ExchangeAccountID,
			Status:            state.Status,
			StatusReason:      state.StatusReason,
			CurrentPositions:  state.CurrentPositions,
			MaxPositions:      limits.MaxPositions,
			TodayLossUSD:      state.TodayLossUSD,
			MaxDailyLossUSD:   limits.MaxDailyLossUSD,
			CircuitState:      string(t.breakers.State(link.ExchangeAccountID)),
		})
	}

	report.CurrentState.TodayLossUSD = loss
	report.FilteredSummary = filtered.summary(filter)
	report.AllTimeSummary = allTime.summary(dateFilter{})
	report.AllTimeSummary.TotalSignals = totalSignals
	report.AllTimeSummary.OrdersExecuted = orders
	report.PnLHistory = filterHistory(MergePnLHistory(series...), filter)
	return report, nil
}

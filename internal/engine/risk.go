package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

// ErrLinkPaused - link не активен, сигналы не авторизуются
var ErrLinkPaused = errors.New("link paused")

// DenialReason - причина отказа риск-менеджера
type DenialReason string

const (
	PositionCapExceeded  DenialReason = "position_cap_exceeded"
	DailyLossCapExceeded DenialReason = "daily_loss_cap_exceeded"
)

// DenialError - ожидаемый бизнес-отказ (не ретраится)
type DenialError struct {
	LinkID  string
	Reason  DenialReason
	Current float64
	Limit   float64
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("link %s denied: %s (%.2f of %.2f)", e.LinkID, e.Reason, e.Current, e.Limit)
}

// IsDenial проверяет что ошибка - отказ риск-менеджера
func IsDenial(err error) bool {
	var d *DenialError
	return errors.As(err, &d)
}

// linkGuard - мьютекс и резервы одного link.
//
// Все изменения link.State и link.Stats выполняются под mu.
type linkGuard struct {
	mu      sync.Mutex
	pending int // авторизованные, но ещё не подтверждённые позиции
}

// RiskGuard - проверка лимитов позиций и дневного убытка на уровне link.
//
// Чтение счётчиков и решение атомарны per-link: параллельные сигналы
// для одного link сериализуются, для разных link - независимы.
//
// Авторизация резервирует ёмкость (pending): лимит позиций учитывает
// current_positions + pending, поэтому N параллельных сигналов не открывают
// больше max_positions позиций. Резерв превращается в позицию через
// Reservation.Commit и возвращается через Reservation.Release.
type RiskGuard struct {
	links sync.Map // linkID → *linkGuard

	events *EventBus
	now    func() time.Time

	// onPause вызывается после защёлкивания паузы по лимиту убытка
	// (вне мьютекса link - обработчик может брать мьютекс подписки)
	onPause func(link *models.ExchangeLink)
}

// NewRiskGuard создаёт риск-менеджер
func NewRiskGuard(events *EventBus) *RiskGuard {
	return &RiskGuard{events: events, now: time.Now}
}

// SetPauseHandler задаёт обработчик автоматической паузы link
func (g *RiskGuard) SetPauseHandler(fn func(link *models.ExchangeLink)) {
	g.onPause = fn
}

func (g *RiskGuard) entry(linkID string) *linkGuard {
	if v, ok := g.links.Load(linkID); ok {
		return v.(*linkGuard)
	}
	v, _ := g.links.LoadOrStore(linkID, &linkGuard{})
	return v.(*linkGuard)
}

// Forget удаляет состояние link (после отписки)
func (g *RiskGuard) Forget(linkID string) {
	g.links.Delete(linkID)
}

// Reservation - зарезервированная авторизацией позиция.
//
// Ровно один из Commit/Release имеет эффект, повторные вызовы игнорируются.
type Reservation struct {
	guard *RiskGuard
	link  *models.ExchangeLink
	once  sync.Once
}

// Commit превращает резерв в открытую позицию (ордер исполнен)
func (r *Reservation) Commit() {
	r.once.Do(func() {
		lg := r.guard.entry(r.link.ID)
		lg.mu.Lock()
		lg.pending--
		r.link.State.CurrentPositions++
		lg.mu.Unlock()
		OpenPositions.WithLabelValues(r.link.Exchange).Inc()
	})
}

// Release возвращает резерв (ордер не исполнен)
func (r *Reservation) Release() {
	r.once.Do(func() {
		lg := r.guard.entry(r.link.ID)
		lg.mu.Lock()
		lg.pending--
		lg.mu.Unlock()
	})
}

// Authorize проверяет лимиты link и резервирует ёмкость под одну позицию.
//
// Возвращает ErrLinkPaused для неактивного link, *DenialError при превышении
// лимита. Отказ по дневному убытку переводит link в паузу (защёлка):
// дальнейшие сигналы не авторизуются до ручного возобновления.
//
// Лимит <= 0 означает отсутствие ограничения.
func (g *RiskGuard) Authorize(link *models.ExchangeLink, intent *models.OrderIntent) (*Reservation, error) {
	lg := g.entry(link.ID)
	lg.mu.Lock()

	if link.State.Status != models.LinkActive {
		lg.mu.Unlock()
		return nil, ErrLinkPaused
	}

	if limit := link.Limits.MaxDailyLossUSD; limit > 0 && link.State.TodayLossUSD >= limit {
		denial := &DenialError{
			LinkID:  link.ID,
			Reason:  DailyLossCapExceeded,
			Current: link.State.TodayLossUSD,
			Limit:   limit,
		}
		latched := g.latchLossPauseLocked(link)
		lg.mu.Unlock()
		if latched {
			g.afterLossPause(link)
		}
		RiskDenials.WithLabelValues(string(DailyLossCapExceeded)).Inc()
		return nil, denial
	}

	if limit := link.Limits.MaxPositions; limit > 0 && link.State.CurrentPositions+lg.pending >= limit {
		denial := &DenialError{
			LinkID:  link.ID,
			Reason:  PositionCapExceeded,
			Current: float64(link.State.CurrentPositions + lg.pending),
			Limit:   float64(limit),
		}
		lg.mu.Unlock()
		RiskDenials.WithLabelValues(string(PositionCapExceeded)).Inc()
		return nil, denial
	}

	lg.pending++
	lg.mu.Unlock()
	return &Reservation{guard: g, link: link}, nil
}

// latchLossPauseLocked ставит link на паузу по лимиту убытка.
// Возвращает true, если статус изменился. Вызывается под lg.mu.
func (g *RiskGuard) latchLossPauseLocked(link *models.ExchangeLink) bool {
	if link.State.Status == models.LinkPaused {
		return false
	}
	now := g.now()
	link.State.Status = models.LinkPaused
	link.State.StatusReason = models.ReasonDailyLossCap
	link.State.PausedAt = &now
	PausedLinks.Inc()
	return true
}

func (g *RiskGuard) afterLossPause(link *models.ExchangeLink) {
	ev := linkEvent(EventLinkPaused, link, "link %s paused: daily loss cap reached", link.ID)
	ev.Fields["reason"] = models.ReasonDailyLossCap
	ev.Fields["max_daily_loss_usd"] = link.Limits.MaxDailyLossUSD
	g.events.Publish(ev)
	if g.onPause != nil {
		g.onPause(link)
	}
}

// ConfirmOpen учитывает открытую позицию без предварительного резерва
// (позиция открыта вне движка и пришла из потока исполнений)
func (g *RiskGuard) ConfirmOpen(link *models.ExchangeLink) {
	lg := g.entry(link.ID)
	lg.mu.Lock()
	link.State.CurrentPositions++
	lg.mu.Unlock()
	OpenPositions.WithLabelValues(link.Exchange).Inc()
}

// ConfirmClose учитывает закрытие позиции.
//
// Убыток добавляется к today_loss_usd, прибыль его не уменьшает.
// Достижение лимита убытка сразу ставит link на паузу.
func (g *RiskGuard) ConfirmClose(link *models.ExchangeLink, pnl float64) {
	lg := g.entry(link.ID)
	lg.mu.Lock()
	if link.State.CurrentPositions > 0 {
		link.State.CurrentPositions--
		OpenPositions.WithLabelValues(link.Exchange).Dec()
	}
	if pnl < 0 {
		link.State.TodayLossUSD += -pnl
	}
	latched := false
	if limit := link.Limits.MaxDailyLossUSD; limit > 0 && link.State.TodayLossUSD >= limit {
		latched = g.latchLossPauseLocked(link)
	}
	lg.mu.Unlock()

	if latched {
		g.afterLossPause(link)
	}
}

// SetPositions устанавливает число позиций по данным биржи (сверка)
func (g *RiskGuard) SetPositions(link *models.ExchangeLink, n int) (previous int) {
	if n < 0 {
		n = 0
	}
	lg := g.entry(link.ID)
	lg.mu.Lock()
	previous = link.State.CurrentPositions
	link.State.CurrentPositions = n
	lg.mu.Unlock()
	OpenPositions.WithLabelValues(link.Exchange).Add(float64(n - previous))
	return previous
}

// SetStatus меняет статус link (ручная пауза/возобновление).
//
// today_loss_usd при возобновлении не сбрасывается. Возвращает false,
// если link уже в этом статусе.
func (g *RiskGuard) SetStatus(link *models.ExchangeLink, status, reason string) bool {
	lg := g.entry(link.ID)
	lg.mu.Lock()
	defer lg.mu.Unlock()

	if link.State.Status == status {
		return false
	}
	link.State.Status = status
	link.State.StatusReason = reason
	if status == models.LinkPaused {
		now := g.now()
		link.State.PausedAt = &now
		PausedLinks.Inc()
	} else {
		link.State.PausedAt = nil
		PausedLinks.Dec()
	}
	return true
}

// Snapshot возвращает согласованную копию состояния и статистики link
func (g *RiskGuard) Snapshot(link *models.ExchangeLink) (models.LinkState, models.LinkStats) {
	lg := g.entry(link.ID)
	lg.mu.Lock()
	defer lg.mu.Unlock()
	state := link.State
	if state.PausedAt != nil {
		t := *state.PausedAt
		state.PausedAt = &t
	}
	return state, link.Stats
}

// Pending возвращает число неподтверждённых резервов link
func (g *RiskGuard) Pending(linkID string) int {
	lg := g.entry(linkID)
	lg.mu.Lock()
	defer lg.mu.Unlock()
	return lg.pending
}

// withLink выполняет fn под мьютексом link
func (g *RiskGuard) withLink(link *models.ExchangeLink, fn func()) {
	lg := g.entry(link.ID)
	lg.mu.Lock()
	defer lg.mu.Unlock()
	fn()
}

// ============================================================
// Дневной сброс
// ============================================================

// ResetDaily обнуляет today_loss_usd у переданных link.
//
// Статус не меняется: link, поставленный на паузу по лимиту убытка,
// остаётся на паузе до ручного возобновления.
func (g *RiskGuard) ResetDaily(links []*models.ExchangeLink) {
	for _, link := range links {
		g.withLink(link, func() {
			link.State.TodayLossUSD = 0
		})
	}
}

// RunDailyReset вызывает reset в полночь опорной таймзоны до отмены ctx.
//
// Сброс - внешняя плановая обязанность, в горячем пути не вызывается.
func RunDailyReset(ctx context.Context, loc *time.Location, reset func()) {
	log := utils.L().WithComponent("daily-reset")
	for {
		wait := utils.UntilNextDay(time.Now(), loc)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			reset()
			log.Info("daily loss counters reset", utils.String("timezone", loc.String()))
		}
	}
}

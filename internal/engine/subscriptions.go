package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"signalexec/internal/models"
	"signalexec/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrLinkNotFound         = errors.New("exchange link not found")
	ErrTooManyLinks         = fmt.Errorf("subscription supports 1 to %d exchange links", models.MaxLinksPerSubscription)
	ErrDuplicateAccount     = errors.New("exchange account linked twice")
)

// subEntry - подписка и её мьютекс (статус, статистика, список link)
type subEntry struct {
	mu  sync.Mutex
	sub *models.BotSubscription
}

// subscriptionSet - индекс подписок по ID и по ID link.
// Лок только на поиск в map, под ним нет I/O.
type subscriptionSet struct {
	mu     sync.RWMutex
	byID   map[string]*subEntry
	byLink map[string]*subEntry
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{
		byID:   make(map[string]*subEntry),
		byLink: make(map[string]*subEntry),
	}
}

func (s *subscriptionSet) put(sub *models.BotSubscription) *subEntry {
	entry := &subEntry{sub: sub}
	s.mu.Lock()
	s.byID[sub.ID] = entry
	for _, l := range sub.Links {
		s.byLink[l.ID] = entry
	}
	s.mu.Unlock()
	return entry
}

func (s *subscriptionSet) get(id string) (*subEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// link находит link и его подписку. Список link подписки не меняется
// после создания, поэтому чтение без мьютекса подписки безопасно.
func (s *subscriptionSet) link(linkID string) (*subEntry, *models.ExchangeLink, bool) {
	s.mu.RLock()
	entry, ok := s.byLink[linkID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	l := entry.sub.Link(linkID)
	return entry, l, l != nil
}

func (s *subscriptionSet) all() []*subEntry {
	s.mu.RLock()
	out := make([]*subEntry, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e)
	}
	s.mu.RUnlock()
	return out
}

// ============================================================
// Снапшоты
// ============================================================

// copyLink возвращает независимую копию link под мьютексом link
func (e *Engine) copyLink(l *models.ExchangeLink) *models.ExchangeLink {
	var cp models.ExchangeLink
	e.guard.withLink(l, func() {
		cp = *l
		if l.SymbolOverrides != nil {
			cp.SymbolOverrides = make(map[string]models.ConfigOverride, len(l.SymbolOverrides))
			for k, v := range l.SymbolOverrides {
				cp.SymbolOverrides[k] = v
			}
		}
		if l.State.PausedAt != nil {
			t := *l.State.PausedAt
			cp.State.PausedAt = &t
		}
	})
	return &cp
}

// snapshotLocked - копия подписки. Вызывается под entry.mu.
func (e *Engine) snapshotLocked(entry *subEntry) *models.BotSubscription {
	cp := *entry.sub
	cp.Links = make([]*models.ExchangeLink, len(entry.sub.Links))
	for i, l := range entry.sub.Links {
		cp.Links[i] = e.copyLink(l)
	}
	return &cp
}

// ============================================================
// Жизненный цикл подписки
// ============================================================

// LinkRequest - параметры подключения биржевого аккаунта
type LinkRequest struct {
	ExchangeAccountID string                           `json:"exchange_account_id"`
	Exchange          string                           `json:"exchange"`
	Limits            models.RiskLimits                `json:"limits"`
	Override          models.ConfigOverride            `json:"override"`
	SymbolOverrides   map[string]models.ConfigOverride `json:"symbol_overrides,omitempty"`
}

// SubscribeRequest - запрос на активацию бота
type SubscribeRequest struct {
	BotID    string        `json:"bot_id"`
	ClientID string        `json:"client_id"`
	Links    []LinkRequest `json:"links"`
}

// Subscribe создаёт подписку в статусе active.
//
// MaxPositions = 0 в лимитах link берётся из настроек бота.
func (e *Engine) Subscribe(ctx context.Context, req SubscribeRequest) (*models.BotSubscription, error) {
	bot, ok := e.catalog.Bot(req.BotID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, req.BotID)
	}
	if len(req.Links) == 0 || len(req.Links) > models.MaxLinksPerSubscription {
		return nil, ErrTooManyLinks
	}

	now := time.Now()
	sub := &models.BotSubscription{
		ID:        uuid.NewString(),
		BotID:     bot.ID,
		ClientID:  req.ClientID,
		Status:    models.SubscriptionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	seen := make(map[string]bool, len(req.Links))
	for _, lr := range req.Links {
		if seen[lr.ExchangeAccountID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAccount, lr.ExchangeAccountID)
		}
		seen[lr.ExchangeAccountID] = true

		limits := lr.Limits
		if limits.MaxPositions == 0 {
			limits.MaxPositions = bot.MaxPositions
		}
		sub.Links = append(sub.Links, &models.ExchangeLink{
			ID:                uuid.NewString(),
			SubscriptionID:    sub.ID,
			BotID:             bot.ID,
			ExchangeAccountID: lr.ExchangeAccountID,
			Exchange:          utils.NormalizeExchange(lr.Exchange),
			Limits:            limits,
			Override:          lr.Override,
			SymbolOverrides:   normalizeOverrides(lr.SymbolOverrides),
			State:             models.LinkState{Status: models.LinkActive},
		})
	}

	entry := e.subs.put(sub)
	e.persistSubscription(ctx, entry)

	e.log.Info("subscription created",
		utils.SubscriptionID(sub.ID),
		utils.BotID(bot.ID),
		utils.Int("links", len(sub.Links)),
	)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return e.snapshotLocked(entry), nil
}

func normalizeOverrides(in map[string]models.ConfigOverride) map[string]models.ConfigOverride {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]models.ConfigOverride, len(in))
	for symbol, o := range in {
		if !o.IsEmpty() {
			out[utils.NormalizeSymbol(symbol)] = o
		}
	}
	return out
}

// Subscription возвращает снапшот подписки
func (e *Engine) Subscription(id string) (*models.BotSubscription, error) {
	entry, ok := e.subs.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return e.snapshotLocked(entry), nil
}

// Subscriptions возвращает подписки клиента (все, если clientID пуст)
func (e *Engine) Subscriptions(clientID string) []*models.BotSubscription {
	var out []*models.BotSubscription
	for _, entry := range e.subs.all() {
		entry.mu.Lock()
		if clientID == "" || entry.sub.ClientID == clientID {
			out = append(out, e.snapshotLocked(entry))
		}
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Pause ставит подписку на паузу вручную. Статусы link не меняются.
func (e *Engine) Pause(ctx context.Context, subID string) (*models.BotSubscription, error) {
	return e.mutate(ctx, subID, func(entry *subEntry) error {
		return e.setSubscriptionStatusLocked(entry, models.SubscriptionPaused, models.ReasonManual)
	})
}

// Resume возобновляет подписку и все её link на паузе.
// Дневной убыток не сбрасывается.
func (e *Engine) Resume(ctx context.Context, subID string) (*models.BotSubscription, error) {
	return e.mutate(ctx, subID, func(entry *subEntry) error {
		// Активная подписка с link на паузе: возобновляются только link
		if entry.sub.Status != models.SubscriptionActive {
			if err := e.setSubscriptionStatusLocked(entry, models.SubscriptionActive, models.ReasonResumed); err != nil {
				return err
			}
			for _, l := range entry.sub.Links {
				e.resumeLinkLocked(l)
			}
			return nil
		}
		resumed := 0
		for _, l := range entry.sub.Links {
			if e.resumeLinkLocked(l) {
				resumed++
			}
		}
		if resumed == 0 {
			return transitionError("subscription", models.SubscriptionActive, models.SubscriptionActive)
		}
		return nil
	})
}

// Unsubscribe необратимо отменяет подписку
func (e *Engine) Unsubscribe(ctx context.Context, subID string) (*models.BotSubscription, error) {
	return e.mutate(ctx, subID, func(entry *subEntry) error {
		return e.setSubscriptionStatusLocked(entry, models.SubscriptionUnsubscribed, models.ReasonManual)
	})
}

// PauseLink ставит link на паузу вручную. Если на паузе оказались все
// link, подписка переходит в paused (all_links_paused).
func (e *Engine) PauseLink(ctx context.Context, subID, linkID string) (*models.BotSubscription, error) {
	return e.mutate(ctx, subID, func(entry *subEntry) error {
		link, err := e.editableLinkLocked(entry, linkID)
		if err != nil {
			return err
		}
		if !e.guard.SetStatus(link, models.LinkPaused, models.ReasonManual) {
			return transitionError("link", models.LinkPaused, models.LinkPaused)
		}
		ev := linkEvent(EventLinkPaused, link, "link %s paused manually", link.ID)
		ev.Fields["reason"] = models.ReasonManual
		e.events.Publish(ev)
		e.autoPauseLocked(entry)
		return nil
	})
}

// ResumeLink возобновляет link. Подписка, поставленная на паузу
// автоматически (все link на паузе), снова становится active.
func (e *Engine) ResumeLink(ctx context.Context, subID, linkID string) (*models.BotSubscription, error) {
	return e.mutate(ctx, subID, func(entry *subEntry) error {
		if entry.sub.Status == models.SubscriptionUnsubscribed {
			return transitionError("subscription", entry.sub.Status, models.SubscriptionActive)
		}
		link, err := e.linkOfLocked(entry, linkID)
		if err != nil {
			return err
		}
		if !e.resumeLinkLocked(link) {
			return transitionError("link", models.LinkActive, models.LinkActive)
		}
		if entry.sub.Status == models.SubscriptionPaused && entry.sub.StatusReason == models.ReasonAllLinks {
			return e.setSubscriptionStatusLocked(entry, models.SubscriptionActive, models.ReasonResumed)
		}
		return nil
	})
}

// UpdateSymbolOverride задаёт настройки подписчика для (link, symbol).
// Пустой override удаляет настройки символа.
func (e *Engine) UpdateSymbolOverride(ctx context.Context, subID, linkID, symbol string, o models.ConfigOverride) (*models.BotSubscription, error) {
	symbol = utils.NormalizeSymbol(symbol)
	if err := utils.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	return e.mutate(ctx, subID, func(entry *subEntry) error {
		link, err := e.editableLinkLocked(entry, linkID)
		if err != nil {
			return err
		}
		e.guard.withLink(link, func() {
			next := make(map[string]models.ConfigOverride, len(link.SymbolOverrides)+1)
			for k, v := range link.SymbolOverrides {
				next[k] = v
			}
			if o.IsEmpty() {
				delete(next, symbol)
			} else {
				next[symbol] = o
			}
			link.SymbolOverrides = next
		})
		return nil
	})
}

// UpdateLinkOverride задаёт настройки подписчика для всего link
func (e *Engine) UpdateLinkOverride(ctx context.Context, subID, linkID string, o models.ConfigOverride) (*models.BotSubscription, error) {
	return e.mutate(ctx, subID, func(entry *subEntry) error {
		link, err := e.editableLinkLocked(entry, linkID)
		if err != nil {
			return err
		}
		e.guard.withLink(link, func() { link.Override = o })
		return nil
	})
}

// UpdateLimits меняет лимиты риска link.
// MaxPositions = 0 берётся из настроек бота, как при подписке.
func (e *Engine) UpdateLimits(ctx context.Context, subID, linkID string, limits models.RiskLimits) (*models.BotSubscription, error) {
	return e.mutate(ctx, subID, func(entry *subEntry) error {
		link, err := e.editableLinkLocked(entry, linkID)
		if err != nil {
			return err
		}
		if limits.MaxPositions == 0 {
			bot, ok := e.catalog.Bot(entry.sub.BotID)
			if !ok {
				return fmt.Errorf("%w: %s", ErrBotNotFound, entry.sub.BotID)
			}
			limits.MaxPositions = bot.MaxPositions
		}
		e.guard.withLink(link, func() { link.Limits = limits })
		return nil
	})
}

// EffectiveConfig возвращает итоговую конфигурацию link для символа
func (e *Engine) EffectiveConfig(subID, linkID, symbol string) (models.EffectiveConfig, error) {
	entry, ok := e.subs.get(subID)
	if !ok {
		return models.EffectiveConfig{}, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subID)
	}
	link := entry.sub.Link(linkID)
	if link == nil {
		return models.EffectiveConfig{}, fmt.Errorf("%w: %s", ErrLinkNotFound, linkID)
	}
	symbol = utils.NormalizeSymbol(symbol)

	var (
		cfg models.EffectiveConfig
		err error
	)
	e.guard.withLink(link, func() {
		if err = e.resolver.CheckSymbol(link, symbol); err == nil {
			cfg, err = e.resolver.Resolve(link, symbol)
		}
	})
	return cfg, err
}

// ============================================================
// Внутренние переходы (под entry.mu)
// ============================================================

// mutate выполняет изменение под мьютексом подписки и сохраняет снапшот
func (e *Engine) mutate(ctx context.Context, subID string, fn func(entry *subEntry) error) (*models.BotSubscription, error) {
	entry, ok := e.subs.get(subID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subID)
	}

	entry.mu.Lock()
	if err := fn(entry); err != nil {
		entry.mu.Unlock()
		return nil, err
	}
	entry.sub.UpdatedAt = time.Now()
	snap := e.snapshotLocked(entry)
	entry.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveSubscription(ctx, snap); err != nil {
			e.log.Error("failed to save subscription", utils.SubscriptionID(subID), utils.Err(err))
		}
	}
	return snap, nil
}

// editableLinkLocked возвращает link подписки, которую ещё можно менять
func (e *Engine) editableLinkLocked(entry *subEntry, linkID string) (*models.ExchangeLink, error) {
	if entry.sub.Status == models.SubscriptionUnsubscribed {
		return nil, fmt.Errorf("%w: subscription %s is unsubscribed", ErrInvalidTransition, entry.sub.ID)
	}
	return e.linkOfLocked(entry, linkID)
}

func (e *Engine) linkOfLocked(entry *subEntry, linkID string) (*models.ExchangeLink, error) {
	link := entry.sub.Link(linkID)
	if link == nil {
		return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, linkID)
	}
	return link, nil
}

func (e *Engine) setSubscriptionStatusLocked(entry *subEntry, to, reason string) error {
	from := entry.sub.Status
	if !CanTransitionSubscription(from, to) {
		return transitionError("subscription", from, to)
	}
	entry.sub.Status = to
	entry.sub.StatusReason = reason

	e.events.Publish(Event{
		Type:           EventSubscriptionStatus,
		SubscriptionID: entry.sub.ID,
		Message:        fmt.Sprintf("subscription %s: %s → %s (%s)", entry.sub.ID, from, to, reason),
		Fields:         map[string]interface{}{"status": to, "reason": reason},
	})
	return nil
}

// resumeLinkLocked возобновляет link на паузе. today_loss_usd сохраняется.
func (e *Engine) resumeLinkLocked(link *models.ExchangeLink) bool {
	if !e.guard.SetStatus(link, models.LinkActive, models.ReasonResumed) {
		return false
	}
	state, _ := e.guard.Snapshot(link)
	ev := linkEvent(EventLinkResumed, link, "link %s resumed", link.ID)
	ev.Fields["today_loss_usd"] = state.TodayLossUSD
	e.events.Publish(ev)
	return true
}

// autoPauseLocked ставит активную подписку на паузу, если все link на паузе
func (e *Engine) autoPauseLocked(entry *subEntry) bool {
	if entry.sub.Status != models.SubscriptionActive {
		return false
	}
	for _, l := range entry.sub.Links {
		if state, _ := e.guard.Snapshot(l); state.Status != models.LinkPaused {
			return false
		}
	}
	return e.setSubscriptionStatusLocked(entry, models.SubscriptionPaused, models.ReasonAllLinks) == nil
}

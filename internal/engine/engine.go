package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalexec/internal/models"
	"signalexec/pkg/ratelimit"
	"signalexec/pkg/utils"
)

// ErrInvalidSignal - сигнал не прошёл проверку формата
var ErrInvalidSignal = errors.New("invalid signal")

// Store - постоянное хранилище подписок и сделок.
//
// Движок держит рабочее состояние в памяти и пишет снапшоты синхронно
// после каждого изменения. Реализации: internal/store/memory, internal/repository.
type Store interface {
	LoadSubscriptions(ctx context.Context) ([]*models.BotSubscription, error)
	SaveSubscription(ctx context.Context, sub *models.BotSubscription) error
	SaveLinkState(ctx context.Context, link *models.ExchangeLink) error
	SaveTrade(ctx context.Context, trade *models.TradeRecord) error
	LoadTrades(ctx context.Context) ([]*models.TradeRecord, error)
}

// Config - параметры движка
type Config struct {
	Breaker            BreakerConfig
	Gateway            GatewayConfig
	RateLimit          ratelimit.Limits
	ExchangeRateLimits map[string]ratelimit.Limits
	Location           *time.Location // опорная таймзона дневных счётчиков и истории
	ReconcileInterval  time.Duration  // 0 = сверка позиций отключена
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Breaker:            DefaultBreakerConfig(),
		Gateway:            DefaultGatewayConfig(),
		RateLimit:          ratelimit.Limits{Rate: 10, Burst: 20},
		ExchangeRateLimits: ratelimit.DefaultExchangeLimits(),
		Location:           time.UTC,
		ReconcileInterval:  time.Minute,
	}
}

// Engine - движок исполнения сигналов.
//
// Поток данных:
// сигнал → Resolver (на каждый link) → RiskGuard → Router → GuardedAdapter
// (параллельно) → Tracker → DispatchResult
type Engine struct {
	cfg     Config
	catalog BotCatalog
	store   Store
	log     *utils.Logger
	events  *EventBus

	subs     *subscriptionSet
	resolver *Resolver
	guard    *RiskGuard
	breakers *BreakerRegistry
	gateway  *Gateway
	tracker  *Tracker
	router   *Router
	adapters AdapterSource

	runOnce sync.Once
}

// New собирает движок. store может быть nil (без сохранения).
func New(cfg Config, catalog BotCatalog, adapters AdapterSource, store Store, log *utils.Logger, sinks ...EventSink) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = utils.L()
	}

	events := NewEventBus(sinks...)
	e := &Engine{
		cfg:      cfg,
		catalog:  catalog,
		store:    store,
		log:      log.WithComponent("engine"),
		events:   events,
		subs:     newSubscriptionSet(),
		adapters: adapters,
	}

	e.breakers = NewBreakerRegistry(cfg.Breaker, e.onBreakerTransition)
	limiter := ratelimit.NewKeyedLimiter(cfg.RateLimit, cfg.ExchangeRateLimits)
	e.gateway = NewGateway(cfg.Gateway, e.breakers, limiter, events)
	e.resolver = NewResolver(catalog)
	e.guard = NewRiskGuard(events)
	e.guard.SetPauseHandler(e.onLinkAutoPaused)
	e.tracker = NewTracker(e.subs, e.guard, e.breakers, cfg.Location, events, log)
	e.router = NewRouter(e.resolver, e.guard, e.gateway, adapters, e.tracker, events, log)
	return e
}

// Events возвращает шину событий (для подключения sink после создания)
func (e *Engine) Events() *EventBus { return e.events }

// Resolver возвращает резолвер конфигурации
func (e *Engine) Resolver() *Resolver { return e.resolver }

// Breakers возвращает реестр circuit breaker
func (e *Engine) Breakers() *BreakerRegistry { return e.breakers }

// Location возвращает опорную таймзону
func (e *Engine) Location() *time.Location { return e.cfg.Location }

// Load восстанавливает подписки и историю сделок из хранилища
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	subs, err := e.store.LoadSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}
	for _, s := range subs {
		e.subs.put(s)
		for _, l := range s.Links {
			if l.State.Status == models.LinkPaused {
				PausedLinks.Inc()
			}
			if l.State.CurrentPositions > 0 {
				OpenPositions.WithLabelValues(l.Exchange).Add(float64(l.State.CurrentPositions))
			}
		}
	}

	trades, err := e.store.LoadTrades(ctx)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	e.tracker.LoadHistory(trades)

	e.log.Info("engine state restored",
		utils.Int("subscriptions", len(subs)),
		utils.Int("trades", len(trades)),
	)
	return nil
}

// Run запускает фоновые задачи (дневной сброс, сверка позиций) до отмены ctx
func (e *Engine) Run(ctx context.Context) {
	e.runOnce.Do(func() {
		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			RunDailyReset(ctx, e.cfg.Location, func() { e.ResetDaily(context.Background()) })
		}()

		if e.cfg.ReconcileInterval > 0 {
			rec := NewReconciler(e, e.cfg.ReconcileInterval)
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec.Run(ctx)
			}()
		}

		wg.Wait()
	})
}

// ============================================================
// Сигналы
// ============================================================

// Dispatch обрабатывает сигнал для подписки.
//
// Ошибка возвращается только для неизвестной подписки или некорректного
// сигнала; ошибки отдельных link - в DispatchResult.
func (e *Engine) Dispatch(ctx context.Context, signal *models.Signal) (*DispatchResult, error) {
	if err := validateSignal(signal); err != nil {
		return nil, err
	}
	entry, ok := e.subs.get(signal.SubscriptionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, signal.SubscriptionID)
	}
	if signal.ReceivedAt.IsZero() {
		signal.ReceivedAt = time.Now()
	}

	e.tracker.RecordSignal(signal.SubscriptionID)

	entry.mu.Lock()
	target := &models.BotSubscription{
		ID:       entry.sub.ID,
		BotID:    entry.sub.BotID,
		ClientID: entry.sub.ClientID,
		Status:   entry.sub.Status,
		Links:    append([]*models.ExchangeLink(nil), entry.sub.Links...),
	}
	entry.mu.Unlock()

	result := e.router.Dispatch(ctx, target, signal)

	// Сохраняем link, у которых изменилось состояние
	for _, link := range target.Links {
		o := result.Outcomes[link.ID]
		if o == nil || (o.Status != OutcomeFilled && o.Status != OutcomeDenied) {
			continue
		}
		e.persistLink(context.WithoutCancel(ctx), link)
	}
	return result, nil
}

func validateSignal(s *models.Signal) error {
	if s == nil {
		return fmt.Errorf("%w: empty", ErrInvalidSignal)
	}
	if s.SubscriptionID == "" {
		return fmt.Errorf("%w: subscription_id is required", ErrInvalidSignal)
	}
	s.Symbol = utils.NormalizeSymbol(s.Symbol)
	if err := utils.ValidateSymbol(s.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	if s.Side != models.SideBuy && s.Side != models.SideSell {
		return fmt.Errorf("%w: side must be buy or sell, got %q", ErrInvalidSignal, s.Side)
	}
	if s.PriceHint < 0 {
		return fmt.Errorf("%w: negative price hint", ErrInvalidSignal)
	}
	return nil
}

// RecordClose учитывает закрытие позиции и сохраняет сделку
func (e *Engine) RecordClose(ctx context.Context, ev CloseEvent) (*models.TradeRecord, error) {
	trade, link, err := e.tracker.RecordClose(ev)
	if err != nil {
		return nil, err
	}
	if e.store != nil {
		if err := e.store.SaveTrade(ctx, trade); err != nil {
			e.log.Error("failed to save trade", utils.LinkID(trade.LinkID), utils.Err(err))
		}
	}
	e.persistLink(ctx, link)
	return trade, nil
}

// Report возвращает read-model дашборда подписки
func (e *Engine) Report(subID string, from, to time.Time) (*models.PerformanceReport, error) {
	return e.tracker.Report(subID, from, to)
}

// ResetDaily обнуляет дневные убытки всех link (вызывается в полночь)
func (e *Engine) ResetDaily(ctx context.Context) {
	var links []*models.ExchangeLink
	for _, entry := range e.subs.all() {
		entry.mu.Lock()
		links = append(links, entry.sub.Links...)
		entry.mu.Unlock()
	}
	e.guard.ResetDaily(links)
	for _, l := range links {
		e.persistLink(ctx, l)
	}
}

// ============================================================
// Реакции на события компонентов
// ============================================================

func (e *Engine) onBreakerTransition(tr BreakerTransition) {
	e.events.Publish(Event{
		Type:      EventCircuitTransition,
		Time:      tr.At,
		AccountID: tr.Key,
		Message:   fmt.Sprintf("circuit %s: %s → %s", tr.Key, tr.From, tr.To),
		Fields: map[string]interface{}{
			"from":        string(tr.From),
			"to":          string(tr.To),
			"cooldown_ms": tr.Cooldown.Milliseconds(),
		},
	})
}

// onLinkAutoPaused вызывается RiskGuard после паузы link по лимиту убытка
func (e *Engine) onLinkAutoPaused(link *models.ExchangeLink) {
	entry, ok := e.subs.get(link.SubscriptionID)
	if !ok {
		return
	}
	entry.mu.Lock()
	changed := e.autoPauseLocked(entry)
	entry.mu.Unlock()
	if changed {
		e.persistSubscription(context.Background(), entry)
	}
}

// ============================================================
// Сохранение
// ============================================================

func (e *Engine) persistLink(ctx context.Context, link *models.ExchangeLink) {
	if e.store == nil {
		return
	}
	snap := e.copyLink(link)
	if err := e.store.SaveLinkState(ctx, snap); err != nil {
		e.log.Error("failed to save link state", utils.LinkID(link.ID), utils.Err(err))
	}
}

func (e *Engine) persistSubscription(ctx context.Context, entry *subEntry) {
	if e.store == nil {
		return
	}
	entry.mu.Lock()
	snap := e.snapshotLocked(entry)
	entry.mu.Unlock()
	if err := e.store.SaveSubscription(ctx, snap); err != nil {
		e.log.Error("failed to save subscription", utils.SubscriptionID(snap.ID), utils.Err(err))
	}
}

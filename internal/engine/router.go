package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"signalexec/internal/exchange"
	"signalexec/internal/models"
	"signalexec/pkg/retry"
	"signalexec/pkg/utils"

	"github.com/google/uuid"
)

// OutcomeStatus - исход обработки сигнала на одном link
type OutcomeStatus string

const (
	OutcomeFilled  OutcomeStatus = "filled"
	OutcomeDenied  OutcomeStatus = "denied"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// FailureClass - класс ошибки для исхода failed
type FailureClass string

const (
	FailureConfig      FailureClass = "config"
	FailureTransient   FailureClass = "transient"
	FailurePermanent   FailureClass = "permanent"
	FailureCircuitOpen FailureClass = "circuit_open"
)

// ReasonInactive - причина skipped: подписка или link не активны
const ReasonInactive = "inactive"

// Outcome - результат одной ветки диспетчеризации
type Outcome struct {
	LinkID   string              `json:"link_id"`
	Exchange string              `json:"exchange"`
	Status   OutcomeStatus       `json:"status"`
	Reason   string              `json:"reason,omitempty"`
	Failure  FailureClass        `json:"failure,omitempty"`
	Error    string              `json:"error,omitempty"`
	Intent   *models.OrderIntent `json:"intent,omitempty"`
	Order    *exchange.Order     `json:"order,omitempty"`

	Err error `json:"-"`
}

// DispatchResult - агрегированный результат по всем link подписки
type DispatchResult struct {
	SignalID       string              `json:"signal_id"`
	SubscriptionID string              `json:"subscription_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Outcomes       map[string]*Outcome `json:"outcomes"` // linkID → исход
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
}

// Count возвращает число исходов со статусом
func (r *DispatchResult) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// AdapterSource выдаёт адаптер биржевого аккаунта link
type AdapterSource interface {
	Get(accountID, exchangeName string) (exchange.Adapter, error)
}

// Router раздаёт сигнал всем link подписки параллельно.
//
// Ветки link не разделяют состояние: отказ или ошибка одной ветки
// не отменяет и не влияет на другие. Результат возвращается только
// после завершения всех веток.
type Router struct {
	resolver *Resolver
	guard    *RiskGuard
	gateway  *Gateway
	adapters AdapterSource
	tracker  *Tracker
	events   *EventBus
	log      *utils.Logger

	newOrderID func() string
}

// NewRouter создаёт диспетчер
func NewRouter(resolver *Resolver, guard *RiskGuard, gateway *Gateway, adapters AdapterSource, tracker *Tracker, events *EventBus, log *utils.Logger) *Router {
	return &Router{
		resolver:   resolver,
		guard:      guard,
		gateway:    gateway,
		adapters:   adapters,
		tracker:    tracker,
		events:     events,
		log:        log.WithComponent("router"),
		newOrderID: func() string { return uuid.NewString() },
	}
}

// Dispatch обрабатывает сигнал для всех link подписки.
//
// sub - снапшот подписки (статус и список link), link - живые объекты.
// Отмена ctx останавливает только ветки, ещё не прошедшие авторизацию.
// Авторизованная ветка выполняется до конца без отмены вызывающего,
// каждый вызов ограничен лишь CallTimeout шлюза.
func (r *Router) Dispatch(ctx context.Context, sub *models.BotSubscription, signal *models.Signal) *DispatchResult {
	result := &DispatchResult{
		SignalID:       signal.ID,
		SubscriptionID: sub.ID,
		Symbol:         signal.Symbol,
		Side:           signal.Side,
		Outcomes:       make(map[string]*Outcome, len(sub.Links)),
		StartedAt:      time.Now(),
	}

	outcomes := make([]*Outcome, len(sub.Links))
	var wg sync.WaitGroup
	for i, link := range sub.Links {
		wg.Add(1)
		go func(i int, link *models.ExchangeLink) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error("dispatch branch panic", utils.LinkID(link.ID), utils.Any("panic", rec))
					outcomes[i] = failed(link, FailurePermanent, errors.New("internal error"))
				}
			}()
			outcomes[i] = r.dispatchLink(ctx, sub, link, signal)
		}(i, link)
	}
	wg.Wait()

	for _, o := range outcomes {
		result.Outcomes[o.LinkID] = o
		DispatchOutcomes.WithLabelValues(o.Exchange, string(o.Status), outcomeLabel(o)).Inc()
	}
	result.FinishedAt = time.Now()
	DispatchLatency.Observe(float64(result.FinishedAt.Sub(result.StartedAt).Microseconds()) / 1000)

	r.events.Publish(Event{
		Type:           EventDispatch,
		SubscriptionID: sub.ID,
		Message:        "signal " + signal.ID + " dispatched",
		Fields: map[string]interface{}{
			"signal_id": signal.ID,
			"symbol":    signal.Symbol,
			"side":      signal.Side,
			"filled":    result.Count(OutcomeFilled),
			"denied":    result.Count(OutcomeDenied),
			"failed":    result.Count(OutcomeFailed),
			"skipped":   result.Count(OutcomeSkipped),
		},
	})
	return result
}

func (r *Router) dispatchLink(ctx context.Context, sub *models.BotSubscription, link *models.ExchangeLink, signal *models.Signal) *Outcome {
	if sub.Status != models.SubscriptionActive {
		return skipped(link)
	}

	// Статус и настройки link читаются под мьютексом link
	var (
		status string
		cfg    models.EffectiveConfig
		err    error
	)
	r.guard.withLink(link, func() {
		status = link.State.Status
		if status != models.LinkActive {
			return
		}
		if err = r.resolver.CheckSymbol(link, signal.Symbol); err == nil {
			cfg, err = r.resolver.Resolve(link, signal.Symbol)
		}
	})
	if status != models.LinkActive {
		return skipped(link)
	}
	if err != nil {
		ev := linkEvent(EventConfigError, link, "configuration error: %v", err)
		ev.Fields["symbol"] = signal.Symbol
		r.events.Publish(ev)
		return failed(link, FailureConfig, err)
	}

	adapter, err := r.adapters.Get(link.ExchangeAccountID, link.Exchange)
	if err != nil {
		return failed(link, FailureConfig, err)
	}
	ga := r.gateway.Wrap(link.ExchangeAccountID, adapter)

	intent := &models.OrderIntent{
		LinkID:        link.ID,
		Symbol:        signal.Symbol,
		Side:          signal.Side,
		Config:        cfg,
		ClientOrderID: r.newOrderID(),
	}

	if err := ctx.Err(); err != nil {
		return failed(link, FailureTransient, err)
	}
	reservation, err := r.guard.Authorize(link, intent)
	if err != nil {
		var denial *DenialError
		if errors.As(err, &denial) {
			return &Outcome{
				LinkID:   link.ID,
				Exchange: link.Exchange,
				Status:   OutcomeDenied,
				Reason:   string(denial.Reason),
				Error:    err.Error(),
				Intent:   intent,
				Err:      err,
			}
		}
		// ErrLinkPaused: link поставлен на паузу между чтением статуса и авторизацией
		return skipped(link)
	}

	// ордер мог уже уйти на биржу: отмена вызывающего не должна терять позицию
	out := r.execute(context.WithoutCancel(ctx), ga, link, intent, signal, reservation)
	out.Intent = intent
	return out
}

// execute выполняет авторизованный intent: цена → размер → ордер
func (r *Router) execute(ctx context.Context, ga *GuardedAdapter, link *models.ExchangeLink, intent *models.OrderIntent, signal *models.Signal, reservation *Reservation) *Outcome {
	price := signal.PriceHint
	if price <= 0 {
		ticker, err := ga.GetTicker(ctx, signal.Symbol)
		if err != nil {
			reservation.Release()
			return failed(link, classifyFailure(err), err)
		}
		price = ticker.LastPrice
		if signal.Side == models.SideBuy && ticker.AskPrice > 0 {
			price = ticker.AskPrice
		} else if signal.Side == models.SideSell && ticker.BidPrice > 0 {
			price = ticker.BidPrice
		}
	}

	intent.Price = price
	intent.Size = utils.OrderSize(intent.Config.MarginUSD, intent.Config.Leverage, price)
	if intent.Size <= 0 {
		reservation.Release()
		return failed(link, FailureConfig, errors.New("computed order size is not positive"))
	}
	intent.StopLossPrice = utils.StopLossPrice(intent.Side, price, intent.Config.StopLossPct)
	intent.TakeProfitPrice = utils.TakeProfitPrice(intent.Side, price, intent.Config.TakeProfitPct)

	order, err := ga.PlaceOrder(ctx, exchange.OrderRequest{
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Size:          intent.Size,
		Leverage:      intent.Config.Leverage,
		Price:         intent.Price,
		StopLoss:      intent.StopLossPrice,
		TakeProfit:    intent.TakeProfitPrice,
	})
	if err == nil {
		switch {
		case order == nil:
			err = exchange.NewTransientError(ga.Name(), exchange.KindServer, "adapter returned no order")
		case order.Status == exchange.OrderStatusRejected:
			err = exchange.NewPermanentError(ga.Name(), exchange.CodeOrderRejected, "order rejected")
		}
	}
	if err != nil {
		reservation.Release()
		r.log.Warn("order failed",
			utils.LinkID(link.ID),
			utils.Exchange(ga.Name()),
			utils.Symbol(intent.Symbol),
			utils.Err(err),
		)
		return failed(link, classifyFailure(err), err)
	}

	r.tracker.RecordOpen(link, reservation, order)
	r.log.Info("order placed",
		utils.LinkID(link.ID),
		utils.Exchange(ga.Name()),
		utils.Symbol(intent.Symbol),
		utils.Side(intent.Side),
		utils.Size(intent.Size),
		utils.Price(price),
		utils.OrderID(order.ID),
	)
	return &Outcome{
		LinkID:   link.ID,
		Exchange: link.Exchange,
		Status:   OutcomeFilled,
		Order:    order,
	}
}

// classifyFailure сопоставляет ошибку вызова с классом исхода
func classifyFailure(err error) FailureClass {
	var perm *retry.PermanentError
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return FailureCircuitOpen
	case exchange.IsPermanent(err):
		return FailurePermanent
	case errors.As(err, &perm) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		return FailurePermanent
	default:
		return FailureTransient
	}
}

func skipped(link *models.ExchangeLink) *Outcome {
	return &Outcome{
		LinkID:   link.ID,
		Exchange: link.Exchange,
		Status:   OutcomeSkipped,
		Reason:   ReasonInactive,
	}
}

func failed(link *models.ExchangeLink, class FailureClass, err error) *Outcome {
	return &Outcome{
		LinkID:   link.ID,
		Exchange: link.Exchange,
		Status:   OutcomeFailed,
		Reason:   string(class),
		Failure:  class,
		Error:    err.Error(),
		Err:      err,
	}
}

func outcomeLabel(o *Outcome) string {
	if o.Failure != "" {
		return string(o.Failure)
	}
	return o.Reason
}

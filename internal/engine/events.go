package engine

import (
	"fmt"
	"sync"
	"time"

	"signalexec/internal/models"
	"signalexec/pkg/utils"

	"go.uber.org/zap"
)

// EventType - тип наблюдаемого события движка
type EventType string

const (
	EventDispatch           EventType = "dispatch"            // сигнал обработан
	EventRetry              EventType = "retry"               // повтор вызова адаптера
	EventCircuitTransition  EventType = "circuit_transition"  // смена состояния breaker
	EventLinkPaused         EventType = "link_paused"         // link на паузе
	EventLinkResumed        EventType = "link_resumed"        // link возобновлён
	EventSubscriptionStatus EventType = "subscription_status" // смена статуса подписки
	EventTradeClosed        EventType = "trade_closed"        // позиция закрыта
	EventConfigError        EventType = "config_error"        // ошибка целостности конфигурации
)

// Event - событие для логирования, UI и внешних потребителей
type Event struct {
	Type           EventType              `json:"type"`
	Time           time.Time              `json:"time"`
	SubscriptionID string                 `json:"subscription_id,omitempty"`
	LinkID         string                 `json:"link_id,omitempty"`
	AccountID      string                 `json:"account_id,omitempty"`
	Message        string                 `json:"message"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
}

// EventSink получает события движка
//
// Вызывается синхронно из горячего пути - реализация не должна блокировать.
type EventSink interface {
	Handle(ev Event)
}

// EventSinkFunc - адаптер функции к EventSink
type EventSinkFunc func(ev Event)

func (f EventSinkFunc) Handle(ev Event) { f(ev) }

// EventBus рассылает события всем подписанным sink
type EventBus struct {
	mu    sync.RWMutex
	sinks []EventSink
}

// NewEventBus создаёт шину с начальным набором sink
func NewEventBus(sinks ...EventSink) *EventBus {
	return &EventBus{sinks: sinks}
}

// Subscribe добавляет sink
func (b *EventBus) Subscribe(s EventSink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Publish отправляет событие всем sink. Безопасен для nil шины.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Handle(ev)
	}
}

// ============================================================
// Sinks
// ============================================================

// LogSink пишет события в структурированный лог
func LogSink(log *utils.Logger) EventSink {
	log = log.WithComponent("events")
	return EventSinkFunc(func(ev Event) {
		fields := []zap.Field{
			zap.String("event", string(ev.Type)),
			utils.SubscriptionID(ev.SubscriptionID),
			utils.LinkID(ev.LinkID),
		}
		if ev.AccountID != "" {
			fields = append(fields, zap.String("account_id", ev.AccountID))
		}
		for k, v := range ev.Fields {
			fields = append(fields, zap.Any(k, v))
		}

		switch ev.Type {
		case EventConfigError:
			log.Error(ev.Message, fields...)
		case EventLinkPaused, EventCircuitTransition, EventRetry:
			log.Warn(ev.Message, fields...)
		default:
			log.Info(ev.Message, fields...)
		}
	})
}

// Notifier - получатель уведомлений (реализуется service.NotificationService)
type Notifier interface {
	BroadcastNotification(n *models.Notification)
}

// NotificationSink превращает значимые события в уведомления для UI.
// Повторы (retry) в UI не отправляются - только в лог.
func NotificationSink(n Notifier) EventSink {
	return EventSinkFunc(func(ev Event) {
		notifType, severity := "", models.SeverityInfo
		switch ev.Type {
		case EventDispatch:
			notifType = models.NotificationTypeDispatch
		case EventLinkPaused:
			notifType, severity = models.NotificationTypeLinkPause, models.SeverityWarn
		case EventLinkResumed:
			notifType = models.NotificationTypeLinkResume
		case EventSubscriptionStatus:
			notifType = models.NotificationTypeLinkResume
			if ev.Fields["status"] != models.SubscriptionActive {
				notifType, severity = models.NotificationTypeLinkPause, models.SeverityWarn
			}
		case EventCircuitTransition:
			notifType, severity = models.NotificationTypeCircuit, models.SeverityWarn
		case EventTradeClosed:
			notifType = models.NotificationTypeClose
		case EventConfigError:
			notifType, severity = models.NotificationTypeError, models.SeverityError
		default:
			return
		}
		n.BroadcastNotification(&models.Notification{
			Timestamp:      ev.Time,
			Type:           notifType,
			Severity:       severity,
			SubscriptionID: ev.SubscriptionID,
			LinkID:         ev.LinkID,
			Message:        ev.Message,
			Meta:           ev.Fields,
		})
	})
}

func linkEvent(t EventType, link *models.ExchangeLink, format string, args ...interface{}) Event {
	return Event{
		Type:           t,
		SubscriptionID: link.SubscriptionID,
		LinkID:         link.ID,
		AccountID:      link.ExchangeAccountID,
		Message:        fmt.Sprintf(format, args...),
		Fields:         map[string]interface{}{"exchange": link.Exchange},
	}
}

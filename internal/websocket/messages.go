package websocket

import (
	"time"

	"signalexec/internal/engine"
	"signalexec/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeNotification - новое уведомление журнала
	// Отправляется при событиях: dispatch, пауза/возобновление, circuit, закрытие, ошибки
	MessageTypeNotification MessageType = "notification"

	// MessageTypeDispatchResult - полный результат обработки сигнала по всем link
	MessageTypeDispatchResult MessageType = "dispatchResult"

	// MessageTypeSubscriptionUpdate - новое состояние подписки после изменения через API
	MessageTypeSubscriptionUpdate MessageType = "subscriptionUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationMessage - сообщение о новом уведомлении
//
// Содержит уведомление в том виде, в каком оно сохранено в журнал
// (ID заполнен, если журнал в БД).
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// DispatchResultMessage - результат диспетчеризации сигнала
type DispatchResultMessage struct {
	BaseMessage
	SignalID string                 `json:"signal_id"`
	Data     *engine.DispatchResult `json:"data"`
}

// SubscriptionUpdateMessage - снапшот подписки с состояниями link
type SubscriptionUpdateMessage struct {
	BaseMessage
	SubscriptionID string                  `json:"subscription_id"`
	Data           *models.BotSubscription `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now()}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: newBase(MessageTypeNotification),
		Data:        notif,
	}
}

// NewDispatchResultMessage создает сообщение с результатом сигнала
func NewDispatchResultMessage(result *engine.DispatchResult) *DispatchResultMessage {
	return &DispatchResultMessage{
		BaseMessage: newBase(MessageTypeDispatchResult),
		SignalID:    result.SignalID,
		Data:        result,
	}
}

// NewSubscriptionUpdateMessage создает сообщение обновления подписки
func NewSubscriptionUpdateMessage(sub *models.BotSubscription) *SubscriptionUpdateMessage {
	return &SubscriptionUpdateMessage{
		BaseMessage:    newBase(MessageTypeSubscriptionUpdate),
		SubscriptionID: sub.ID,
		Data:           sub,
	}
}

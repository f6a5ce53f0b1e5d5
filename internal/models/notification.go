package models

import "time"

// Notification - уведомление о событии движка для UI и журнала
type Notification struct {
	ID             int64                  `json:"id,omitempty" db:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	Type           string                 `json:"type"`
	Severity       string                 `json:"severity"` // info, warn, error
	SubscriptionID string                 `json:"subscription_id,omitempty"`
	LinkID         string                 `json:"link_id,omitempty"`
	Message        string                 `json:"message"`
	Meta           map[string]interface{} `json:"meta,omitempty"`
}

// Типы уведомлений
const (
	NotificationTypeDispatch   = "DISPATCH"    // результат обработки сигнала
	NotificationTypeLinkPause  = "LINK_PAUSE"  // link поставлен на паузу
	NotificationTypeLinkResume = "LINK_RESUME" // link возобновлён
	NotificationTypeCircuit    = "CIRCUIT"     // смена состояния circuit breaker
	NotificationTypeClose      = "CLOSE"       // закрытие позиции
	NotificationTypeError      = "ERROR"       // ошибка конфигурации или биржи
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

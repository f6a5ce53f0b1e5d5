package service

import (
	"context"
	"time"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/internal/repository"
)

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, notif *models.Notification) error
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
	GetByTypes(ctx context.Context, types []string, limit int) ([]*models.Notification, error)
	DeleteAll(ctx context.Context) error
	DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)

// SignalDispatcher - исполнитель сигналов (реализуется engine.Engine)
type SignalDispatcher interface {
	Dispatch(ctx context.Context, signal *models.Signal) (*engine.DispatchResult, error)
}

// Deduplicator отсекает повторную доставку сигнала (webhook retry, at-least-once Kafka)
type Deduplicator interface {
	// Seen атомарно отмечает ключ и возвращает true, если он уже был отмечен
	Seen(ctx context.Context, key string) (bool, error)
	// Forget снимает отметку (сигнал не был принят движком)
	Forget(ctx context.Context, key string) error
}

// ResultPublisher публикует результаты диспетчеризации во внешнюю шину
type ResultPublisher interface {
	PublishResult(ctx context.Context, result *engine.DispatchResult) error
}

var _ SignalDispatcher = (*engine.Engine)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error)
	ClearNotifications(ctx context.Context) error
	BroadcastNotification(notif *models.Notification)
}

// SignalServiceInterface определяет интерфейс приёма сигналов
type SignalServiceInterface interface {
	Submit(ctx context.Context, signal *models.Signal, source string) (*engine.DispatchResult, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ NotificationServiceInterface = (*NotificationService)(nil)
var _ SignalServiceInterface = (*SignalService)(nil)
var _ engine.Notifier = (*NotificationService)(nil)

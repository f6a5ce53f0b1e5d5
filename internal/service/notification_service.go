package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// NotificationOptions - параметры журнала уведомлений
type NotificationOptions struct {
	QueueSize     int           // ёмкость очереди между движком и воркером
	Retention     time.Duration // уведомления старше удаляются (0 = хранить всё)
	CleanupPeriod time.Duration // период очистки
	MemoryLimit   int           // размер журнала в памяти, если БД не настроена
}

// DefaultNotificationOptions возвращает параметры по умолчанию
func DefaultNotificationOptions() NotificationOptions {
	return NotificationOptions{
		QueueSize:     256,
		Retention:     30 * 24 * time.Hour,
		CleanupPeriod: time.Hour,
		MemoryLimit:   500,
	}
}

// NotificationService - журнал уведомлений движка.
//
// Отвечает за:
// - Приём уведомлений из горячего пути без блокировки (очередь)
// - Сохранение в БД (или в кольцевой журнал в памяти без БД)
// - Broadcast через WebSocket после сохранения (у уведомления уже есть ID)
// - Получение списка с фильтрацией по типам и очистку журнала
//
// Типы уведомлений:
// - DISPATCH: результат обработки сигнала
// - LINK_PAUSE / LINK_RESUME: пауза и возобновление link или подписки
// - CIRCUIT: смена состояния circuit breaker
// - CLOSE: закрытие позиции
// - ERROR: ошибка конфигурации
type NotificationService struct {
	repo  NotificationRepositoryInterface // nil = журнал в памяти
	wsHub WebSocketBroadcaster
	opts  NotificationOptions
	log   *utils.Logger

	queue chan *models.Notification

	mu     sync.RWMutex
	memory []*models.Notification // от старых к новым
	nextID int64

	dropped int64 // под mu
}

// NewNotificationService создает сервис. repo может быть nil.
func NewNotificationService(repo NotificationRepositoryInterface, opts NotificationOptions, log *utils.Logger) *NotificationService {
	def := DefaultNotificationOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = def.MemoryLimit
	}
	if log == nil {
		log = utils.L()
	}
	return &NotificationService{
		repo:  repo,
		opts:  opts,
		log:   log.WithComponent("notifications"),
		queue: make(chan *models.Notification, opts.QueueSize),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo, opts, log)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// BroadcastNotification ставит уведомление в очередь (engine.Notifier).
//
// Не блокирует: при переполненной очереди уведомление отбрасывается
// с предупреждением в лог.
func (s *NotificationService) BroadcastNotification(notif *models.Notification) {
	if notif == nil {
		return
	}
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}
	select {
	case s.queue <- notif:
	default:
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		s.log.Warn("notification queue full, dropping",
			zap.String("type", notif.Type),
			zap.Int64("dropped_total", dropped),
		)
	}
}

// Run обрабатывает очередь и периодически чистит журнал до отмены ctx.
// Оставшиеся в очереди уведомления дописываются перед выходом.
func (s *NotificationService) Run(ctx context.Context) {
	var cleanup <-chan time.Time
	if s.opts.Retention > 0 && s.opts.CleanupPeriod > 0 {
		ticker := time.NewTicker(s.opts.CleanupPeriod)
		defer ticker.Stop()
		cleanup = ticker.C
	}

	for {
		select {
		case notif := <-s.queue:
			s.deliver(ctx, notif)
		case <-cleanup:
			if n, err := s.CleanupOld(ctx); err != nil {
				s.log.Error("notification cleanup failed", utils.Err(err))
			} else if n > 0 {
				s.log.Info("old notifications removed", zap.Int64("count", n))
			}
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

// drain дописывает очередь с отдельным контекстом: ctx Run уже отменён
func (s *NotificationService) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case notif := <-s.queue:
			s.deliver(ctx, notif)
		default:
			return
		}
	}
}

// deliver сохраняет уведомление и отправляет его в WebSocket
func (s *NotificationService) deliver(ctx context.Context, notif *models.Notification) {
	if s.repo != nil {
		if err := s.repo.Create(ctx, notif); err != nil {
			// Журнал недоступен - UI всё равно должен узнать о событии
			s.log.Error("failed to save notification", zap.String("type", notif.Type), utils.Err(err))
		}
	} else {
		s.remember(notif)
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}
}

func (s *NotificationService) remember(notif *models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	notif.ID = s.nextID
	s.memory = append(s.memory, notif)
	if over := len(s.memory) - s.opts.MemoryLimit; over > 0 {
		s.memory = append([]*models.Notification(nil), s.memory[over:]...)
	}
}

// GetNotifications возвращает список уведомлений с фильтрацией.
//
// Параметры:
// - types: список типов для фильтрации (например: ["DISPATCH", "CIRCUIT"]),
// неизвестные типы игнорируются; если пустой - возвращаются все типы
// - limit: максимальное количество записей (по умолчанию 100, максимум 500)
//
// Возвращает уведомления отсортированные по времени (новые сверху).
func (s *NotificationService) GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	normalizedTypes := make([]string, 0, len(types))
	for _, t := range types {
		normalized := strings.ToUpper(strings.TrimSpace(t))
		if normalized != "" && isValidNotificationType(normalized) {
			normalizedTypes = append(normalizedTypes, normalized)
		}
	}

	if s.repo == nil {
		return s.recentFromMemory(normalizedTypes, limit), nil
	}
	if len(normalizedTypes) > 0 {
		return s.repo.GetByTypes(ctx, normalizedTypes, limit)
	}
	return s.repo.GetRecent(ctx, limit)
}

func (s *NotificationService) recentFromMemory(types []string, limit int) []*models.Notification {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Notification, 0, limit)
	for i := len(s.memory) - 1; i >= 0 && len(out) < limit; i-- {
		n := s.memory[i]
		if len(allowed) > 0 && !allowed[n.Type] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ClearNotifications очищает журнал уведомлений.
func (s *NotificationService) ClearNotifications(ctx context.Context) error {
	if s.repo != nil {
		return s.repo.DeleteAll(ctx)
	}
	s.mu.Lock()
	s.memory = nil
	s.mu.Unlock()
	return nil
}

// CleanupOld удаляет уведомления старше Retention.
// Возвращает количество удалённых записей.
func (s *NotificationService) CleanupOld(ctx context.Context) (int64, error) {
	if s.opts.Retention <= 0 {
		return 0, nil
	}
	threshold := time.Now().Add(-s.opts.Retention)
	if s.repo != nil {
		return s.repo.DeleteOlderThan(ctx, threshold)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// memory упорядочен по времени добавления, но Timestamp задаёт источник
	sort.SliceStable(s.memory, func(i, j int) bool {
		return s.memory[i].Timestamp.Before(s.memory[j].Timestamp)
	})
	idx := sort.Search(len(s.memory), func(i int) bool {
		return !s.memory[i].Timestamp.Before(threshold)
	})
	s.memory = append([]*models.Notification(nil), s.memory[idx:]...)
	return int64(idx), nil
}

// Dropped возвращает количество уведомлений, отброшенных из-за переполнения очереди
func (s *NotificationService) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// isValidNotificationType проверяет, является ли тип допустимым.
func isValidNotificationType(notifType string) bool {
	switch notifType {
	case models.NotificationTypeDispatch,
		models.NotificationTypeLinkPause,
		models.NotificationTypeLinkResume,
		models.NotificationTypeCircuit,
		models.NotificationTypeClose,
		models.NotificationTypeError:
		return true
	}
	return false
}

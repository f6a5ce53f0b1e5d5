package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"signalexec/internal/models"
)

// NotificationRepository - работа с таблицей notifications
//
// Назначение: журнал событий движка для UI
//
// Функции:
// - Create: создать новое уведомление
// - GetRecent: получить последние N уведомлений
// - GetByTypes: получить уведомления определенных типов
// - DeleteAll: очистить журнал уведомлений
// - DeleteOlderThan: автоочистка старых уведомлений
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create создает новое уведомление
func (r *NotificationRepository) Create(ctx context.Context, notif *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, subscription_id, link_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}

	meta, err := marshalJSON(notif.Meta, len(notif.Meta) == 0)
	if err != nil {
		return err
	}

	return r.db.QueryRowContext(ctx, query,
		notif.Timestamp,
		notif.Type,
		notif.Severity,
		notif.SubscriptionID,
		notif.LinkID,
		notif.Message,
		meta,
	).Scan(&notif.ID)
}

// GetRecent возвращает последние уведомления (новые сверху)
func (r *NotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, subscription_id, link_id, message, meta
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`
	return r.query(ctx, query, limit)
}

// GetByTypes возвращает последние уведомления указанных типов
func (r *NotificationRepository) GetByTypes(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	query := `
		SELECT id, timestamp, type, severity, subscription_id, link_id, message, meta
		FROM notifications
		WHERE type = ANY($1)
		ORDER BY timestamp DESC
		LIMIT $2`
	return r.query(ctx, query, pq.Array(types), limit)
}

// DeleteAll очищает журнал уведомлений
func (r *NotificationRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notifications`)
	return err
}

// DeleteOlderThan удаляет уведомления старше threshold, возвращает число удалённых
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE timestamp < $1`, threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *NotificationRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var meta []byte
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &n.SubscriptionID, &n.LinkID, &n.Message, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			// битые meta не должны ломать выдачу журнала
			_ = json.Unmarshal(meta, &n.Meta)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

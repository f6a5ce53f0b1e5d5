package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"signalexec/internal/service"
)

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/v1/notifications - последние уведомления
// - GET /api/v1/notifications?types=link_pause,circuit - с фильтрацией по типам
// - GET /api/v1/notifications?limit=50 - с ограничением количества
// - DELETE /api/v1/notifications - очистка журнала
type NotificationHandler struct {
	notificationService service.NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notificationService service.NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
	}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Total         int               `json:"total"`
}

// NotificationDTO представляет уведомление в API
type NotificationDTO struct {
	ID             int64                  `json:"id"`
	Timestamp      string                 `json:"timestamp"`
	Type           string                 `json:"type"`
	Severity       string                 `json:"severity"`
	SubscriptionID string                 `json:"subscription_id,omitempty"`
	LinkID         string                 `json:"link_id,omitempty"`
	Message        string                 `json:"message"`
	Meta           map[string]interface{} `json:"meta,omitempty"`
}

// GetNotifications возвращает список уведомлений с фильтрацией
//
// GET /api/v1/notifications
//
// Query параметры:
// - types: типы через запятую, регистр не важен
//   (dispatch, link_pause, link_resume, circuit, close, error)
// - limit: количество записей (по умолчанию 100, максимум 500)
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	var types []string
	if typesParam := r.URL.Query().Get("types"); typesParam != "" {
		for _, part := range strings.Split(typesParam, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				types = append(types, strings.ToUpper(trimmed))
			}
		}
	}

	limit := 0 // сервис подставит значение по умолчанию
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 1 {
			respondWithError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", "")
			return
		}
		limit = parsed
	}

	notifications, err := h.notificationService.GetNotifications(r.Context(), types, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get notifications", err.Error())
		return
	}

	dtos := make([]NotificationDTO, 0, len(notifications))
	for _, n := range notifications {
		dtos = append(dtos, NotificationDTO{
			ID:             n.ID,
			Timestamp:      n.Timestamp.Format(time.RFC3339),
			Type:           n.Type,
			Severity:       n.Severity,
			SubscriptionID: n.SubscriptionID,
			LinkID:         n.LinkID,
			Message:        n.Message,
			Meta:           n.Meta,
		})
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: dtos,
		Total:         len(dtos),
	})
}

// ClearNotifications очищает журнал уведомлений
//
// DELETE /api/v1/notifications
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.notificationService.ClearNotifications(r.Context()); err != nil {
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to clear notifications", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Notifications cleared successfully"})
}

package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

// SubscriptionManager - операции жизненного цикла подписки (реализуется engine.Engine)
type SubscriptionManager interface {
	Subscribe(ctx context.Context, req engine.SubscribeRequest) (*models.BotSubscription, error)
	Subscription(id string) (*models.BotSubscription, error)
	Subscriptions(clientID string) []*models.BotSubscription
	Pause(ctx context.Context, subID string) (*models.BotSubscription, error)
	Resume(ctx context.Context, subID string) (*models.BotSubscription, error)
	Unsubscribe(ctx context.Context, subID string) (*models.BotSubscription, error)
	PauseLink(ctx context.Context, subID, linkID string) (*models.BotSubscription, error)
	ResumeLink(ctx context.Context, subID, linkID string) (*models.BotSubscription, error)
	UpdateSymbolOverride(ctx context.Context, subID, linkID, symbol string, o models.ConfigOverride) (*models.BotSubscription, error)
	UpdateLinkOverride(ctx context.Context, subID, linkID string, o models.ConfigOverride) (*models.BotSubscription, error)
	UpdateLimits(ctx context.Context, subID, linkID string, limits models.RiskLimits) (*models.BotSubscription, error)
	EffectiveConfig(subID, linkID, symbol string) (models.EffectiveConfig, error)
	Report(subID string, from, to time.Time) (*models.PerformanceReport, error)
	Location() *time.Location
}

// SubscriptionBroadcaster рассылает снапшот подписки после изменения (websocket.Hub)
type SubscriptionBroadcaster interface {
	BroadcastSubscriptionUpdate(sub *models.BotSubscription)
}

var _ SubscriptionManager = (*engine.Engine)(nil)

// SubscriptionHandler отвечает за подписки клиентов на ботов
//
// Endpoints:
// - GET /api/v1/subscriptions?client_id= - подписки клиента
// - POST /api/v1/subscriptions - подписка на бота
// - GET /api/v1/subscriptions/{id} - снапшот подписки
// - POST /api/v1/subscriptions/{id}/pause|resume - пауза/возобновление
// - DELETE /api/v1/subscriptions/{id} - отписка (терминальный статус)
// - POST /api/v1/subscriptions/{id}/links/{linkId}/pause|resume
// - PUT /api/v1/subscriptions/{id}/links/{linkId}/override
// - PUT /api/v1/subscriptions/{id}/links/{linkId}/symbols/{symbol}
// - PUT /api/v1/subscriptions/{id}/links/{linkId}/limits
// - GET /api/v1/subscriptions/{id}/links/{linkId}/config?symbol=
// - GET /api/v1/subscriptions/{id}/report?period=|from=&to=
type SubscriptionHandler struct {
	engine      SubscriptionManager
	broadcaster SubscriptionBroadcaster
	now         func() time.Time
}

// NewSubscriptionHandler создает handler. broadcaster может быть nil.
func NewSubscriptionHandler(e SubscriptionManager, broadcaster SubscriptionBroadcaster) *SubscriptionHandler {
	return &SubscriptionHandler{engine: e, broadcaster: broadcaster, now: time.Now}
}

// SubscriptionsResponse - список подписок клиента
type SubscriptionsResponse struct {
	Subscriptions []*models.BotSubscription `json:"subscriptions"`
	Total         int                       `json:"total"`
}

// ListSubscriptions возвращает подписки клиента
//
// GET /api/v1/subscriptions?client_id=...
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		respondWithError(w, http.StatusBadRequest, "MISSING_CLIENT_ID", "client_id is required", "")
		return
	}

	subs := h.engine.Subscriptions(clientID)
	if subs == nil {
		subs = []*models.BotSubscription{}
	}
	respondWithJSON(w, http.StatusOK, SubscriptionsResponse{Subscriptions: subs, Total: len(subs)})
}

// Subscribe создает подписку на бота
//
// POST /api/v1/subscriptions
//
// Request body: engine.SubscribeRequest
//
// HTTP коды:
// - 201 Created: подписка активна
// - 400 Bad Request: ошибки валидации, неверное число link, аккаунт дважды
// - 404 Not Found: бот не найден
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req engine.SubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
		return
	}
	if err := validateSubscribeRequest(&req); err != nil {
		handleEngineError(w, err)
		return
	}

	sub, err := h.engine.Subscribe(r.Context(), req)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	h.broadcast(sub)
	respondWithJSON(w, http.StatusCreated, sub)
}

// GetSubscription возвращает снапшот подписки
//
// GET /api/v1/subscriptions/{id}
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.engine.Subscription(mux.Vars(r)["id"])
	if err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// PauseSubscription - POST /api/v1/subscriptions/{id}/pause
func (h *SubscriptionHandler) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, func() (*models.BotSubscription, error) {
		return h.engine.Pause(r.Context(), mux.Vars(r)["id"])
	})
}

// ResumeSubscription - POST /api/v1/subscriptions/{id}/resume
func (h *SubscriptionHandler) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, func() (*models.BotSubscription, error) {
		return h.engine.Resume(r.Context(), mux.Vars(r)["id"])
	})
}

// Unsubscribe - DELETE /api/v1/subscriptions/{id}
//
// Подписка не удаляется: статус unsubscribed терминальный, отчёт остаётся доступен.
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, func() (*models.BotSubscription, error) {
		return h.engine.Unsubscribe(r.Context(), mux.Vars(r)["id"])
	})
}

// PauseLink - POST /api/v1/subscriptions/{id}/links/{linkId}/pause
func (h *SubscriptionHandler) PauseLink(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.mutate(w, func() (*models.BotSubscription, error) {
		return h.engine.PauseLink(r.Context(), vars["id"], vars["linkId"])
	})
}

// ResumeLink - POST /api/v1/subscriptions/{id}/links/{linkId}/resume
//
// Снимает и ручную паузу, и защёлку дневного лимита убытка.
func (h *SubscriptionHandler) ResumeLink(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.mutate(w, func() (*models.BotSubscription, error) {
		return h.engine.ResumeLink(r.Context(), vars["id"], vars["linkId"])
	})
}

// UpdateLinkOverride заменяет переопределение уровня link (для всех символов)
//
// PUT /api/v1/subscriptions/{id}/links/{linkId}/override
func (h *SubscriptionHandler) UpdateLinkOverride(w http.ResponseWriter, r *http.Request) {
	var o models.ConfigOverride
	if err := decodeJSON(w, r, &o); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
		return
	}
	if err := validateOverride("override", o).Err(); err != nil {
		handleEngineError(w, err)
		return
	}

	vars := mux.Vars(r)
	h.mutate(w, func() (*models.BotSubscription, error) {
		return h.engine.UpdateLinkOverride(r.Context(), vars["id"], vars["linkId"], o)
	})
}

// UpdateSymbolOverride заменяет переопределение символа. Пустой объект удаляет его.
//
// PUT /api/v1/subscriptions/{id}/links/{linkId}/symbols/{symbol}
func (h *SubscriptionHandler) UpdateSymbolOverride(w http.ResponseWriter, r *http.Request) {
	var o models.ConfigOverride
	if err := decodeJSON(w, r, &o); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
		return
	}
	if err := validateOverride("override", o).Err(); err != nil {
		handleEngineError(w, err)
		return
	}

	vars := mux.Vars(r)
	h.mutate(w, func() (*models.BotSubscription, error) {
		return h.engine.UpdateSymbolOverride(r.Context(), vars["id"], vars["linkId"], vars["symbol"], o)
	})
}

// UpdateLimits заменяет лимиты риска link
//
// PUT /api/v1/subscriptions/{id}/links/{linkId}/limits
//
// Request body: {"max_daily_loss_usd": 500, "max_positions": 3}
// max_daily_loss_usd = 0 - без лимита.
func (h *SubscriptionHandler) UpdateLimits(w http.ResponseWriter, r *http.Request) {
	var limits models.RiskLimits
	if err := decodeJSON(w, r, &limits); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
		return
	}
	if err := validateLimits("limits", limits).Err(); err != nil {
		handleEngineError(w, err)
		return
	}

	vars := mux.Vars(r)
	h.mutate(w, func() (*models.BotSubscription, error) {
		return h.engine.UpdateLimits(r.Context(), vars["id"], vars["linkId"], limits)
	})
}

// GetEffectiveConfig возвращает итоговые параметры ордера для символа
//
// GET /api/v1/subscriptions/{id}/links/{linkId}/config?symbol=BTCUSDT
//
// HTTP коды:
// - 200 OK: конфигурация и источник каждого поля
// - 422 Unprocessable Entity: конфигурация неполная или символ не торгуется ботом
func (h *SubscriptionHandler) GetEffectiveConfig(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		respondWithError(w, http.StatusBadRequest, "MISSING_SYMBOL", "symbol is required", "")
		return
	}

	vars := mux.Vars(r)
	cfg, err := h.engine.EffectiveConfig(vars["id"], vars["linkId"], symbol)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}

// GetReport возвращает отчёт дашборда подписки
//
// GET /api/v1/subscriptions/{id}/report
//
// Query параметры (даты - в таймзоне движка):
// - period: day, week, month, all (по умолчанию all)
// - from, to: YYYY-MM-DD или RFC3339, обе границы включительно; имеют приоритет над period
func (h *SubscriptionHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.reportRange(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_RANGE", "Invalid report range", err.Error())
		return
	}

	report, err := h.engine.Report(mux.Vars(r)["id"], from, to)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// reportRange разбирает фильтр дат отчёта
func (h *SubscriptionHandler) reportRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	loc := h.engine.Location()

	var from, to time.Time
	if v := q.Get("from"); v != "" {
		t, err := utils.ParseDate(v, loc)
		if err != nil {
			return from, to, err
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := utils.ParseDate(v, loc)
		if err != nil {
			return from, to, err
		}
		to = t
	}
	if !from.IsZero() || !to.IsZero() {
		if !from.IsZero() && !to.IsZero() && to.Before(from) {
			return from, to, errInvalidRange
		}
		return from, to, nil
	}

	tr, err := utils.PeriodRange(utils.PeriodType(q.Get("period")), h.now(), loc)
	if err != nil {
		return from, to, err
	}
	if tr.To.IsZero() {
		return tr.From, time.Time{}, nil
	}
	// PeriodRange отдаёт полуоткрытый диапазон, отчёт - включающий по датам
	return tr.From, tr.To.Add(-time.Nanosecond), nil
}

// mutate выполняет изменение подписки и рассылает новый снапшот
func (h *SubscriptionHandler) mutate(w http.ResponseWriter, fn func() (*models.BotSubscription, error)) {
	sub, err := fn()
	if err != nil {
		handleEngineError(w, err)
		return
	}
	h.broadcast(sub)
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) broadcast(sub *models.BotSubscription) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastSubscriptionUpdate(sub)
	}
}

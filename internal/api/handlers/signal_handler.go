package handlers

import (
	"context"
	"net/http"
	"strings"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/internal/service"
)

// PositionRecorder учитывает закрытие позиций (реализуется engine.Engine)
type PositionRecorder interface {
	RecordClose(ctx context.Context, ev engine.CloseEvent) (*models.TradeRecord, error)
}

var _ PositionRecorder = (*engine.Engine)(nil)

// SignalHandler принимает торговые сигналы и события закрытия позиций
//
// Endpoints:
// - POST /api/v1/signals - сигнал бота (webhook)
// - POST /api/v1/positions/close - закрытие позиции с реализованным P&L
type SignalHandler struct {
	signals   service.SignalServiceInterface
	positions PositionRecorder
}

// NewSignalHandler создает handler. positions может быть nil - тогда
// endpoint закрытия не регистрируется.
func NewSignalHandler(signals service.SignalServiceInterface, positions PositionRecorder) *SignalHandler {
	return &SignalHandler{signals: signals, positions: positions}
}

// SubmitSignal обрабатывает сигнал синхронно и возвращает исход по каждому link
//
// POST /api/v1/signals
//
// Request body:
//
//	{"id": "sig-1", "subscription_id": "...", "symbol": "BTCUSDT", "side": "buy", "price_hint": 50000}
//
// HTTP коды:
// - 200 OK: сигнал обработан (отказы и ошибки link - внутри результата)
// - 400 Bad Request: некорректный сигнал
// - 404 Not Found: подписка не найдена
// - 409 Conflict: сигнал с этим id уже обработан
func (h *SignalHandler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var signal models.Signal
	if err := decodeJSON(w, r, &signal); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
		return
	}

	result, err := h.signals.Submit(r.Context(), &signal, service.SourceHTTP)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// RecordClose учитывает закрытие позиции
//
// POST /api/v1/positions/close
//
// Request body: {"link_id": "...", "symbol": "BTCUSDT", "realized_pnl": -12.5, "closed_at": "..."}
//
// HTTP коды:
// - 201 Created: сделка записана
// - 404 Not Found: link не найден
func (h *SignalHandler) RecordClose(w http.ResponseWriter, r *http.Request) {
	var ev engine.CloseEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(ev.LinkID) == "" {
		respondWithError(w, http.StatusBadRequest, "MISSING_LINK_ID", "link_id is required", "")
		return
	}

	trade, err := h.positions.RecordClose(r.Context(), ev)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, trade)
}

package handlers

import (
	"net/http"
	"sort"

	"signalexec/internal/engine"
	"signalexec/internal/models"
)

// BotLister - каталог ботов (список отсортирован по ID)
type BotLister interface {
	All() []*models.Bot
}

// BreakerStates - состояния circuit breaker по биржевым аккаунтам
type BreakerStates interface {
	States() map[string]engine.BreakerState
}

// StatusHandler - справочные endpoints
//
// Endpoints:
// - GET /api/v1/bots - каталог ботов
// - GET /api/v1/breakers - состояние breaker по аккаунтам
type StatusHandler struct {
	catalog  BotLister
	breakers BreakerStates
}

// NewStatusHandler создает handler
func NewStatusHandler(catalog BotLister, breakers BreakerStates) *StatusHandler {
	return &StatusHandler{catalog: catalog, breakers: breakers}
}

// BreakerDTO - состояние breaker аккаунта
type BreakerDTO struct {
	AccountID string `json:"account_id"`
	State     string `json:"state"`
}

// GetBots - GET /api/v1/bots
func (h *StatusHandler) GetBots(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.catalog.All())
}

// GetBreakers - GET /api/v1/breakers
//
// Аккаунты без единого вызова адаптера в списке отсутствуют (breaker ещё не создан).
func (h *StatusHandler) GetBreakers(w http.ResponseWriter, r *http.Request) {
	states := h.breakers.States()
	out := make([]BreakerDTO, 0, len(states))
	for id, st := range states {
		out = append(out, BreakerDTO{AccountID: id, State: string(st)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	respondWithJSON(w, http.StatusOK, out)
}

package handlers

import (
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"signalexec/internal/engine"
	"signalexec/internal/service"
	"signalexec/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes - предел размера тела запроса
const maxBodyBytes = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details string      `json:"details,omitempty"`
	Fields  interface{} `json:"fields,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет ответ с ошибкой
func respondWithError(w http.ResponseWriter, status int, code, message, details string) {
	respondWithJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// decodeJSON читает тело запроса в v. Неизвестные поля - ошибка:
// опечатка в имени лимита не должна молча превращаться в "без лимита".
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// handleEngineError преобразует ошибки движка и сервисов в HTTP ответы
func handleEngineError(w http.ResponseWriter, err error) {
	var verrs utils.ValidationErrors
	if errors.As(err, &verrs) {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Code:   "VALIDATION_ERROR",
			Fields: verrs,
		})
		return
	}

	switch {
	case errors.Is(err, engine.ErrSubscriptionNotFound):
		respondWithError(w, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND", "Subscription not found", err.Error())
	case errors.Is(err, engine.ErrLinkNotFound):
		respondWithError(w, http.StatusNotFound, "LINK_NOT_FOUND", "Exchange link not found", err.Error())
	case errors.Is(err, engine.ErrBotNotFound):
		respondWithError(w, http.StatusNotFound, "BOT_NOT_FOUND", "Bot not found", err.Error())
	case errors.Is(err, engine.ErrInvalidTransition):
		respondWithError(w, http.StatusConflict, "INVALID_TRANSITION", "Operation not allowed in current state", err.Error())
	case errors.Is(err, service.ErrDuplicateSignal):
		respondWithError(w, http.StatusConflict, "DUPLICATE_SIGNAL", "Signal already processed", err.Error())
	case errors.Is(err, engine.ErrIncompleteConfiguration):
		respondWithError(w, http.StatusUnprocessableEntity, "INCOMPLETE_CONFIGURATION", "Configuration is incomplete", err.Error())
	case errors.Is(err, engine.ErrSymbolNotAllowed):
		respondWithError(w, http.StatusUnprocessableEntity, "SYMBOL_NOT_ALLOWED", "Symbol is not traded by this bot", err.Error())
	case errors.Is(err, engine.ErrTooManyLinks):
		respondWithError(w, http.StatusBadRequest, "TOO_MANY_LINKS", "Invalid number of exchange links", err.Error())
	case errors.Is(err, engine.ErrDuplicateAccount):
		respondWithError(w, http.StatusBadRequest, "DUPLICATE_ACCOUNT", "Exchange account linked twice", err.Error())
	case errors.Is(err, engine.ErrInvalidSignal):
		respondWithError(w, http.StatusBadRequest, "INVALID_SIGNAL", "Invalid signal", err.Error())
	case errors.Is(err, utils.ErrInvalidSymbol):
		respondWithError(w, http.StatusBadRequest, "INVALID_SYMBOL", "Invalid symbol", err.Error())
	case errors.Is(err, engine.ErrCircuitOpen):
		respondWithError(w, http.StatusServiceUnavailable, "CIRCUIT_OPEN", "Exchange account temporarily unavailable", err.Error())
	case engine.IsDenial(err):
		respondWithError(w, http.StatusUnprocessableEntity, "RISK_DENIED", "Rejected by risk limits", err.Error())
	default:
		utils.L().Error("unhandled api error", utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", "")
	}
}

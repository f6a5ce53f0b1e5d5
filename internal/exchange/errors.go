package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind - класс ошибки биржи, определяет политику retry
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"    // таймаут запроса
	KindRateLimit ErrorKind = "rate_limit" // превышен лимит запросов
	KindServer    ErrorKind = "server"     // 5xx / временная недоступность
	KindPermanent ErrorKind = "permanent"  // ошибка валидации, retry бессмысленен
)

// Коды постоянных ошибок
const (
	CodeInsufficientBalance = "insufficient_balance"
	CodeInvalidSymbol       = "invalid_symbol"
	CodeOrderRejected       = "order_rejected"
)

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Kind     ErrorKind
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Exchange, e.Message, e.Code)
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Retryable - ошибку имеет смысл повторить (используется пакетом retry)
func (e *ExchangeError) Retryable() bool {
	return e.Kind != KindPermanent
}

// NewTransientError создаёт временную ошибку указанного класса
func NewTransientError(exchange string, kind ErrorKind, msg string) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Kind: kind, Message: msg}
}

// NewPermanentError создаёт постоянную ошибку (не ретраится)
func NewPermanentError(exchange, code, msg string) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Kind: KindPermanent, Code: code, Message: msg}
}

// IsTransient определяет, является ли ошибка временной.
//
// Временные: таймаут (в т.ч. context.DeadlineExceeded), rate-limit, 5xx и
// прочие сетевые сбои без классификации. Отмена контекста вызывающим и
// постоянные ошибки биржи временными не считаются.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Kind != KindPermanent
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Неклассифицированная ошибка адаптера - считаем временной
	return true
}

// IsPermanent - ошибка валидации/отказа биржи
func IsPermanent(err error) bool {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Kind == KindPermanent
	}
	return false
}

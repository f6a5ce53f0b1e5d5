package engine

import (
	"errors"
	"fmt"

	"signalexec/internal/models"
)

// ErrInvalidTransition - переход не разрешён таблицей состояний
var ErrInvalidTransition = errors.New("invalid state transition")

// SubscriptionTransitions определяет допустимые переходы подписки.
// unsubscribed - терминальное состояние.
var SubscriptionTransitions = map[string][]string{
	models.SubscriptionActive:       {models.SubscriptionPaused, models.SubscriptionUnsubscribed},
	models.SubscriptionPaused:       {models.SubscriptionActive, models.SubscriptionUnsubscribed},
	models.SubscriptionUnsubscribed: {},
}

// LinkTransitions определяет допустимые переходы link
var LinkTransitions = map[string][]string{
	models.LinkActive: {models.LinkPaused},
	models.LinkPaused: {models.LinkActive},
}

func canTransition(table map[string][]string, from, to string) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionSubscription проверяет допустимость перехода подписки
func CanTransitionSubscription(from, to string) bool {
	return canTransition(SubscriptionTransitions, from, to)
}

// CanTransitionLink проверяет допустимость перехода link
func CanTransitionLink(from, to string) bool {
	return canTransition(LinkTransitions, from, to)
}

func transitionError(kind, from, to string) error {
	return fmt.Errorf("%w: %s %s → %s", ErrInvalidTransition, kind, from, to)
}

// StateInfo возвращает описание статуса для UI
func StateInfo(status, reason string) string {
	switch status {
	case models.SubscriptionActive:
		return "Подписка активна, сигналы исполняются"
	case models.SubscriptionPaused:
		switch reason {
		case models.ReasonAllLinks:
			return "Все биржевые аккаунты на паузе"
		case models.ReasonDailyLossCap:
			return "Пауза: достигнут дневной лимит убытка"
		default:
			return "Подписка приостановлена"
		}
	case models.SubscriptionUnsubscribed:
		return "Подписка отменена"
	default:
		return "Неизвестное состояние"
	}
}

// IsDispatchable возвращает true если подписка принимает сигналы
func IsDispatchable(status string) bool {
	return status == models.SubscriptionActive
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/pkg/utils"
)

// ErrDuplicateSignal - сигнал с таким ID уже принят
var ErrDuplicateSignal = errors.New("duplicate signal")

// Источники сигналов (метка метрики signals_received_total)
const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"
)

// SignalService принимает сигналы из всех источников и передаёт их движку.
//
// Порядок обработки:
// 1. Сигнал без ID получает UUID (дедупликация не нужна)
// 2. Сигнал с ID проверяется Deduplicator - повтор отбрасывается
// 3. engine.Dispatch - ошибки отдельных link остаются в DispatchResult
// 4. Результат публикуется в ResultPublisher (Kafka), ошибка публикации только логируется
type SignalService struct {
	dispatcher SignalDispatcher
	dedup      Deduplicator    // nil = без дедупликации
	publisher  ResultPublisher // nil = без публикации
	log        *utils.Logger
}

// NewSignalService создает сервис приёма сигналов
func NewSignalService(dispatcher SignalDispatcher, dedup Deduplicator, publisher ResultPublisher, log *utils.Logger) *SignalService {
	if log == nil {
		log = utils.L()
	}
	return &SignalService{
		dispatcher: dispatcher,
		dedup:      dedup,
		publisher:  publisher,
		log:        log.WithComponent("signals"),
	}
}

// Submit обрабатывает один сигнал.
//
// Возвращает ErrDuplicateSignal для повторной доставки, ошибки движка
// (engine.ErrInvalidSignal, engine.ErrSubscriptionNotFound) - как есть.
func (s *SignalService) Submit(ctx context.Context, signal *models.Signal, source string) (*engine.DispatchResult, error) {
	if signal == nil {
		return nil, engine.ErrInvalidSignal
	}

	var dedupKey string
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	} else if s.dedup != nil {
		dedupKey = signal.SubscriptionID + ":" + signal.ID
		dup, err := s.dedup.Seen(ctx, dedupKey)
		switch {
		case err != nil:
			// Хранилище дедупликации недоступно - лучше исполнить, чем потерять сигнал
			s.log.Warn("signal dedup unavailable", utils.SignalID(signal.ID), utils.Err(err))
			dedupKey = ""
		case dup:
			engine.SignalsDuplicate.Inc()
			s.log.Info("duplicate signal dropped",
				utils.SignalID(signal.ID),
				utils.SubscriptionID(signal.SubscriptionID),
				zap.String("source", source),
			)
			return nil, ErrDuplicateSignal
		}
	}

	if signal.ReceivedAt.IsZero() {
		signal.ReceivedAt = time.Now()
	}
	engine.SignalsReceived.WithLabelValues(source).Inc()

	result, err := s.dispatcher.Dispatch(ctx, signal)
	if err != nil {
		// Сигнал не принят - повтор с тем же ID должен пройти
		if dedupKey != "" {
			if ferr := s.dedup.Forget(ctx, dedupKey); ferr != nil {
				s.log.Warn("failed to release dedup key", utils.SignalID(signal.ID), utils.Err(ferr))
			}
		}
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishResult(ctx, result); err != nil {
			s.log.Error("failed to publish dispatch result", utils.SignalID(signal.ID), utils.Err(err))
		}
	}

	s.log.Info("signal dispatched",
		utils.SignalID(signal.ID),
		utils.SubscriptionID(signal.SubscriptionID),
		utils.Symbol(signal.Symbol),
		utils.Side(signal.Side),
		zap.String("source", source),
		zap.Int("filled", result.Count(engine.OutcomeFilled)),
		zap.Int("denied", result.Count(engine.OutcomeDenied)),
		zap.Int("failed", result.Count(engine.OutcomeFailed)),
		zap.Int("skipped", result.Count(engine.OutcomeSkipped)),
	)
	return result, nil
}

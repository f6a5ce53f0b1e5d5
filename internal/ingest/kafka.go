package ingest

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"signalexec/internal/engine"
	"signalexec/internal/models"
	"signalexec/internal/service"
	"signalexec/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SignalSubmitter - приёмник сигналов (service.SignalService)
type SignalSubmitter interface {
	Submit(ctx context.Context, signal *models.Signal, source string) (*engine.DispatchResult, error)
}

// ============================================================
// Consumer
// ============================================================

// SignalConsumer читает JSON сигналы из Kafka.
//
// Offset коммитится после обработки сообщения (at-least-once),
// повторная доставка отсекается дедупликатором SignalService.
type SignalConsumer struct {
	reader *kafka.Reader
	submit SignalSubmitter
	log    *utils.Logger
}

// NewSignalConsumer создаёт consumer группы groupID для topic
func NewSignalConsumer(brokers []string, topic, groupID string, submit SignalSubmitter, log *utils.Logger) *SignalConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
	})
	if log == nil {
		log = utils.L()
	}
	return &SignalConsumer{
		reader: reader,
		submit: submit,
		log:    log.WithComponent("kafka_consumer").With(zap.String("topic", topic)),
	}
}

// Run читает сообщения до отмены ctx
func (c *SignalConsumer) Run(ctx context.Context) error {
	c.log.Info("kafka signal consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("kafka read: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka commit: %w", err)
		}
	}
}

// handle обрабатывает одно сообщение. Ошибки сигнала не останавливают чтение:
// битое или отклонённое сообщение не станет корректным при повторе.
func (c *SignalConsumer) handle(ctx context.Context, msg kafka.Message) {
	signal, err := DecodeSignal(msg.Value)
	if err != nil {
		c.log.Warn("malformed signal message skipped",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			utils.Err(err),
		)
		return
	}

	if _, err := c.submit.Submit(ctx, signal, service.SourceKafka); err != nil {
		if errors.Is(err, service.ErrDuplicateSignal) {
			return
		}
		c.log.Warn("signal rejected",
			utils.SignalID(signal.ID),
			utils.SubscriptionID(signal.SubscriptionID),
			zap.Int64("offset", msg.Offset),
			utils.Err(err),
		)
	}
}

// Close закрывает reader
func (c *SignalConsumer) Close() error {
	return c.reader.Close()
}

// DecodeSignal разбирает JSON сигнал
func DecodeSignal(data []byte) (*models.Signal, error) {
	var signal models.Signal
	if err := json.Unmarshal(data, &signal); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	if signal.SubscriptionID == "" {
		return nil, fmt.Errorf("decode signal: subscription_id is required")
	}
	return &signal, nil
}

// ============================================================
// Publisher
// ============================================================

// messageWriter - подмножество kafka.Writer
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ResultPublisher публикует DispatchResult в Kafka (service.ResultPublisher).
// Ключ сообщения - ID подписки: результаты одной подписки идут в одну партицию.
type ResultPublisher struct {
	writer messageWriter
	topic  string
}

// NewResultPublisher создаёт publisher для topic
func NewResultPublisher(brokers []string, topic string) *ResultPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &ResultPublisher{writer: writer, topic: topic}
}

// PublishResult сериализует и отправляет результат
func (p *ResultPublisher) PublishResult(ctx context.Context, result *engine.DispatchResult) error {
	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal dispatch result: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(result.SubscriptionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "signal_id", Value: []byte(result.SignalID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	return nil
}

// Close закрывает writer
func (p *ResultPublisher) Close() error {
	return p.writer.Close()
}

// ============================================================
// Fan-out
// ============================================================

// Publishers рассылает результат всем publisher (Kafka, WebSocket)
type Publishers []service.ResultPublisher

// PublishResult вызывает всех publisher, ошибки объединяются
func (ps Publishers) PublishResult(ctx context.Context, result *engine.DispatchResult) error {
	var errs []error
	for _, p := range ps {
		if err := p.PublishResult(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ service.ResultPublisher = (*ResultPublisher)(nil)
	_ service.ResultPublisher = Publishers(nil)
	_ service.Deduplicator    = (*RedisDeduplicator)(nil)
	_ service.Deduplicator    = (*MemoryDeduplicator)(nil)
	_ SignalSubmitter         = (*service.SignalService)(nil)
)

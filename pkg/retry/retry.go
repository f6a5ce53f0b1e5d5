package retry

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
)

// Config конфигурация для retry логики
//
// Экспоненциальный backoff с jitter (github.com/jpillora/backoff):
// delay = rand(InitialDelay, min(InitialDelay * Multiplier^attempt, MaxDelay))
type Config struct {
	// MaxRetries - количество ПОВТОРОВ после первой попытки
	// 0 = только одна попытка
	MaxRetries int

	// InitialDelay - начальная задержка между попытками
	// По умолчанию: 100ms
	InitialDelay time.Duration

	// MaxDelay - максимальная задержка между попытками
	// По умолчанию: 30s
	MaxDelay time.Duration

	// Multiplier - множитель для экспоненциального роста
	// По умолчанию: 2.0
	Multiplier float64

	// Jitter - случайная задержка в пределах [InitialDelay, delay]
	Jitter bool

	// RetryIf - функция для определения нужно ли retry'ить ошибку
	// По умолчанию: IsRetryable
	RetryIf func(error) bool

	// OnRetry - callback вызываемый перед каждым retry
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig возвращает конфигурацию по умолчанию для вызовов биржи:
// 3 повтора, задержки ~100ms, 200ms, 400ms (+ jitter)
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
}

func (c *Config) backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    c.InitialDelay,
		Max:    c.MaxDelay,
		Factor: c.Multiplier,
		Jitter: c.Jitter,
	}
}

// Do выполняет операцию с повторными попытками
//
// Возвращает nil при успехе, иначе последнюю ошибку.
// Ошибка, для которой RetryIf вернул false, возвращается сразу.
//
// Пример:
//
//	err := retry.Do(ctx, func() error {
//	    return adapter.CancelOrder(ctx, symbol, id)
//	}, retry.DefaultConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и retry
//
//	order, err := retry.DoWithResult(ctx, func() (*exchange.Order, error) {
//	    return adapter.PlaceOrder(ctx, req)
//	}, cfg)
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()
	b := cfg.backoff()

	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return zero, err
		}

		// Последняя попытка - не ждём
		if attempt == cfg.MaxRetries {
			break
		}

		delay := b.Duration()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError интерфейс для ошибок которые знают, можно ли их retry'ить
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет можно ли retry'ить ошибку
//
// Возвращает false для отмены контекста; для RetryableError - его решение;
// для остальных ошибок - true.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	return true
}

// PermanentError оборачивает ошибку которую не нужно retry'ить
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func (e *PermanentError) Retryable() bool {
	return false
}

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError оборачивает ошибку которую нужно retry'ить
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string {
	return e.Err.Error()
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

func (e *TemporaryError) Retryable() bool {
	return true
}

// Temporary оборачивает ошибку в TemporaryError
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}

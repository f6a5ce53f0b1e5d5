package engine

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen - вызов отклонён без обращения к бирже.
// Не ретраится и не учитывается как новый сбой того же breaker.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState - состояние circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// breakerTransitions определяет допустимые переходы между состояниями
var breakerTransitions = map[BreakerState][]BreakerState{
	BreakerClosed:   {BreakerOpen},
	BreakerOpen:     {BreakerHalfOpen},
	BreakerHalfOpen: {BreakerClosed, BreakerOpen},
}

// CanTransitionBreaker проверяет допустимость перехода
func CanTransitionBreaker(from, to BreakerState) bool {
	for _, s := range breakerTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// gaugeValue - значение для метрики CircuitState
func (s BreakerState) gaugeValue() float64 {
	switch s {
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	default:
		return 0
	}
}

// BreakerConfig - параметры circuit breaker
type BreakerConfig struct {
	FailureThreshold int           // подряд идущих сбоев для открытия
	Window           time.Duration // сбои старше окна не учитываются
	Cooldown         time.Duration // базовое время в open до пробного вызова
	MaxCooldown      time.Duration // потолок роста cooldown
	CooldownFactor   float64       // множитель cooldown после неудачной пробы
}

// DefaultBreakerConfig: 5 сбоев за минуту, cooldown 30s с удвоением до 5 минут
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
		MaxCooldown:      5 * time.Minute,
		CooldownFactor:   2,
	}
}

func (c *BreakerConfig) normalize() {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = c.Cooldown
	}
	if c.CooldownFactor < 1 {
		c.CooldownFactor = d.CooldownFactor
	}
}

// BreakerTransition - факт смены состояния
type BreakerTransition struct {
	Key      string
	From     BreakerState
	To       BreakerState
	Cooldown time.Duration
	At       time.Time
}

// Breaker - конечный автомат circuit breaker одного биржевого аккаунта.
//
//	closed ──N сбоев подряд в окне──▶ open ──cooldown──▶ half_open
//	   ▲                               ▲                    │
//	   └───────── проба успешна ───────┼────────────────────┤
//	                                   └── проба неудачна ──┘ (cooldown × factor)
//
// В half_open разрешён ровно один пробный вызов.
type Breaker struct {
	key          string
	cfg          BreakerConfig
	now          func() time.Time
	onTransition func(BreakerTransition)

	mu       sync.Mutex
	state    BreakerState
	failures []time.Time // подряд идущие сбои внутри окна
	openedAt time.Time
	cooldown time.Duration
	probing  bool
}

// NewBreaker создаёт breaker в состоянии closed
func NewBreaker(key string, cfg BreakerConfig, now func() time.Time, onTransition func(BreakerTransition)) *Breaker {
	cfg.normalize()
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		key:          key,
		cfg:          cfg,
		now:          now,
		onTransition: onTransition,
		state:        BreakerClosed,
		cooldown:     cfg.Cooldown,
	}
}

// Allow решает, можно ли выполнить вызов.
//
// В open по истечении cooldown переводит breaker в half_open и выдаёт
// право на единственную пробу. Вызвавший Allow без ошибки обязан
// завершить вызов через Success, Failure или Abandon.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var tr *BreakerTransition

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		tr = b.transitionLocked(BreakerHalfOpen)
		b.probing = true
	case BreakerHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}

	b.mu.Unlock()
	b.emit(tr)
	return nil
}

// Success фиксирует успешный вызов (или постоянную ошибку - биржа ответила)
func (b *Breaker) Success() {
	b.mu.Lock()
	var tr *BreakerTransition

	switch b.state {
	case BreakerClosed:
		b.failures = b.failures[:0]
	case BreakerHalfOpen:
		b.probing = false
		b.failures = b.failures[:0]
		b.cooldown = b.cfg.Cooldown
		tr = b.transitionLocked(BreakerClosed)
	}

	b.mu.Unlock()
	b.emit(tr)
}

// Failure фиксирует временный сбой вызова
func (b *Breaker) Failure() {
	b.mu.Lock()
	var tr *BreakerTransition
	now := b.now()

	switch b.state {
	case BreakerClosed:
		cutoff := now.Add(-b.cfg.Window)
		kept := b.failures[:0]
		for _, t := range b.failures {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		b.failures = append(kept, now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.failures = b.failures[:0]
			b.openedAt = now
			tr = b.transitionLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.probing = false
		next := time.Duration(float64(b.cooldown) * b.cfg.CooldownFactor)
		if next > b.cfg.MaxCooldown {
			next = b.cfg.MaxCooldown
		}
		b.cooldown = next
		b.openedAt = now
		tr = b.transitionLocked(BreakerOpen)
	}
	// open: запоздавший ответ вызова, начатого до открытия - игнорируем

	b.mu.Unlock()
	b.emit(tr)
}

// Abandon освобождает право на пробу без изменения состояния
// (вызов отменён вызывающим, исход неизвестен)
func (b *Breaker) Abandon() {
	b.mu.Lock()
	if b.state == BreakerHalfOpen {
		b.probing = false
	}
	b.mu.Unlock()
}

// State возвращает текущее состояние
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Cooldown возвращает текущий cooldown (растёт после неудачных проб)
func (b *Breaker) Cooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}

// transitionLocked меняет состояние по таблице переходов. Вызывается под mu.
func (b *Breaker) transitionLocked(to BreakerState) *BreakerTransition {
	if !CanTransitionBreaker(b.state, to) {
		return nil
	}
	tr := &BreakerTransition{Key: b.key, From: b.state, To: to, Cooldown: b.cooldown, At: b.now()}
	b.state = to
	return tr
}

func (b *Breaker) emit(tr *BreakerTransition) {
	if tr == nil {
		return
	}
	CircuitState.WithLabelValues(tr.Key).Set(tr.To.gaugeValue())
	if b.onTransition != nil {
		b.onTransition(*tr)
	}
}

// ============================================================
// Реестр breaker по биржевым аккаунтам
// ============================================================

// BreakerRegistry - breaker на каждый биржевой аккаунт.
//
// sync.Map: breaker создаётся один раз, дальше только чтение - общий
// лок в пути вызова не нужен.
type BreakerRegistry struct {
	cfg          BreakerConfig
	now          func() time.Time
	onTransition func(BreakerTransition)
	breakers     sync.Map // accountID → *Breaker
}

// NewBreakerRegistry создаёт реестр
func NewBreakerRegistry(cfg BreakerConfig, onTransition func(BreakerTransition)) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, now: time.Now, onTransition: onTransition}
}

// Get возвращает breaker аккаунта, создавая при первом обращении
func (r *BreakerRegistry) Get(accountID string) *Breaker {
	if v, ok := r.breakers.Load(accountID); ok {
		return v.(*Breaker)
	}
	v, _ := r.breakers.LoadOrStore(accountID, NewBreaker(accountID, r.cfg, r.now, r.onTransition))
	return v.(*Breaker)
}

// State возвращает состояние breaker аккаунта (closed, если вызовов ещё не было)
func (r *BreakerRegistry) State(accountID string) BreakerState {
	if v, ok := r.breakers.Load(accountID); ok {
		return v.(*Breaker).State()
	}
	return BreakerClosed
}

// States возвращает состояния всех breaker
func (r *BreakerRegistry) States() map[string]BreakerState {
	out := make(map[string]BreakerState)
	r.breakers.Range(func(k, v interface{}) bool {
		out[k.(string)] = v.(*Breaker).State()
		return true
	})
	return out
}

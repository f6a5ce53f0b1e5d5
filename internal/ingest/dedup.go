// Package ingest - внешние каналы сигналов: Kafka consumer, публикация
// результатов в Kafka и дедупликация повторных доставок.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultDedupTTL - сколько помнить ID сигнала
const DefaultDedupTTL = 24 * time.Hour

const dedupKeyPrefix = "signalexec:signal:"

// redisSetNX - подмножество redis.Cmdable, нужное дедупликатору
type redisSetNX interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisDeduplicator отмечает ID сигналов через SETNX с TTL.
// Работает между репликами сервиса.
type RedisDeduplicator struct {
	client redisSetNX
	ttl    time.Duration
}

// NewRedisDeduplicator создаёт дедупликатор поверх клиента Redis
func NewRedisDeduplicator(client redisSetNX, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDeduplicator{client: client, ttl: ttl}
}

// Seen возвращает true, если ключ уже был отмечен
func (d *RedisDeduplicator) Seen(ctx context.Context, key string) (bool, error) {
	created, err := d.client.SetNX(ctx, dedupKeyPrefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %s: %w", key, err)
	}
	return !created, nil
}

// Forget снимает отметку с ключа
func (d *RedisDeduplicator) Forget(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, dedupKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	return nil
}

// MemoryDeduplicator - дедупликация в памяти процесса (Redis не настроен)
type MemoryDeduplicator struct {
	mu        sync.Mutex
	ttl       time.Duration
	expires   map[string]time.Time
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryDeduplicator создаёт дедупликатор в памяти
func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDeduplicator{
		ttl:     ttl,
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen возвращает true, если ключ отмечен и ещё не истёк
func (d *MemoryDeduplicator) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.sweepLocked(now)

	if exp, ok := d.expires[key]; ok && now.Before(exp) {
		return true, nil
	}
	d.expires[key] = now.Add(d.ttl)
	return false, nil
}

// Forget снимает отметку с ключа
func (d *MemoryDeduplicator) Forget(ctx context.Context, key string) error {
	d.mu.Lock()
	delete(d.expires, key)
	d.mu.Unlock()
	return nil
}

// Len возвращает количество помнящихся ключей
func (d *MemoryDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.expires)
}

// sweepLocked удаляет истёкшие ключи не чаще раза в минуту
func (d *MemoryDeduplicator) sweepLocked(now time.Time) {
	if now.Sub(d.lastSweep) < time.Minute {
		return
	}
	d.lastSweep = now
	for key, exp := range d.expires {
		if !now.Before(exp) {
			delete(d.expires, key)
		}
	}
}

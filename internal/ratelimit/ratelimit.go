// Package ratelimit 限制登入嘗試頻率，防止暴力破解密碼
//
// 兩種實作：
//   - Distributed：Redis + Lua 令牌桶，多個實例共享狀態
//   - Local：進程內令牌桶，沒有設定 Redis 時使用
//
// 兩者都以 key（例如 "login:ip:1.2.3.4"）區分桶。
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-link-redirector/pkg/shardmap"
)

// Limiter 限流器
//
// Allow 在後端出錯時返回 (true, err)：可用性優先，由呼叫方記錄錯誤。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Distributed 分散式令牌桶
//
// 桶狀態存在一個 Redis hash：{prefix}{key} → tokens、last_refill（毫秒）。
type Distributed struct {
	client     redis.Scripter
	prefix     string
	capacity   int64
	refillRate float64
	script     *redis.Script
}

// KEYS[1]: 桶的 key
// ARGV[1]: 容量
// ARGV[2]: 每秒填充速率
// ARGV[3]: 當前時間（毫秒）
// ARGV[4]: TTL（秒）
//
// 返回 1 允許，0 拒絕
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1]) or capacity
local last_refill = tonumber(state[2]) or now

local elapsed = math.max(0, now - last_refill) / 1000
tokens = math.min(capacity, tokens + elapsed * refill_rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, ttl)
return allowed
`

// NewDistributed 建立分散式令牌桶
func NewDistributed(client redis.Scripter, prefix string, capacity int64, refillRate float64) *Distributed {
	return &Distributed{
		client:     client,
		prefix:     prefix,
		capacity:   capacity,
		refillRate: refillRate,
		script:     redis.NewScript(tokenBucketScript),
	}
}

// Allow 檢查是否允許請求
func (d *Distributed) Allow(ctx context.Context, key string) (bool, error) {
	result, err := d.script.Run(ctx, d.client,
		[]string{d.prefix + key},
		d.capacity,
		d.refillRate,
		time.Now().UnixMilli(),
		d.ttlSeconds(),
	).Int()
	if err != nil {
		return true, fmt.Errorf("redis rate limit: %w", err)
	}
	return result == 1, nil
}

// ttlSeconds 桶從空到滿所需時間，之後 key 可以安全過期
func (d *Distributed) ttlSeconds() int64 {
	if d.refillRate <= 0 {
		return 3600
	}
	ttl := int64(float64(d.capacity)/d.refillRate) + 1
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}

// sweepInterval Local 清理閒置桶的最短間隔
const sweepInterval = time.Minute

// Local 進程內令牌桶（每個 key 一個桶）
//
// 補滿的桶與新建的桶沒有差別，定期清掉以限制記憶體用量。
type Local struct {
	buckets    *shardmap.Map[*bucket]
	capacity   int64
	refillRate float64
	now        func() time.Time
	lastSweep  atomic.Int64
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	evicted    bool
}

// refill 依經過時間補充令牌，呼叫方需持有 b.mu
func (b *bucket) refill(now time.Time, capacity int64, rate float64) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(float64(capacity), b.tokens+elapsed*rate)
		b.lastRefill = now
	}
}

// NewLocal 建立進程內令牌桶
func NewLocal(capacity int64, refillRate float64) *Local {
	return &Local{
		buckets:    shardmap.New[*bucket](0),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Allow 檢查是否允許請求
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.maybeSweep(now)

	for {
		b := l.bucket(key, now)

		b.mu.Lock()
		if b.evicted {
			// 已被清理，改用新桶
			b.mu.Unlock()
			continue
		}

		b.refill(now, l.capacity, l.refillRate)
		allowed := b.tokens >= 1
		if allowed {
			b.tokens--
		}
		b.mu.Unlock()
		return allowed, nil
	}
}

func (l *Local) bucket(key string, now time.Time) *bucket {
	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	fresh := &bucket{tokens: float64(l.capacity), lastRefill: now}
	if l.buckets.SetIfAbsent(key, fresh) {
		return fresh
	}
	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	return l.bucket(key, now)
}

// maybeSweep 距上次清理超過 sweepInterval 時清理，同一時間只有一個呼叫方執行
func (l *Local) maybeSweep(now time.Time) {
	last := l.lastSweep.Load()
	if last == 0 {
		l.lastSweep.CompareAndSwap(0, now.UnixNano())
		return
	}
	if now.UnixNano()-last < int64(sweepInterval) {
		return
	}
	if !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	l.sweep(now)
}

// sweep 移除已補滿的桶
func (l *Local) sweep(now time.Time) int {
	removed := 0
	l.buckets.Range(func(key string, b *bucket) bool {
		b.mu.Lock()
		b.refill(now, l.capacity, l.refillRate)
		if b.tokens >= float64(l.capacity) {
			b.evicted = true
			l.buckets.Delete(key)
			removed++
		}
		b.mu.Unlock()
		return true
	})
	return removed
}

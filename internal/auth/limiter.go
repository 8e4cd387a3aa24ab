package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter is a fixed-window counter keyed by caller IP. A denied request does
// not advance the counter.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	// RecordFailure counts a failed authentication attempt and returns the
	// running count for key. It never blocks.
	RecordFailure(ctx context.Context, key string) (int64, error)
}

// fixedWindow checks the counter before incrementing so a caller over the
// limit cannot push the count further. PTTL covers keys left without expiry.
const fixedWindow = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, current, redis.call('PTTL', KEYS[1])}
`

var fixedWindowScript = redis.NewScript(fixedWindow)

const failureTTL = 24 * time.Hour

// RedisLimiter shares counters between API instances.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "pagepush:ratelimit:", limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.limit, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	d := Decision{Allowed: res[0] == 1, Count: int(res[1])}
	if !d.Allowed && res[2] > 0 {
		d.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	return d, nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, key string) (int64, error) {
	failKey := "pagepush:authfail:" + key
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, failKey)
	pipe.Expire(ctx, failKey, failureTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record auth failure %s: %w", key, err)
	}
	return incr.Val(), nil
}

type window struct {
	count int
	reset time.Time
}

// MemoryLimiter is the single-process limiter used when Redis is not
// configured.
type MemoryLimiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	failures map[string]int64
	limit    int
	period   time.Duration
	now      func() time.Time
}

func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		windows:  make(map[string]*window),
		failures: make(map[string]int64),
		limit:    limit,
		period:   period,
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		l.prune(now)
		w = &window{reset: now.Add(l.period)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return Decision{Allowed: false, Count: w.count, RetryAfter: w.reset.Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true, Count: w.count}, nil
}

func (l *MemoryLimiter) prune(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, key)
		}
	}
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[key]++
	return l.failures[key], nil
}

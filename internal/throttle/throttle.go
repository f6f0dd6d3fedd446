// Package throttle はメールアドレス単位のメール送信回数制限を提供する。
package throttle

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAllowScript は固定ウィンドウのカウンタを1増やし、初回のみ有効期限を設定する。
const redisAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

const keyPrefix = "hr360:mail:"

// Limiter はキー単位で送信可否を判定する。
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLimiter はRedisで複数インスタンス間の送信回数を共有する。
// Redisに到達できない場合は送信を許可する（フェイルオープン）。
type RedisLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
}

// NewRedisLimiter はRedisLimiterを生成する。
func NewRedisLimiter(client *redis.Client, window time.Duration, max int) *RedisLimiter {
	if client == nil {
		return nil
	}
	return newRedisLimiter(client, window, max)
}

func newRedisLimiter(client redisEvaler, window time.Duration, max int) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &RedisLimiter{client: client, window: window, max: max}
}

// Allow はウィンドウ内の送信回数が上限以下ならtrueを返す。
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil {
		return true
	}
	normalized := normalizeKey(key)
	if normalized == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	seconds := int(l.window.Seconds())
	if seconds <= 0 {
		seconds = 60
	}
	count, err := l.client.Eval(ctx, redisAllowScript, []string{keyPrefix + normalized}, seconds).Int()
	if err != nil {
		slog.Warn("mail throttle unavailable, allowing", slog.String("error", err.Error()))
		return true
	}
	return count <= l.max
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter はプロセス内の固定ウィンドウで送信回数を制限する。
// REDIS_ADDR未設定時（単一インスタンス）に使う。
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	window  time.Duration
	max     int
	now     func() time.Time
}

// NewMemoryLimiter はMemoryLimiterを生成する。
func NewMemoryLimiter(win time.Duration, max int) *MemoryLimiter {
	if win <= 0 {
		win = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &MemoryLimiter{
		windows: make(map[string]*window),
		window:  win,
		max:     max,
		now:     time.Now,
	}
}

// Allow はウィンドウ内の送信回数が上限以下ならtrueを返す。
func (l *MemoryLimiter) Allow(_ context.Context, key string) bool {
	normalized := normalizeKey(key)
	if normalized == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[normalized]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.window)}
		l.windows[normalized] = w
	}
	w.count++
	return w.count <= l.max
}

// Cleanup は期限切れのウィンドウを削除する。
func (l *MemoryLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
		}
	}
}

// StartCleanup は定期的にCleanupを実行するgoroutineを起動する。ctxのキャンセルで停止する。
func (l *MemoryLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// compile-time interface check
var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = (*MemoryLimiter)(nil)
)

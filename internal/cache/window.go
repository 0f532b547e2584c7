package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments KEYS[1] and starts its window on the first hit.
// It returns the count and the remaining window in milliseconds.
var fixedWindow = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

const windowPrefix = "ratelimit:"

// RedisWindow counts hits per key in fixed windows shared by every API instance.
type RedisWindow struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisWindow(client *redis.Client) *RedisWindow {
	return &RedisWindow{client: client, now: time.Now}
}

func (w *RedisWindow) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	res, err := fixedWindow.Run(ctx, w.client, []string{windowPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("rate window: %w", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("rate window: unexpected reply %v", res)
	}
	return res[0], w.now().Add(time.Duration(res[1]) * time.Millisecond), nil
}

type windowEntry struct {
	count   int64
	resetAt time.Time
}

// MemoryWindow is the in-process fixed window counter used without redis.
type MemoryWindow struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]windowEntry
}

func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{now: time.Now, entries: make(map[string]windowEntry)}
}

// WithClock replaces the clock; used by tests.
func (w *MemoryWindow) WithClock(now func() time.Time) *MemoryWindow {
	w.now = now
	return w
}

func (w *MemoryWindow) Hit(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	entry, ok := w.entries[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = windowEntry{resetAt: now.Add(window)}
	}
	entry.count++
	w.entries[key] = entry
	return entry.count, entry.resetAt, nil
}

// Cleanup drops windows that have already ended.
func (w *MemoryWindow) Cleanup() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for key, entry := range w.entries {
		if !now.Before(entry.resetAt) {
			delete(w.entries, key)
			removed++
		}
	}
	return removed
}

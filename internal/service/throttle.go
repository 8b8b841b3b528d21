package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thejerf/abtime"
)

// ErrThrottleUnavailable wraps backend failures of a LoginThrottle.
var ErrThrottleUnavailable = errors.New("login throttle unavailable")

// LoginThrottle counts failed logins per username. Once maxAttempts
// failures accumulate inside the window the username is locked until the
// window, restarted by the locking failure, elapses.
type LoginThrottle interface {
	Locked(ctx context.Context, username string) (bool, error)
	Fail(ctx context.Context, username string) (bool, error)
	Reset(ctx context.Context, username string) error
}

func throttleKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// minThrottlePrune is the entry count at which Fail first prunes expired
// entries; the threshold then tracks twice the surviving size.
const minThrottlePrune = 1024

type attempts struct {
	count     int
	expiresAt time.Time
}

// MemoryThrottle is the single-process LoginThrottle.
type MemoryThrottle struct {
	mu          sync.Mutex
	entries     map[string]*attempts
	maxAttempts int
	window      time.Duration
	clock       abtime.AbstractTime
	pruneAt     int
}

// NewMemoryThrottle creates a throttle; maxAttempts <= 0 disables locking.
func NewMemoryThrottle(maxAttempts int, window time.Duration, clock abtime.AbstractTime) *MemoryThrottle {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &MemoryThrottle{
		entries:     make(map[string]*attempts),
		maxAttempts: maxAttempts,
		window:      window,
		clock:       clock,
		pruneAt:     minThrottlePrune,
	}
}

// Locked reports whether username is currently locked out.
func (t *MemoryThrottle) Locked(_ context.Context, username string) (bool, error) {
	if t.maxAttempts <= 0 {
		return false, nil
	}
	key := throttleKey(username)
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		return false, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(t.entries, key)
		return false, nil
	}
	return entry.count >= t.maxAttempts, nil
}

// Fail records a failed attempt and reports whether username is now locked.
func (t *MemoryThrottle) Fail(_ context.Context, username string) (bool, error) {
	if t.maxAttempts <= 0 {
		return false, nil
	}
	key := throttleKey(username)
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= t.pruneAt {
		t.prune(now)
		t.pruneAt = max(minThrottlePrune, 2*len(t.entries))
	}
	entry, ok := t.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &attempts{expiresAt: now.Add(t.window)}
		t.entries[key] = entry
	}
	entry.count++
	if entry.count >= t.maxAttempts {
		entry.expiresAt = now.Add(t.window)
		return true, nil
	}
	return false, nil
}

// Reset clears the failure count for username.
func (t *MemoryThrottle) Reset(_ context.Context, username string) error {
	t.mu.Lock()
	delete(t.entries, throttleKey(username))
	t.mu.Unlock()
	return nil
}

// Sweep drops every entry whose window has elapsed.
func (t *MemoryThrottle) Sweep(_ context.Context) (int, error) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prune(now), nil
}

func (t *MemoryThrottle) prune(now time.Time) int {
	removed := 0
	for key, entry := range t.entries {
		if !now.Before(entry.expiresAt) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

func (t *MemoryThrottle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// failScript increments the counter and sets its TTL atomically. The first
// hit opens the window; the locking hit restarts it.
var failScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 or count >= tonumber(ARGV[2]) then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RedisThrottle shares failure counters between processes. Counters use
// Redis key expiry for the window.
type RedisThrottle struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int
	window      time.Duration
}

// NewRedisThrottle creates a throttle backed by client.
func NewRedisThrottle(client redis.UniversalClient, prefix string, maxAttempts int, window time.Duration) *RedisThrottle {
	if prefix == "" {
		prefix = "login"
	}
	return &RedisThrottle{redis: client, prefix: prefix, maxAttempts: maxAttempts, window: window}
}

func (t *RedisThrottle) key(username string) string {
	return t.prefix + ":fail:" + throttleKey(username)
}

// Locked reports whether username is currently locked out.
func (t *RedisThrottle) Locked(ctx context.Context, username string) (bool, error) {
	if t.maxAttempts <= 0 {
		return false, nil
	}
	count, err := t.redis.Get(ctx, t.key(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}
	return count >= int64(t.maxAttempts), nil
}

// Fail records a failed attempt and reports whether username is now locked.
func (t *RedisThrottle) Fail(ctx context.Context, username string) (bool, error) {
	if t.maxAttempts <= 0 {
		return false, nil
	}
	count, err := failScript.Run(ctx, t.redis, []string{t.key(username)},
		t.window.Milliseconds(), t.maxAttempts).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}
	return count >= int64(t.maxAttempts), nil
}

// Reset clears the failure count for username.
func (t *RedisThrottle) Reset(ctx context.Context, username string) error {
	if err := t.redis.Del(ctx, t.key(username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}
	return nil
}

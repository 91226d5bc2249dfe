package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultCleanupInterval = 5 * time.Minute

// MemoryConfig configures a MemoryLimiter.
type MemoryConfig struct {
	Cooldown        time.Duration
	CleanupInterval time.Duration
	Clock           func() time.Time
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	cooldown time.Duration
	interval time.Duration
	clock    func() time.Time

	mu       sync.Mutex
	limiters map[string]*keyLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryLimiter starts a limiter with a background sweep of idle keys. Call Stop to end the sweep.
func NewMemoryLimiter(cfg MemoryConfig) *MemoryLimiter {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	limiter := &MemoryLimiter{
		cooldown: cfg.Cooldown,
		interval: interval,
		clock:    clock,
		limiters: make(map[string]*keyLimiter),
		stopCh:   make(chan struct{}),
	}
	go limiter.cleanupLoop()
	return limiter
}

// Allow consumes the key's token if one is available.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (time.Duration, bool) {
	normalized := normalizeKey(key)
	if normalized == "" || l.cooldown <= 0 {
		return 0, true
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.limiters[normalized]
	if !exists {
		entry = &keyLimiter{limiter: rate.NewLimiter(rate.Every(l.cooldown), 1)}
		l.limiters[normalized] = entry
	}
	entry.lastAccess = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return l.cooldown, false
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay, false
	}
	return 0, true
}

// Release forgets the key so its next Allow starts with a full bucket.
func (l *MemoryLimiter) Release(_ context.Context, key string) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, normalized)
}

// Len reports the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop ends the background sweep.
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup drops keys idle for longer than both the cooldown and the sweep interval.
func (l *MemoryLimiter) cleanup() {
	ttl := max(l.cooldown, l.interval)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.limiters {
		if now.Sub(entry.lastAccess) > ttl {
			delete(l.limiters, key)
		}
	}
}

package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiterEntry tracks a limiter and its last access time
type rateLimiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier (IP or handle) token-bucket rate
// limiting with LRU eviction so the tracked set cannot grow without bound.
type RateLimiter struct {
	limiters map[string]*list.Element // identifier -> list element
	lruList  *list.List               // LRU list of *rateLimiterEntry
	mu       sync.Mutex

	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// defaultMaxRateLimiterEntries caps the number of tracked identifiers
const defaultMaxRateLimiterEntries = 10000

// NewRateLimiter creates a rate limiter with background cleanup of idle
// entries and LRU eviction at the default capacity.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		limiters:        make(map[string]*list.Element),
		lruList:         list.New(),
		rate:            requestsPerSecond,
		burst:           burst,
		maxEntries:      defaultMaxRateLimiterEntries,
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from the given identifier is allowed.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := time.Now()

	rl.mu.Lock()

	elem, ok := rl.limiters[identifier]
	if ok {
		entry := elem.Value.(*rateLimiterEntry)
		entry.lastAccess = now
		rl.lruList.MoveToFront(elem)
		limiter := entry.limiter
		rl.mu.Unlock()
		return limiter.Allow()
	}

	// Evict the least recently used entry when at capacity
	if rl.maxEntries > 0 && rl.lruList.Len() >= rl.maxEntries {
		oldest := rl.lruList.Back()
		if oldest != nil {
			evicted := oldest.Value.(*rateLimiterEntry)
			delete(rl.limiters, evicted.identifier)
			rl.lruList.Remove(oldest)
			rl.logger.Debug("Rate limiter entry evicted", "identifier", SafePrefix(evicted.identifier))
		}
	}

	limiter := rate.NewLimiter(rate.Limit(rl.rate), rl.burst)
	entry := &rateLimiterEntry{
		identifier: identifier,
		limiter:    limiter,
		lastAccess: now,
	}
	rl.limiters[identifier] = rl.lruList.PushFront(entry)
	rl.mu.Unlock()

	return limiter.Allow()
}

// Stop terminates the background cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Len returns the number of identifiers currently tracked
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lruList.Len()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes entries idle for longer than the cleanup interval
func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.cleanupInterval)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for elem := rl.lruList.Back(); elem != nil; {
		entry := elem.Value.(*rateLimiterEntry)
		if entry.lastAccess.After(cutoff) {
			// List is LRU-ordered, everything newer is further front
			break
		}
		prev := elem.Prev()
		delete(rl.limiters, entry.identifier)
		rl.lruList.Remove(elem)
		elem = prev
	}
}

// SafePrefix truncates an identifier for logging. Full identifiers (IPs,
// handles) stay out of debug logs.
func SafePrefix(s string) string {
	const n = 8
	if len(s) <= n {
		return s
	}
	return s[:n]
}

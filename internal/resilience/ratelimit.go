package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RuleClass separates independent rate-limit budgets.
type RuleClass string

const (
	RuleGeneral RuleClass = "general"
	RuleWrite   RuleClass = "write"
	RuleBulk    RuleClass = "bulk"
	RuleAuth    RuleClass = "auth"
)

// ErrRateLimited is returned when a caller exhausts its window budget.
var ErrRateLimited = errors.New("resilience: too many requests")

// RateRule is one class's window budget.
type RateRule struct {
	Window time.Duration
	Max    int
}

// bucket is a fixed counting window for one (caller, class) pair.
// It rotates when now - windowStart exceeds the window size.
type bucket struct {
	windowStart time.Time
	count       int
	violations  int
}

// RateLimiter enforces fixed-window budgets per rule class, keyed by
// caller identity. It is shared by the HTTP middleware and the
// websocket read loop, so the same caller draws from one budget.
type RateLimiter struct {
	mu        sync.Mutex
	rules     map[RuleClass]RateRule
	buckets   map[string]*bucket
	logSample int
	logger    *slog.Logger
	now       func() time.Time
}

// NewRateLimiter builds a limiter with the given per-class rules.
// logSample bounds log volume under sustained abuse: only every Nth
// violation per key within a window is logged.
func NewRateLimiter(rules map[RuleClass]RateRule, logSample int, logger *slog.Logger) *RateLimiter {
	if logSample < 1 {
		logSample = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rules:     rules,
		buckets:   make(map[string]*bucket),
		logSample: logSample,
		logger:    logger,
		now:       time.Now,
	}
}

// Allow records one call for key under class. When the budget is
// exhausted it returns ErrRateLimited and the duration until the
// window rotates, usable as a retry hint.
func (l *RateLimiter) Allow(key string, class RuleClass) (retryAfter time.Duration, err error) {
	rule, ok := l.rules[class]
	if !ok || rule.Max <= 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	id := string(class) + ":" + key
	b, ok := l.buckets[id]
	if !ok || now.Sub(b.windowStart) > rule.Window {
		b = &bucket{windowStart: now}
		l.buckets[id] = b
	}

	if b.count >= rule.Max {
		b.violations++
		if b.violations%l.logSample == 1 || l.logSample == 1 {
			l.logger.Warn("rate limit exceeded",
				"key", key,
				"class", string(class),
				"violations", b.violations,
			)
		}
		return rule.Window - now.Sub(b.windowStart), ErrRateLimited
	}

	b.count++
	return 0, nil
}

// Prune drops buckets whose window rotated long ago. Called from the
// scheduler so sustained churn does not grow the map without bound.
func (l *RateLimiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, b := range l.buckets {
		// Two maximum windows is enough slack for any class.
		if now.Sub(b.windowStart) > 2*l.maxWindow() {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}

func (l *RateLimiter) maxWindow() time.Duration {
	max := time.Minute
	for _, rule := range l.rules {
		if rule.Window > max {
			max = rule.Window
		}
	}
	return max
}

package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ai-gateway-go/internal/config"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Policy is a named fixed-window budget
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// AIPolicy and GeneralPolicy build the two policies from configuration
func AIPolicy(cfg config.RateLimitConfig) Policy {
	return Policy{Name: "ai", Limit: cfg.AI.Limit, Window: cfg.AI.Window}
}

func GeneralPolicy(cfg config.RateLimitConfig) Policy {
	return Policy{Name: "general", Limit: cfg.General.Limit, Window: cfg.General.Window}
}

// Decision is the outcome of a rate check
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Check(policy Policy, key string) Decision
	Reset(policy Policy, key string)
}

type rateWindow struct {
	count int
	start time.Time
}

// WindowLimiter implements fixed-window counting per (policy, caller)
type WindowLimiter struct {
	enabled bool
	mu      sync.Mutex
	windows *cache.Cache
	now     func() time.Time
	logger  *logrus.Logger
}

// LimiterOption configures a WindowLimiter
type LimiterOption func(*WindowLimiter)

// WithLimiterClock replaces time.Now. Useful for tests.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *WindowLimiter) { l.now = now }
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig, logger *logrus.Logger, opts ...LimiterOption) *WindowLimiter {
	l := &WindowLimiter{
		enabled: cfg.Enabled,
		// entries carry their own TTL; the janitor sweeps expired windows
		windows: cache.New(cache.NoExpiration, 10*time.Minute),
		now:     time.Now,
		logger:  logger,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Check counts the request against the caller's window and reports whether it may proceed
func (l *WindowLimiter) Check(policy Policy, key string) Decision {
	if !l.enabled {
		return Decision{Allowed: true, Remaining: policy.Limit}
	}

	k := policy.Name + ":" + key

	l.mu.Lock()
	now := l.now()
	var w *rateWindow
	if v, found := l.windows.Get(k); found {
		w = v.(*rateWindow)
	}
	if w == nil || now.Sub(w.start) >= policy.Window {
		w = &rateWindow{start: now}
		// keep the window around a little past its end so late checks still see it
		l.windows.Set(k, w, 2*policy.Window)
	}

	var d Decision
	if w.count < policy.Limit {
		w.count++
		d = Decision{Allowed: true, Remaining: policy.Limit - w.count}
	} else {
		d = Decision{RetryAfter: policy.Window - now.Sub(w.start)}
	}
	l.mu.Unlock()

	if !d.Allowed {
		l.logger.WithFields(logrus.Fields{
			"policy":      policy.Name,
			"key":         key,
			"retry_after": d.RetryAfter,
		}).Warn("Rate limit exceeded")
	}

	return d
}

// Reset clears the caller's window for a policy
func (l *WindowLimiter) Reset(policy Policy, key string) {
	l.windows.Delete(policy.Name + ":" + key)
}

// RetryAfterSeconds rounds a wait up to whole seconds for the Retry-After header
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// GeneralRateLimit enforces a policy on every request, keyed by source address
func GeneralRateLimit(limiter RateLimiter, policy Policy, ips *ClientIPResolver, metrics *Metrics, reject func(w http.ResponseWriter, r *http.Request, retryAfter time.Duration)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Check(policy, ips.ClientIP(r))
			if !d.Allowed {
				metrics.RecordRateLimitExceeded(policy.Name)
				w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(d.RetryAfter)))
				reject(w, r, d.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

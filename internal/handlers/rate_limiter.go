package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/groupdine/api/internal/platform/auth"
	"github.com/groupdine/api/internal/platform/httpx"
)

const rateLimiterIdleTTL = 10 * time.Minute

type rateLimiter interface {
	Allow(key string) bool
}

// keyedRateLimiter keeps one token bucket per caller key. Buckets idle for longer than
// rateLimiterIdleTTL are dropped on the next insert.
type keyedRateLimiter struct {
	limit rate.Limit
	burst int
	clock func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedRateLimiter(perMinute int, clock func() time.Time) rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	burst := perMinute / 4
	if burst < 1 {
		burst = 1
	}
	return &keyedRateLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		l.pruneIdleLocked(now)
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *keyedRateLimiter) pruneIdleLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > rateLimiterIdleTTL {
			delete(l.buckets, key)
		}
	}
}

// RateLimitKey extracts the bucket key for a request.
type RateLimitKey func(r *http.Request) string

// NewRateLimitMiddleware rejects callers exceeding perMinute requests with 429. A non-positive
// limit disables limiting.
func NewRateLimitMiddleware(perMinute int, key RateLimitKey) func(http.Handler) http.Handler {
	return rateLimitMiddleware(newKeyedRateLimiter(perMinute, nil), key)
}

func rateLimitMiddleware(limiter rateLimiter, key RateLimitKey) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIPKey
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(key(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests).WithRetryAfter(time.Minute))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKey buckets by remote address. RealIP middleware should run first.
func ClientIPKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// IdentityKey buckets by authenticated user, falling back to the client address.
func IdentityKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return "uid:" + identity.UID
	}
	return ClientIPKey(r)
}

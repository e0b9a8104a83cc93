package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/darkden-lab/lineside/internal/httputil"
)

// limiterTTL is how long an idle client keeps its token bucket.
const limiterTTL = 3 * time.Minute

// ipLimiter holds a rate limiter and the last time it was accessed.
type ipLimiter struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (l *ipLimiter) touch(now time.Time) {
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
}

func (l *ipLimiter) idleSince(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastSeen)
}

// limitClass is one family of requests sharing a per-client bucket.
type limitClass struct {
	name  string
	rps   float64
	burst int
}

// RateLimiter enforces per-client token buckets. Browsing requests share
// one bucket per client; with WithWriteLimit, uploads and plugin actions
// draw from a second, usually stricter bucket, so a client pushing files
// cannot starve its own page loads. Stop ends the background eviction of
// idle clients.
type RateLimiter struct {
	limiters sync.Map // class + "|" + ip -> *ipLimiter
	read     limitClass
	write    *limitClass
	stopOnce sync.Once
	stopCh   chan struct{}
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithWriteLimit gives non-GET/HEAD/OPTIONS requests their own bucket.
func WithWriteLimit(rps float64, burst int) RateLimitOption {
	return func(rl *RateLimiter) {
		rl.write = &limitClass{name: "write", rps: rps, burst: max(burst, 1)}
	}
}

// NewRateLimiter allows rps sustained requests per second per client with
// bursts up to burst.
func NewRateLimiter(rps float64, burst int, opts ...RateLimitOption) *RateLimiter {
	rl := &RateLimiter{
		read:   limitClass{name: "read", rps: rps, burst: max(burst, 1)},
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) classFor(r *http.Request) limitClass {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return rl.read
	}
	if rl.write != nil {
		return *rl.write
	}
	return rl.read
}

// getLimiter returns the bucket of class c for ip, creating one if needed.
func (rl *RateLimiter) getLimiter(c limitClass, ip string) *rate.Limiter {
	now := time.Now()
	key := c.name + "|" + ip

	if v, ok := rl.limiters.Load(key); ok {
		entry := v.(*ipLimiter)
		entry.touch(now)
		return entry.limiter
	}

	entry := &ipLimiter{limiter: rate.NewLimiter(rate.Limit(c.rps), c.burst), lastSeen: now}
	actual, loaded := rl.limiters.LoadOrStore(key, entry)
	if loaded {
		existing := actual.(*ipLimiter)
		existing.touch(now)
		return existing.limiter
	}
	return entry.limiter
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			rl.limiters.Range(func(key, value any) bool {
				if value.(*ipLimiter).idleSince(now) > limiterTTL {
					rl.limiters.Delete(key)
				}
				return true
			})
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware rejects requests over the limit with 429. Websocket upgrades
// are exempt since a socket is long-lived and counted once on connect.
func (rl *RateLimiter) Middleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}
			c := rl.classFor(r)
			if !rl.getLimiter(c, clientIP(r)).Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(c.rps)))
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(rps float64) int {
	if rps <= 0 || rps >= 1 {
		return 1
	}
	return int(1/rps + 0.5)
}

// clientIP is the peer address of the connection. X-Forwarded-For is
// ignored since any client can set it.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port.
		return r.RemoteAddr
	}
	return ip
}

package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// authorize checks the Authorization header against secret in constant time.
// It writes the error response and returns false when the request must stop.
func authorize(w http.ResponseWriter, r *http.Request, secret string) bool {
	got := r.Header.Get("Authorization")
	if got == "" {
		respondError(w, http.StatusBadRequest, "missing authorization header")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		respondError(w, http.StatusUnauthorized, "invalid authorization")
		return false
	}
	return true
}

// requireSecret guards a route group with the shared control secret.
func requireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authorize(w, r, secret) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireStreamSecret is requireSecret for WebSocket upgrades. Browsers cannot
// set headers on an upgrade, so the secret may also arrive as ?token=.
func requireStreamSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				if token := r.URL.Query().Get("token"); token != "" {
					r.Header.Set("Authorization", token)
				}
			}
			if !authorize(w, r, secret) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter applies a token bucket per client address.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

// NewIPLimiter allows perSecond requests per address with the given burst.
// A non-positive rate disables limiting.
func NewIPLimiter(perSecond float64, burst int) *IPLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &IPLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

func (l *IPLimiter) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	v, ok := l.visitors[addr]
	if !ok {
		if len(l.visitors) >= 10000 {
			l.prune(now)
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[addr] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *IPLimiter) prune(now time.Time) {
	for addr, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, addr)
		}
	}
}

// Middleware rejects requests over the limit with 429. It expects RemoteAddr
// to have been resolved by middleware.RealIP.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := r.RemoteAddr
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
		if !l.allow(addr) {
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

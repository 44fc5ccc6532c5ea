package limiter

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/itstheanurag/codesandbox/internal/metrics"
	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a global rate, a per-client rate and a cap on
// submissions in flight.
type RateLimiter struct {
	globalLimiter *rate.Limiter
	clientRate    rate.Limit
	clientBurst   int
	maxConcurrent int64
	trustProxy    bool

	mu          sync.Mutex
	clients     map[string]*clientLimiter
	currentConc int64
	now         func() time.Time
}

func NewRateLimiter(globalRPS float64, clientRPS float64, clientBurst int, maxConcurrent int) *RateLimiter {
	return &RateLimiter{
		globalLimiter: rate.NewLimiter(rate.Limit(globalRPS), max(1, int(globalRPS)*2)),
		clientRate:    rate.Limit(clientRPS),
		clientBurst:   clientBurst,
		maxConcurrent: int64(maxConcurrent),
		clients:       make(map[string]*clientLimiter),
		now:           time.Now,
	}
}

// SetTrustProxy makes the middleware key clients on X-Forwarded-For. Only
// enable it when a proxy in front overwrites that header.
func (rl *RateLimiter) SetTrustProxy(trust bool) {
	rl.trustProxy = trust
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.clientRate, rl.clientBurst)}
		rl.clients[key] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}

// Allow admits one submission. Every true result must be paired with Done.
func (rl *RateLimiter) Allow(client string) bool {
	if !rl.globalLimiter.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.limiterFor(client).Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	if rl.currentConc >= rl.maxConcurrent {
		metrics.RateLimitHits.Inc()
		return false
	}
	rl.currentConc++
	return true
}

func (rl *RateLimiter) Done() {
	rl.mu.Lock()
	if rl.currentConc > 0 {
		rl.currentConc--
	}
	rl.mu.Unlock()
}

func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientKey(r, rl.trustProxy)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		defer rl.Done()

		next(w, r)
	}
}

// ClientKey identifies the caller by its remote host. With trustProxy the
// first X-Forwarded-For hop wins when present.
func ClientKey(r *http.Request, trustProxy bool) string {
	if fwd := r.Header.Get("X-Forwarded-For"); trustProxy && fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Evict drops client limiters idle for longer than idle and returns how many
// were removed.
func (rl *RateLimiter) Evict(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idle)
	n := 0
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			n++
		}
	}
	return n
}

// StartCleanup evicts idle client limiters every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Evict(interval)
			case <-ctx.Done():
				return
			}
		}
	}()
}

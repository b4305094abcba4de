// Package middleware provides HTTP middleware for the registry API.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuidalink/service-registry/internal/app/system"
	"github.com/cuidalink/service-registry/pkg/logger"
)

var _ system.Service = (*RateLimiter)(nil)

// RateLimiter applies a per-client token bucket keyed by remote address.
// Start launches a janitor that evicts idle clients so the per-client map
// stays bounded.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	rate     rate.Limit
	burst    int
	log      *logger.Logger

	sweepInterval time.Duration
	maxIdle       time.Duration

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained with
// the given burst per client.
func NewRateLimiter(requestsPerSecond, burst int, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	return &RateLimiter{
		limiters:      make(map[string]*clientLimiter),
		rate:          rate.Limit(requestsPerSecond),
		burst:         burst,
		log:           log,
		sweepInterval: time.Minute,
		maxIdle:       10 * time.Minute,
	}
}

// WithCleanupPolicy overrides how often the janitor sweeps and how long a
// client may stay idle before eviction. Call before Start.
func (rl *RateLimiter) WithCleanupPolicy(sweepInterval, maxIdle time.Duration) {
	if sweepInterval > 0 {
		rl.sweepInterval = sweepInterval
	}
	if maxIdle > 0 {
		rl.maxIdle = maxIdle
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter
}

// Handler returns the rate limiting middleware.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.getLimiter(key).Allow() {
			rl.log.WithField("client", key).
				WithField("path", r.URL.Path).
				Warn("rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) Name() string { return "ratelimit-janitor" }

// Start launches the periodic idle-client sweep.
func (rl *RateLimiter) Start(ctx context.Context) error {
	rl.lifecycleMu.Lock()
	if rl.running {
		rl.lifecycleMu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	rl.cancel = cancel
	rl.running = true
	rl.lifecycleMu.Unlock()

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		ticker := time.NewTicker(rl.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				rl.Cleanup(rl.maxIdle)
			}
		}
	}()
	return nil
}

// Stop halts the sweep.
func (rl *RateLimiter) Stop(ctx context.Context) error {
	rl.lifecycleMu.Lock()
	if !rl.running {
		rl.lifecycleMu.Unlock()
		return nil
	}
	cancel := rl.cancel
	rl.running = false
	rl.cancel = nil
	rl.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		rl.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Cleanup drops limiters idle longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for key, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

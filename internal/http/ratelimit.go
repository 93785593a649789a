package http

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/qreview/internal/apperrors"
	"github.com/sujalbistaa/qreview/internal/logging"
	"github.com/sujalbistaa/qreview/internal/monitoring"
)

// Budget is a per-IP allowance of Max requests per Window.
type Budget struct {
	Name    string
	Max     int
	Window  time.Duration
	Message string
}

var (
	APIBudget = Budget{
		Name:    "api",
		Max:     100,
		Window:  15 * time.Minute,
		Message: "Too many requests, please try again later.",
	}
	SubmitBudget = Budget{
		Name:    "submit",
		Max:     10,
		Window:  time.Hour,
		Message: "Too many reviews submitted. Please try again later.",
	}
	RegistryBudget = Budget{
		Name:    "registry",
		Max:     30,
		Window:  15 * time.Minute,
		Message: "Too many SIRET verification attempts.",
	}
	LoginBudget = Budget{
		Name:    "login",
		Max:     10,
		Window:  15 * time.Minute,
		Message: "Too many login attempts. Please try again later.",
	}
)

const visitorSweepInterval = 10 * time.Minute

// IPRateLimiter admits at most Max requests per client IP within any
// trailing Window. Each visitor keeps the timestamps of its admitted
// requests, oldest first.
type IPRateLimiter struct {
	visitors map[string][]time.Time
	mu       sync.Mutex
	budget   Budget
	metrics  *monitoring.Metrics
	now      func() time.Time
}

func NewIPRateLimiter(b Budget, metrics *monitoring.Metrics) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string][]time.Time),
		budget:   b,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Allow records a request from ip when the budget has room. Otherwise it
// returns the wait until the oldest hit leaves the window.
func (rl *IPRateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	hits := rl.prune(rl.visitors[ip], now)
	if len(hits) >= rl.budget.Max {
		rl.visitors[ip] = hits
		return false, hits[0].Add(rl.budget.Window).Sub(now)
	}
	rl.visitors[ip] = append(hits, now)
	return true, 0
}

// prune drops hits that are no longer inside the window ending at now.
func (rl *IPRateLimiter) prune(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rl.budget.Window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// Sweep forgets visitors with no hit left in the window; a fresh entry
// would behave the same.
func (rl *IPRateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	removed := 0
	for ip, hits := range rl.visitors {
		hits = rl.prune(hits, now)
		if len(hits) == 0 {
			delete(rl.visitors, ip)
			removed++
			continue
		}
		rl.visitors[ip] = hits
	}
	return removed
}

// Run sweeps periodically until ctx is done.
func (rl *IPRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}

// Middleware rejects over-budget clients with 429 and a Retry-After header.
func (rl *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		ok, wait := rl.Allow(ip)
		if ok {
			c.Next()
			return
		}

		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		rl.metrics.RateLimited(rl.budget.Name)
		logging.LogSecurityEvent("rate_limited", ip, rl.budget.Name)
		abortWithError(c, apperrors.NewRateLimited(rl.budget.Message))
	}
}

// retryAfterSeconds rounds wait up to whole seconds, at least 1.
func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

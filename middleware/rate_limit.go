package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientLimit tracks the token bucket of one client IP
type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles manual task runs per client IP
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
	every   time.Duration
	burst   int
	idle    time.Duration
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing one request per every, with
// bursts of up to burst requests. Clients idle longer than idle are forgotten.
func NewRateLimiter(every time.Duration, burst int, idle time.Duration) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
		every:   every,
		burst:   burst,
		idle:    idle,
		now:     time.Now,
	}
}

// Allow reports whether ip may make a request now, and if not, how long it
// should wait.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.cleanup(now)

	client, ok := rl.clients[ip]
	if !ok {
		client = &clientLimit{limiter: rate.NewLimiter(rate.Every(rl.every), rl.burst)}
		rl.clients[ip] = client
	}
	client.lastSeen = now

	res := client.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// cleanup drops clients idle for longer than the idle window
func (rl *RateLimiter) cleanup(now time.Time) {
	if rl.idle <= 0 {
		return
	}
	for ip, client := range rl.clients {
		if now.Sub(client.lastSeen) > rl.idle {
			delete(rl.clients, ip)
		}
	}
}

// RateLimit rejects requests over the limit with 429
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, wait := rl.Allow(c.ClientIP())
		if !allowed {
			seconds := int(wait.Seconds() + 0.999)
			c.Header("Retry-After", fmt.Sprintf("%d", seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": formatRateLimitError(seconds),
			})
			return
		}
		c.Next()
	}
}

// formatRateLimitError formats the rate limit error message
func formatRateLimitError(seconds int) string {
	if seconds >= 60 {
		return fmt.Sprintf("Too many task runs. Please try again in %d minute(s) and %d second(s).", seconds/60, seconds%60)
	}
	return fmt.Sprintf("Too many task runs. Please try again in %d second(s).", seconds)
}

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// maxTrackedClients caps the rate limiter's memory: once more client IPs
// than this are tracked, expired windows are pruned eagerly.
const maxTrackedClients = 10000

type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window per-client-IP request limiter.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*rateWindow
	now     func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow records a request from ip and reports whether it is within the
// current window's budget.
func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients[ip]
	if !ok || now.Sub(w.start) >= l.window {
		if len(l.clients) > maxTrackedClients {
			l.prune(now)
		}
		l.clients[ip] = &rateWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.limit
}

// prune drops every client whose window has expired. Caller holds l.mu.
func (l *RateLimiter) prune(now time.Time) {
	for ip, w := range l.clients {
		if now.Sub(w.start) >= l.window {
			delete(l.clients, ip)
		}
	}
}

// Middleware rejects over-limit clients with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded, retry later"})
			c.Abort()
			return
		}
		c.Next()
	}
}

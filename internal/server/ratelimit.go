package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// turnLimiter bounds turn throughput globally and per conversation. A
// runaway client replaying one conversation cannot starve the rest.
type turnLimiter struct {
	global *rate.Limiter

	mu             sync.Mutex
	perClient      map[string]*rate.Limiter
	clientRate     rate.Limit
	clientBurst    int
	maxClientSlots int
}

func newTurnLimiter(globalPerSecond, clientPerSecond float64, burst int) *turnLimiter {
	return &turnLimiter{
		global:         rate.NewLimiter(rate.Limit(globalPerSecond), burst*4),
		perClient:      make(map[string]*rate.Limiter),
		clientRate:     rate.Limit(clientPerSecond),
		clientBurst:    burst,
		maxClientSlots: 10000,
	}
}

func (tl *turnLimiter) allow(clientID string) bool {
	if !tl.global.Allow() {
		return false
	}
	return tl.clientLimiter(clientID).Allow()
}

func (tl *turnLimiter) clientLimiter(clientID string) *rate.Limiter {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if l, ok := tl.perClient[clientID]; ok {
		return l
	}
	// Drop all per-client state past the cap rather than tracking an
	// unbounded key set.
	if len(tl.perClient) >= tl.maxClientSlots {
		tl.perClient = make(map[string]*rate.Limiter)
	}
	l := rate.NewLimiter(tl.clientRate, tl.clientBurst)
	tl.perClient[clientID] = l
	return l
}

// rateLimitMiddleware keys limits by conversation id when the request
// carries one, falling back to the caller's address.
func rateLimitMiddleware(tl *turnLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader("X-Conversation-ID")
		if clientID == "" {
			clientID = c.ClientIP()
		}
		if !tl.allow(clientID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				errorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

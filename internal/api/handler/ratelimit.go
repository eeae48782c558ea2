package handler

import (
	"net/http"
	"sync"
	"time"

	"studentsupport/backend/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a user's bucket survives without requests. A
// bucket refills completely within a minute, so dropping it loses nothing.
const limiterIdleTTL = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// userLimiter keeps one token bucket per user and evicts idle ones.
type userLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		perMinute = config.DefaultChatPerMinute
	}
	return &userLimiter{
		buckets:   make(map[string]*bucket),
		limit:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:     perMinute,
		idleTTL:   limiterIdleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *userLimiter) allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// sweep drops buckets idle for longer than idleTTL. l.mu must be held.
func (l *userLimiter) sweep(now time.Time) {
	for id, b := range l.buckets {
		if now.Sub(b.seen) > l.idleTTL {
			delete(l.buckets, id)
		}
	}
	l.lastSweep = now
}

// Middleware rejects requests over the caller's budget with 429. It must run
// after AuthMiddleware.
func (l *userLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user != nil && !l.allow(user.ID) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many messages, slow down"})
			return
		}
		c.Next()
	}
}

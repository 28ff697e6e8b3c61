package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// maxGuardVisitors bounds the visitor map between cleanup ticks.
const maxGuardVisitors = 100_000

// IPGuard throttles requests per peer address before any credential lookup
// happens. It protects the stores from unauthenticated floods and is
// independent of the per-credential windows. The key is gin's ClientIP, so
// forwarding headers only count when the engine trusts the sending proxy.
type IPGuard struct {
	visitors    map[string]*visitor
	maxVisitors int
	mu          sync.Mutex
	rate        rate.Limit
	burst       int
	idle        time.Duration
	log         *slog.Logger
	done        chan struct{}
	stopped     chan struct{}
	stopOnce    sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPGuard returns a guard allowing rps requests per second with the given
// burst. Visitors idle for longer than idle are dropped every cleanup tick.
func NewIPGuard(rps float64, burst int, idle, cleanup time.Duration, log *slog.Logger) *IPGuard {
	if burst < 1 {
		burst = 1
	}
	if idle <= 0 {
		idle = 3 * time.Minute
	}
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	g := &IPGuard{
		visitors:    make(map[string]*visitor),
		maxVisitors: maxGuardVisitors,
		rate:        rate.Limit(rps),
		burst:       burst,
		idle:        idle,
		log:         log,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go g.cleanupVisitors(cleanup)
	return g
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (g *IPGuard) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
	})
	<-g.stopped
}

// getVisitor returns nil when the map is full and ip is new; such requests
// pass through to the gateway's own limits.
func (g *IPGuard) getVisitor(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.visitors[ip]
	if !ok {
		if len(g.visitors) >= g.maxVisitors {
			return nil
		}
		limiter := rate.NewLimiter(g.rate, g.burst)
		g.visitors[ip] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (g *IPGuard) cleanupVisitors(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(g.stopped)

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.prune(time.Now())
		}
	}
}

func (g *IPGuard) prune(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for ip, v := range g.visitors {
		if now.Sub(v.lastSeen) > g.idle {
			delete(g.visitors, ip)
			removed++
		}
	}
	return removed
}

func (g *IPGuard) Visitors() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.visitors)
}

func (g *IPGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}
		if l := g.getVisitor(ip); l != nil && !l.Allow() {
			g.log.Warn("ip guard exceeded", "ip", ip, "path", c.Request.URL.Path)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

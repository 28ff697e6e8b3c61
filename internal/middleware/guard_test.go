package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ebs-gateway/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuardRouter(t *testing.T, g *IPGuard, trusted []string) *gin.Engine {
	t.Helper()
	r := gin.New()
	require.NoError(t, r.SetTrustedProxies(trusted))
	r.Use(g.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func guardRequest(r *gin.Engine, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIPGuard(t *testing.T) {
	g := NewIPGuard(0.001, 2, time.Minute, time.Hour, logger.Discard())
	t.Cleanup(g.Stop)
	r := newGuardRouter(t, g, nil)

	assert.Equal(t, http.StatusNoContent, guardRequest(r, "10.0.0.1:4000", nil).Code)
	assert.Equal(t, http.StatusNoContent, guardRequest(r, "10.0.0.1:4001", nil).Code)

	w := guardRequest(r, "10.0.0.1:4002", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too Many Requests"}`, w.Body.String())

	assert.Equal(t, http.StatusNoContent, guardRequest(r, "10.0.0.2:4000", nil).Code, "other hosts have their own bucket")
	assert.Equal(t, 2, g.Visitors())
}

func TestIPGuard_DistinctHostsWithoutProxyHeaders(t *testing.T) {
	g := NewIPGuard(50, 100, time.Minute, time.Hour, logger.Discard())
	t.Cleanup(g.Stop)
	r := newGuardRouter(t, g, nil)

	rejected := 0
	for i := range 150 {
		addr := fmt.Sprintf("198.51.%d.%d:5000", i/250, i%250+1)
		if guardRequest(r, addr, nil).Code == http.StatusTooManyRequests {
			rejected++
		}
	}
	assert.Zero(t, rejected)
	assert.Equal(t, 150, g.Visitors())
}

func TestIPGuard_IgnoresForwardingHeadersFromUntrustedPeers(t *testing.T) {
	g := NewIPGuard(0.001, 5, time.Minute, time.Hour, logger.Discard())
	t.Cleanup(g.Stop)
	r := newGuardRouter(t, g, nil)

	rejected := 0
	for i := range 50 {
		w := guardRequest(r, "203.0.113.9:6000", map[string]string{
			"X-Forwarded-For": fmt.Sprintf("10.1.0.%d", i+1),
			"X-Real-IP":       fmt.Sprintf("10.2.0.%d", i+1),
		})
		if w.Code == http.StatusTooManyRequests {
			rejected++
		}
	}
	assert.Equal(t, 45, rejected)
	assert.Equal(t, 1, g.Visitors())
}

func TestIPGuard_TrustedProxyForwardsClientAddress(t *testing.T) {
	g := NewIPGuard(0.001, 1, time.Minute, time.Hour, logger.Discard())
	t.Cleanup(g.Stop)
	r := newGuardRouter(t, g, []string{"10.0.0.0/8"})

	via := func(client string) int {
		return guardRequest(r, "10.0.0.5:7000", map[string]string{"X-Forwarded-For": client}).Code
	}
	assert.Equal(t, http.StatusNoContent, via("198.51.100.1"))
	assert.Equal(t, http.StatusNoContent, via("198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, via("198.51.100.1"))
	assert.Equal(t, 2, g.Visitors())
}

func TestIPGuard_FullVisitorMapPassesThrough(t *testing.T) {
	g := NewIPGuard(0.001, 1, time.Minute, time.Hour, logger.Discard())
	t.Cleanup(g.Stop)
	g.maxVisitors = 2
	r := newGuardRouter(t, g, nil)

	assert.Equal(t, http.StatusNoContent, guardRequest(r, "192.0.2.1:1", nil).Code)
	assert.Equal(t, http.StatusNoContent, guardRequest(r, "192.0.2.2:1", nil).Code)
	for range 3 {
		assert.Equal(t, http.StatusNoContent, guardRequest(r, "192.0.2.3:1", nil).Code)
	}
	assert.Equal(t, 2, g.Visitors())
	assert.Equal(t, http.StatusTooManyRequests, guardRequest(r, "192.0.2.1:1", nil).Code)
}

func TestIPGuard_Prune(t *testing.T) {
	g := NewIPGuard(10, 10, time.Minute, time.Hour, logger.Discard())
	g.getVisitor("10.0.0.1")

	assert.Equal(t, 0, g.prune(time.Now()))
	assert.Equal(t, 1, g.prune(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, g.Visitors())

	g.Stop()
	g.Stop()
}

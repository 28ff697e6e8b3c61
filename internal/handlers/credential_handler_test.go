package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ebs-gateway/internal/logger"
	"ebs-gateway/internal/middleware"
	"ebs-gateway/internal/services"
	"ebs-gateway/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invalidations struct {
	mu  sync.Mutex
	ids []int64
}

func (i *invalidations) Invalidate(_ context.Context, id int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ids = append(i.ids, id)
	return nil
}

type fakeStats struct {
	totals map[string]int64
	err    error
}

func (f fakeStats) Totals(context.Context) (map[string]int64, error) {
	return f.totals, f.err
}

type adminFixture struct {
	router      *gin.Engine
	token       string
	invalidated *invalidations
}

func newAdminFixture(t *testing.T, stats StatsReader) *adminFixture {
	t.Helper()
	hash, err := services.HashPassword("s3cret")
	require.NoError(t, err)

	auth := services.NewAuthService("admin", hash, "jwt-secret", time.Hour)
	inv := &invalidations{}
	h := NewCredentialHandler(services.NewAdminService(testutil.NewSQLite(t), inv), auth, stats, logger.Discard())

	r := gin.New()
	r.Use(middleware.ValidationMiddleware())
	r.POST("/admin/login", h.Login)
	admin := r.Group("/admin", middleware.AdminAuth(auth))
	admin.POST("/credentials", h.CreateCredential)
	admin.GET("/credentials/:id", h.GetCredential)
	admin.PATCH("/credentials/:id", h.UpdateCredential)
	admin.PUT("/credentials/:id/limits", h.ReplaceLimits)
	admin.PUT("/credentials/:id/ips", h.ReplaceIPs)
	admin.GET("/stats", h.GetStats)

	f := &adminFixture{router: r, invalidated: inv}

	w := f.do(t, http.MethodPost, "/admin/login", `{"username":"admin","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	f.token = login.Token
	return f
}

func (f *adminFixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newAdminFixture(t, nil)
	f.token = ""
	w := f.do(t, http.MethodPost, "/admin/login", `{"username":"admin","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/admin/credentials/1", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCredentialLifecycle(t *testing.T) {
	f := newAdminFixture(t, nil)
	expires := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)

	w := f.do(t, http.MethodPost, "/admin/credentials",
		`{"user_id":100,"name":"dashboard","expires_at":"`+expires+`","limits":[{"route_prefix":"/api/v1/","per_min":30}],"ips":["10.0.0.%"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created services.CredentialView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.SecretKey)
	assert.Equal(t, "active", created.Status)
	assert.Equal(t, []services.LimitInput{{RoutePrefix: "/api/v1", PerMin: 30}}, created.Limits)
	assert.Equal(t, []string{"10.0.0.%"}, created.IPs)

	target := "/admin/credentials/" + jsonNumber(created.ID)

	w = f.do(t, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code)
	var fetched services.CredentialView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Empty(t, fetched.SecretKey, "secret is only returned on create")
	assert.Equal(t, created.ClientKey, fetched.ClientKey)

	w = f.do(t, http.MethodPatch, target, `{"status":"suspended"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"suspended"`)

	w = f.do(t, http.MethodPut, target+"/limits", `[{"route_prefix":"*","per_min":5}]`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"route_prefix":"*"`)

	w = f.do(t, http.MethodPut, target+"/ips", `{"ips":[]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ips":[]`)

	assert.Equal(t, []int64{created.ID, created.ID, created.ID}, f.invalidated.ids)
}

func TestCredentialErrors(t *testing.T) {
	f := newAdminFixture(t, nil)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"bad id", http.MethodGet, "/admin/credentials/abc", "", http.StatusBadRequest},
		{"missing", http.MethodGet, "/admin/credentials/42", "", http.StatusNotFound},
		{"patch missing", http.MethodPatch, "/admin/credentials/42", `{"status":"revoked"}`, http.StatusNotFound},
		{"bad status", http.MethodPatch, "/admin/credentials/42", `{"status":"paused"}`, http.StatusBadRequest},
		{"bad limits", http.MethodPut, "/admin/credentials/42/limits", `[{"route_prefix":"api","per_min":1}]`, http.StatusBadRequest},
		{"limits missing", http.MethodPut, "/admin/credentials/42/limits", `[]`, http.StatusNotFound},
		{"create without user", http.MethodPost, "/admin/credentials", `{"expires_at":"2099-01-01T00:00:00Z"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/admin/credentials", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, f.invalidated.ids)
}

func TestGetStats(t *testing.T) {
	f := newAdminFixture(t, nil)
	w := f.do(t, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	f = newAdminFixture(t, fakeStats{totals: map[string]int64{"allowed": 3}})
	w = f.do(t, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"ok","data":{"allowed":3}}`, w.Body.String())

	f = newAdminFixture(t, fakeStats{err: errors.New("down")})
	w = f.do(t, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func jsonNumber(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

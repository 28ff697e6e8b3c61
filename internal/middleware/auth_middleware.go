package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ebs-gateway/internal/gateway"
	"ebs-gateway/internal/services"

	"github.com/gin-gonic/gin"
)

// ActorKey is the gin context key holding the *gateway.Actor.
const ActorKey = "actor"

type GatewayOptions struct {
	ClientHeader string
	SecretHeader string
	// APIKeyHeader, when set, names a single header carrying
	// "client_key:secret_key".
	APIKeyHeader string

	AllowQueryParams bool
}

func (o GatewayOptions) withDefaults() GatewayOptions {
	if o.ClientHeader == "" {
		o.ClientHeader = "x-client-key"
	}
	if o.SecretHeader == "" {
		o.SecretHeader = "x-secret-key"
	}
	return o
}

// Authorizer is the part of the gateway the middleware drives.
type Authorizer interface {
	Authorize(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// GatewayMiddleware authenticates the request, applies the IP and rate-limit
// policies and attaches the actor for downstream handlers.
func GatewayMiddleware(gw Authorizer, opts GatewayOptions) gin.HandlerFunc {
	opts = opts.withDefaults()

	return func(c *gin.Context) {
		clientKey, secretKey := credentialsFrom(c, opts)
		ip := SourceIP(c.Request)

		res, err := gw.Authorize(c.Request.Context(), gateway.Request{
			ClientKey: clientKey,
			SecretKey: secretKey,
			SourceIP:  ip,
			Path:      c.Request.URL.Path,
		})
		if res != nil && res.Decision != nil {
			setRateLimitHeaders(c, res.Decision)
		}
		if err != nil {
			abortWithGatewayError(c, err, ip)
			return
		}

		c.Set(ActorKey, res.Actor)
		c.Request = c.Request.WithContext(gateway.WithActor(c.Request.Context(), res.Actor))

		c.Next()
	}
}

func credentialsFrom(c *gin.Context, opts GatewayOptions) (string, string) {
	clientKey := strings.TrimSpace(c.GetHeader(opts.ClientHeader))
	secretKey := strings.TrimSpace(c.GetHeader(opts.SecretHeader))

	if opts.APIKeyHeader != "" && (clientKey == "" || secretKey == "") {
		if ck, sk, ok := strings.Cut(strings.TrimSpace(c.GetHeader(opts.APIKeyHeader)), ":"); ok {
			clientKey, secretKey = strings.TrimSpace(ck), strings.TrimSpace(sk)
		}
	}

	if opts.AllowQueryParams {
		if clientKey == "" {
			clientKey = c.Query("client_key")
		}
		if secretKey == "" {
			secretKey = c.Query("secret_key")
		}
	}
	return clientKey, secretKey
}

func setRateLimitHeaders(c *gin.Context, d *gateway.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.Itoa(d.ResetSeconds))
	c.Header("X-RateLimit-Policy", d.Policy)
	if !d.Allowed {
		c.Header("Retry-After", strconv.Itoa(d.ResetSeconds))
	}
}

func abortWithGatewayError(c *gin.Context, err error, ip string) {
	body := gin.H{"error": gateway.Message(err)}
	if errors.Is(err, gateway.ErrIPNotAllowed) {
		body["ip"] = ip
	}
	c.AbortWithStatusJSON(gateway.StatusCode(err), body)
}

// SourceIP returns the first X-Forwarded-For entry, else X-Real-IP, else
// gateway.UnknownIP. The socket address is deliberately not consulted.
func SourceIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		if ip := normalizeIP(first); ip != "" {
			return ip
		}
	}
	if xr := normalizeIP(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	return gateway.UnknownIP
}

func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	switch {
	case ip == "::1":
		return "127.0.0.1"
	case strings.HasPrefix(ip, "::ffff:"):
		return ip[len("::ffff:"):]
	}
	return ip
}

// ActorFrom returns the actor attached by GatewayMiddleware.
func ActorFrom(c *gin.Context) (*gateway.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return gateway.ActorFromContext(c.Request.Context())
	}
	a, ok := v.(*gateway.Actor)
	return a, ok && a != nil
}

// AdminAuth requires a valid admin bearer token.
func AdminAuth(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set("admin", claims.Username)
		c.Next()
	}
}

func ValidationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Content-Type validation for requests with a body
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			contentType := c.GetHeader("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Content-Type must be application/json"})
				return
			}
		}
		c.Next()
	}
}

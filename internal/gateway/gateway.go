// Package gateway authenticates API credentials, applies IP allowlists and
// fixed-window rate limits, and resolves the caller's data scope.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"ebs-gateway/internal/metrics"
	"ebs-gateway/internal/scope"
)

// ScopeResolver maps a user to an organizer code and data scope.
type ScopeResolver interface {
	Resolve(ctx context.Context, userID int64) (string, scope.Scope, error)
}

type Config struct {
	CredentialTTL    time.Duration
	PolicyTTL        time.Duration
	DefaultPerMinute int
	CounterGrace     time.Duration
}

// DefaultConfig matches the production defaults.
func DefaultConfig() Config {
	return Config{
		CredentialTTL:    time.Minute,
		PolicyTTL:        time.Minute,
		DefaultPerMinute: 120,
		CounterGrace:     1500 * time.Millisecond,
	}
}

type Option func(*Gateway)

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithObservers(obs ...Observer) Option {
	return func(g *Gateway) { g.observers = append(g.observers, obs...) }
}

// Gateway owns the credential cache, policy cache and rate counters of one
// process.
type Gateway struct {
	credentials *CredentialCache
	policies    *PolicyCache
	limiter     *Limiter
	resolver    ScopeResolver

	now       func() time.Time
	log       *slog.Logger
	metrics   *metrics.Metrics
	observers []Observer
}

func New(cfg Config, creds CredentialStore, policies PolicyStore, resolver ScopeResolver, tasks Dispatcher, opts ...Option) *Gateway {
	g := &Gateway{
		resolver: resolver,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.credentials = NewCredentialCache(creds, tasks, cfg.CredentialTTL, g.now, g.metrics)
	g.policies = NewPolicyCache(policies, cfg.PolicyTTL, g.metrics)
	g.limiter = NewLimiter(cfg.DefaultPerMinute, cfg.CounterGrace)
	return g
}

// Request is the credential material and routing data of one inbound request.
type Request struct {
	ClientKey string
	SecretKey string
	SourceIP  string
	Path      string
}

// Result carries the outcome of Authorize. Decision is set whenever the rate
// limiter was consulted, including on ErrRateLimited. Actor is set only when
// the request is allowed.
type Result struct {
	Actor    *Actor
	Decision *Decision
}

// Authorize runs the credential, IP, rate-limit and scope checks in order and
// stops at the first failure.
func (g *Gateway) Authorize(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}
	ev := Event{At: g.now(), ClientKey: req.ClientKey, Path: req.Path, SourceIP: req.SourceIP}

	err := g.authorize(ctx, req, res, &ev)
	ev.Outcome = Outcome(err)
	if res.Decision != nil {
		ev.Policy = res.Decision.Policy
		ev.Remaining = res.Decision.Remaining
	}
	g.metrics.RecordDecision(ev.Outcome)
	for _, o := range g.observers {
		o.Observe(ev)
	}

	switch {
	case err == nil:
	case StatusCode(err) >= 500:
		g.log.Error("gateway lookup failed", "path", req.Path, "client_key", req.ClientKey, "error", err)
	default:
		g.log.Debug("request rejected", "path", req.Path, "client_key", req.ClientKey, "ip", req.SourceIP, "outcome", ev.Outcome)
	}
	return res, err
}

func (g *Gateway) authorize(ctx context.Context, req Request, res *Result, ev *Event) error {
	if req.ClientKey == "" || req.SecretKey == "" {
		return ErrMissingCredential
	}

	pass, err := g.credentials.Resolve(ctx, req.ClientKey, req.SecretKey)
	if err != nil {
		return err
	}
	ev.CredentialID = pass.CredentialID

	policy, err := g.policies.Get(ctx, pass.CredentialID)
	if err != nil {
		return err
	}
	if !IPAllowed(policy.IPs, req.SourceIP) {
		return ErrIPNotAllowed
	}

	decision, err := g.limiter.Decide(pass.CredentialID, req.Path, policy.Limits, g.now())
	if err != nil {
		return err
	}
	res.Decision = &decision
	if !decision.Allowed {
		return ErrRateLimited
	}

	organizer, sc, err := g.resolver.Resolve(ctx, pass.UserID)
	if err != nil {
		return upstream("user store", err)
	}
	res.Actor = &Actor{
		UserID:       pass.UserID,
		CredentialID: pass.CredentialID,
		ClientKey:    req.ClientKey,
		SourceIP:     req.SourceIP,
		Organizer:    organizer,
		Scope:        sc,
	}
	return nil
}

// Forget drops every cached entry of credentialID so the next request reloads
// it from the stores.
func (g *Gateway) Forget(credentialID int64) {
	g.credentials.Forget(credentialID)
	g.policies.Forget(credentialID)
	g.metrics.RecordInvalidation()
}

// Sweep removes expired rate counters and returns how many were removed.
func (g *Gateway) Sweep() int {
	n := g.limiter.Sweep(g.now())
	g.metrics.SetRateCounters(g.limiter.Len())
	return n
}

// Counters returns the number of live rate counters.
func (g *Gateway) Counters() int {
	return g.limiter.Len()
}

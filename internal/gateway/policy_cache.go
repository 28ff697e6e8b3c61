package gateway

import (
	"context"
	"strconv"
	"time"

	"ebs-gateway/internal/metrics"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// PolicyCache memoizes the limit rules and IP rules of each credential.
type PolicyCache struct {
	store   PolicyStore
	ttl     time.Duration
	metrics *metrics.Metrics

	policies *cache.Cache
	group    singleflight.Group
}

func NewPolicyCache(store PolicyStore, ttl time.Duration, m *metrics.Metrics) *PolicyCache {
	return &PolicyCache{
		store:    store,
		ttl:      ttl,
		metrics:  m,
		policies: cache.New(ttl, 2*ttl),
	}
}

// Get returns the policy of credentialID. Both rule sets are loaded together
// so a single entry never mixes generations.
func (c *PolicyCache) Get(ctx context.Context, credentialID int64) (*Policy, error) {
	key := strconv.FormatInt(credentialID, 10)
	if v, ok := c.policies.Get(key); ok {
		c.metrics.RecordCache("policy", true)
		return v.(*Policy), nil
	}
	c.metrics.RecordCache("policy", false)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		p, err := c.load(context.WithoutCancel(ctx), credentialID)
		if err != nil {
			return nil, err
		}
		c.policies.Set(key, p, c.ttl)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Policy), nil
}

func (c *PolicyCache) load(ctx context.Context, credentialID int64) (*Policy, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveStore("policy", time.Since(start)) }()

	p := &Policy{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rules, err := c.store.LimitRules(gctx, credentialID)
		if err != nil {
			return upstream("limit rules", err)
		}
		p.Limits = rules
		return nil
	})
	g.Go(func() error {
		rules, err := c.store.IPRules(gctx, credentialID)
		if err != nil {
			return upstream("ip rules", err)
		}
		p.IPs = rules
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

// Forget drops the cached policy of credentialID.
func (c *PolicyCache) Forget(credentialID int64) {
	c.policies.Delete(strconv.FormatInt(credentialID, 10))
}

func (c *PolicyCache) Flush() {
	c.policies.Flush()
}

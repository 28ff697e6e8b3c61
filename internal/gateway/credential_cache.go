package gateway

import (
	"context"
	"sync"
	"time"

	"ebs-gateway/internal/metrics"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// CredentialCache memoizes successful credential validations by the literal
// (clientKey, secretKey) pair.
type CredentialCache struct {
	store   CredentialStore
	tasks   Dispatcher
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics

	passes *cache.Cache
	group  singleflight.Group

	mu   sync.Mutex
	byID map[int64]map[string]struct{}
}

func NewCredentialCache(store CredentialStore, tasks Dispatcher, ttl time.Duration, now func() time.Time, m *metrics.Metrics) *CredentialCache {
	c := &CredentialCache{
		store:   store,
		tasks:   tasks,
		ttl:     ttl,
		now:     now,
		metrics: m,
		passes:  cache.New(ttl, 2*ttl),
		byID:    make(map[int64]map[string]struct{}),
	}
	c.passes.OnEvicted(c.unindex)
	return c
}

func passKey(clientKey, secretKey string) string {
	return clientKey + "\x00" + secretKey
}

// Resolve returns the pass for the given pair, consulting the store on a miss
// or an expired entry.
func (c *CredentialCache) Resolve(ctx context.Context, clientKey, secretKey string) (Pass, error) {
	key := passKey(clientKey, secretKey)
	if v, ok := c.passes.Get(key); ok {
		pass := v.(Pass)
		if c.now().Before(pass.ExpiresAt) {
			c.metrics.RecordCache("credential", true)
			return pass, nil
		}
		c.passes.Delete(key)
	}
	c.metrics.RecordCache("credential", false)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.load(context.WithoutCancel(ctx), key, clientKey, secretKey)
	})
	if err != nil {
		return Pass{}, err
	}
	return v.(Pass), nil
}

func (c *CredentialCache) load(ctx context.Context, key, clientKey, secretKey string) (Pass, error) {
	start := time.Now()
	cred, err := c.store.FindCredential(ctx, clientKey, secretKey)
	c.metrics.ObserveStore("credential", time.Since(start))
	if err != nil {
		return Pass{}, upstream("credential store", err)
	}
	if cred == nil {
		return Pass{}, ErrInvalidCredential
	}
	if cred.Status != StatusActive {
		return Pass{}, &InactiveError{Status: cred.Status}
	}
	now := c.now()
	if !cred.ExpiresAt.After(now) {
		return Pass{}, ErrCredentialExpired
	}

	// The pass never outlives the credential itself.
	exp := now.Add(c.ttl)
	if cred.ExpiresAt.Before(exp) {
		exp = cred.ExpiresAt
	}
	pass := Pass{CredentialID: cred.ID, UserID: cred.UserID, ExpiresAt: exp}
	c.index(cred.ID, key)
	c.passes.Set(key, pass, exp.Sub(now))

	id := cred.ID
	c.tasks.Dispatch("touch_last_used", func(ctx context.Context) error {
		return c.store.TouchLastUsed(ctx, id, now)
	})
	return pass, nil
}

func (c *CredentialCache) index(id int64, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.byID[id]
	if !ok {
		keys = make(map[string]struct{})
		c.byID[id] = keys
	}
	keys[key] = struct{}{}
}

func (c *CredentialCache) unindex(key string, v interface{}) {
	pass, ok := v.(Pass)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if keys, ok := c.byID[pass.CredentialID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byID, pass.CredentialID)
		}
	}
}

// Forget drops every cached pass of credentialID.
func (c *CredentialCache) Forget(credentialID int64) {
	c.mu.Lock()
	keys := make([]string, 0, len(c.byID[credentialID]))
	for k := range c.byID[credentialID] {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.passes.Delete(k)
	}
}

// Len returns the number of cached passes, including expired ones not yet
// swept.
func (c *CredentialCache) Len() int {
	return c.passes.ItemCount()
}

// Flush drops every cached pass.
func (c *CredentialCache) Flush() {
	c.passes.Flush()
	c.mu.Lock()
	c.byID = make(map[int64]map[string]struct{})
	c.mu.Unlock()
}

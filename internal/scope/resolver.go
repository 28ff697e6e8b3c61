package scope

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// UserStore looks up the organizer code of a user. A missing user yields an
// empty code and no error.
type UserStore interface {
	OrganizerOf(ctx context.Context, userID int64) (string, error)
}

// Resolver turns a user id into an organizer code and Scope, caching the
// organizer lookup for ttl.
type Resolver struct {
	table *Table
	users UserStore
	cache *cache.Cache
	group singleflight.Group
	ttl   time.Duration
}

func NewResolver(table *Table, users UserStore, ttl time.Duration) *Resolver {
	return &Resolver{
		table: table,
		users: users,
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Resolve returns the organizer code and scope of userID. Store errors are
// returned as is and never cached.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (string, Scope, error) {
	key := strconv.FormatInt(userID, 10)
	if v, ok := r.cache.Get(key); ok {
		organizer := v.(string)
		return organizer, r.table.ScopeOf(organizer), nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		organizer, err := r.users.OrganizerOf(context.WithoutCancel(ctx), userID)
		if err != nil {
			return nil, err
		}
		r.cache.Set(key, organizer, r.ttl)
		return organizer, nil
	})
	if err != nil {
		return "", Unknown{}, err
	}
	organizer := v.(string)
	return organizer, r.table.ScopeOf(organizer), nil
}

// Table returns the scope table used by the resolver.
func (r *Resolver) Table() *Table {
	return r.table
}

// Forget drops the cached organizer of userID.
func (r *Resolver) Forget(userID int64) {
	r.cache.Delete(strconv.FormatInt(userID, 10))
}

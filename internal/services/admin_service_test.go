package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"ebs-gateway/internal/gateway"
	"ebs-gateway/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

func newAdmin(t *testing.T) (*AdminService, *Store, *recordingInvalidator) {
	t.Helper()
	dbm := testutil.NewSQLite(t)
	inv := &recordingInvalidator{}
	return NewAdminService(dbm, inv), NewStore(dbm), inv
}

func TestAdminService_CreateAndLookup(t *testing.T) {
	admin, store, _ := newAdmin(t)
	ctx := context.Background()

	view, err := admin.CreateCredential(ctx, CreateCredentialInput{
		UserID:    7,
		Name:      "dashboard",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		Limits:    []LimitInput{{RoutePrefix: "/api/v1/", PerMin: 60, Burst: testutil.Int(10)}},
		IPs:       []string{" 10.0.% "},
	})
	require.NoError(t, err)
	assert.NotZero(t, view.ID)
	assert.Regexp(t, `^ck_[0-9a-f]{32}$`, view.ClientKey)
	assert.Regexp(t, `^sk_[0-9a-f]{64}$`, view.SecretKey)
	assert.Equal(t, "active", view.Status)
	assert.Equal(t, []string{"10.0.%"}, view.IPs)
	require.Len(t, view.Limits, 1)
	assert.Equal(t, "/api/v1", view.Limits[0].RoutePrefix)

	cred, err := store.FindCredential(ctx, view.ClientKey, view.SecretKey)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, view.ID, cred.ID)

	got, err := admin.GetCredential(ctx, view.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SecretKey, "secret is only shown on creation")
	assert.Equal(t, view.Limits, got.Limits)
}

func TestAdminService_CreateValidation(t *testing.T) {
	admin, _, _ := newAdmin(t)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	tests := map[string]CreateCredentialInput{
		"no user":        {ExpiresAt: future},
		"past expiry":    {UserID: 1, ExpiresAt: time.Now().Add(-time.Hour)},
		"bad prefix":     {UserID: 1, ExpiresAt: future, Limits: []LimitInput{{RoutePrefix: "api", PerMin: 1}}},
		"root prefix":    {UserID: 1, ExpiresAt: future, Limits: []LimitInput{{RoutePrefix: "/", PerMin: 1}}},
		"zero rate":      {UserID: 1, ExpiresAt: future, Limits: []LimitInput{{RoutePrefix: "*", PerMin: 0}}},
		"negative burst": {UserID: 1, ExpiresAt: future, Limits: []LimitInput{{RoutePrefix: "*", PerMin: 1, Burst: testutil.Int(-1)}}},
		"blank ip":       {UserID: 1, ExpiresAt: future, IPs: []string{" "}},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := admin.CreateCredential(ctx, in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestAdminService_MutationsInvalidate(t *testing.T) {
	admin, store, inv := newAdmin(t)
	ctx := context.Background()

	view, err := admin.CreateCredential(ctx, CreateCredentialInput{UserID: 7, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	suspended := "Suspended"
	updated, err := admin.UpdateCredential(ctx, view.ID, UpdateCredentialInput{Status: &suspended})
	require.NoError(t, err)
	assert.Equal(t, "suspended", updated.Status)

	cred, err := store.FindCredential(ctx, view.ClientKey, view.SecretKey)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusSuspended, cred.Status)

	_, err = admin.ReplaceLimits(ctx, view.ID, []LimitInput{{RoutePrefix: "", PerMin: 5}})
	require.NoError(t, err)
	rules, err := store.LimitRules(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, []gateway.LimitRule{{RoutePrefix: "*", PerMinute: 5}}, rules)

	_, err = admin.ReplaceIPs(ctx, view.ID, []string{"192.168.*", "10.0.0.1"})
	require.NoError(t, err)
	_, err = admin.ReplaceIPs(ctx, view.ID, []string{"10.0.0.2"})
	require.NoError(t, err)
	ips, err := store.IPRules(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, []gateway.IPRule{{Pattern: "10.0.0.2"}}, ips)

	assert.Equal(t, []int64{view.ID, view.ID, view.ID, view.ID}, inv.ids)
}

func TestAdminService_Errors(t *testing.T) {
	admin, _, inv := newAdmin(t)
	ctx := context.Background()

	_, err := admin.GetCredential(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	status := "active"
	_, err = admin.UpdateCredential(ctx, 404, UpdateCredentialInput{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)

	bogus := "paused"
	_, err = admin.UpdateCredential(ctx, 1, UpdateCredentialInput{Status: &bogus})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = admin.UpdateCredential(ctx, 1, UpdateCredentialInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = admin.ReplaceLimits(ctx, 404, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = admin.ReplaceIPs(ctx, 404, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, inv.ids)
}

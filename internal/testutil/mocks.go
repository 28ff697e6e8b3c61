// Package testutil holds testify mocks and small fakes shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"ebs-gateway/internal/gateway"

	"github.com/stretchr/testify/mock"
)

type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) FindCredential(ctx context.Context, clientKey, secretKey string) (*gateway.Credential, error) {
	args := m.Called(ctx, clientKey, secretKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Credential), args.Error(1)
}

func (m *MockCredentialStore) TouchLastUsed(ctx context.Context, credentialID int64, at time.Time) error {
	args := m.Called(ctx, credentialID, at)
	return args.Error(0)
}

type MockPolicyStore struct {
	mock.Mock
}

func (m *MockPolicyStore) LimitRules(ctx context.Context, credentialID int64) ([]gateway.LimitRule, error) {
	args := m.Called(ctx, credentialID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.LimitRule), args.Error(1)
}

func (m *MockPolicyStore) IPRules(ctx context.Context, credentialID int64) ([]gateway.IPRule, error) {
	args := m.Called(ctx, credentialID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.IPRule), args.Error(1)
}

type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) OrganizerOf(ctx context.Context, userID int64) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

// RecordingObserver keeps every event it sees.
type RecordingObserver struct {
	mu     sync.Mutex
	events []gateway.Event
}

func (o *RecordingObserver) Observe(ev gateway.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *RecordingObserver) Events() []gateway.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]gateway.Event, len(o.events))
	copy(out, o.events)
	return out
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}

package gateway

import (
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusRevoked:
		return true
	}
	return false
}

// Credential is a stored client/secret pair.
type Credential struct {
	ID         int64
	UserID     int64
	ClientKey  string
	SecretKey  string
	Status     Status
	ExpiresAt  time.Time
	LastUsedAt *time.Time
}

// Pass is a validated credential as held by the credential cache.
type Pass struct {
	CredentialID int64
	UserID       int64
	ExpiresAt    time.Time
}

// WildcardPrefix is the route prefix of the fallback limit rule.
const WildcardPrefix = "*"

// NormalizeRoutePrefix trims whitespace and trailing slashes from a stored
// prefix. Empty and "/" both mean every route and become WildcardPrefix.
func NormalizeRoutePrefix(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return WildcardPrefix
	}
	return p
}

// LimitRule is a per-credential rate limit for a route prefix.
type LimitRule struct {
	RoutePrefix string
	PerMinute   int
	Burst       *int
}

// HardLimit is the number of requests allowed per window.
func (r LimitRule) HardLimit() int {
	if r.Burst != nil && *r.Burst > 0 {
		return r.PerMinute + *r.Burst
	}
	return r.PerMinute
}

// Policy is the textual policy identifier, prefix:perMinute[+burst].
func (r LimitRule) Policy() string {
	s := r.RoutePrefix + ":" + strconv.Itoa(r.PerMinute)
	if r.Burst != nil && *r.Burst > 0 {
		s += "+" + strconv.Itoa(*r.Burst)
	}
	return s
}

func (r LimitRule) IsWildcard() bool {
	return r.RoutePrefix == WildcardPrefix
}

// Matches reports whether path equals the prefix or lies below it.
func (r LimitRule) Matches(path string) bool {
	if r.IsWildcard() {
		return true
	}
	return path == r.RoutePrefix || strings.HasPrefix(path, r.RoutePrefix+"/")
}

// IPRule is an allowed source address. A pattern ending in % or * matches
// every address starting with the part before the marker.
type IPRule struct {
	Pattern string
}

func (r IPRule) Matches(ip string) bool {
	p := strings.TrimSpace(r.Pattern)
	if p == "" {
		return false
	}
	if last := p[len(p)-1]; last == '%' || last == '*' {
		return strings.HasPrefix(ip, p[:len(p)-1])
	}
	return ip == p
}

// Policy is the cached limit and IP configuration of one credential.
type Policy struct {
	Limits []LimitRule
	IPs    []IPRule
}

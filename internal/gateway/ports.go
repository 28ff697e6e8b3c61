package gateway

import (
	"context"
	"time"
)

// CredentialStore is the persistent credential table. FindCredential returns
// nil and no error when no row matches.
type CredentialStore interface {
	FindCredential(ctx context.Context, clientKey, secretKey string) (*Credential, error)
	TouchLastUsed(ctx context.Context, credentialID int64, at time.Time) error
}

// PolicyStore holds per-credential limit rules and IP rules.
type PolicyStore interface {
	LimitRules(ctx context.Context, credentialID int64) ([]LimitRule, error)
	IPRules(ctx context.Context, credentialID int64) ([]IPRule, error)
}

// Dispatcher runs best-effort work off the request path. Dispatch must not
// block and reports whether the task was accepted.
type Dispatcher interface {
	Dispatch(name string, fn func(ctx context.Context) error) bool
}

// Event describes one gateway decision.
type Event struct {
	At           time.Time `json:"at"`
	CredentialID int64     `json:"credential_id,omitempty"`
	ClientKey    string    `json:"client_key,omitempty"`
	Path         string    `json:"path"`
	SourceIP     string    `json:"source_ip"`
	Outcome      string    `json:"outcome"`
	Policy       string    `json:"policy,omitempty"`
	Remaining    int       `json:"remaining"`
}

// Observer is notified of every decision. Observe must not block.
type Observer interface {
	Observe(Event)
}

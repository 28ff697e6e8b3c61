package gateway

import (
	"context"

	"ebs-gateway/internal/scope"
)

// Actor describes the authenticated caller of a request.
type Actor struct {
	UserID       int64       `json:"user_id"`
	CredentialID int64       `json:"credential_id"`
	ClientKey    string      `json:"client_key"`
	SourceIP     string      `json:"source_ip"`
	Organizer    string      `json:"organizer"`
	Scope        scope.Scope `json:"-"`
}

type actorKey struct{}

func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor attached by the gateway, if any.
func ActorFromContext(ctx context.Context) (*Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(*Actor)
	return a, ok && a != nil
}

// Package auth supplies the actor identity used for created_by and assigned_to.
// Credential checks happen elsewhere; this package only carries the outcome.
package auth

import "context"

// Authenticator reports whether an actor is signed in and who it is.
type Authenticator interface {
	IsAuthenticated() bool
	CurrentUser() (string, bool)
}

// Static is an Authenticator for a fixed actor. The zero value is signed out.
type Static string

func (s Static) IsAuthenticated() bool { return s != "" }

func (s Static) CurrentUser() (string, bool) { return string(s), s != "" }

type actorKey struct{}

// WithActor stores a verified actor id on ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor placed by WithActor.
func ActorFromContext(ctx context.Context) (string, bool) {
	a, ok := ctx.Value(actorKey{}).(string)
	return a, ok && a != ""
}

// FromContext adapts a request context into an Authenticator.
func FromContext(ctx context.Context) Authenticator {
	a, _ := ActorFromContext(ctx)
	return Static(a)
}

package auditctx

import "context"

// Actor captures contextual information about the authenticated principal
// that initiated a request. Active tenant and impersonation state travel here
// explicitly instead of as ambient caller-side state, so engine invariants
// stay checkable without relying on caller discipline.
type Actor struct {
	PrincipalID string
	Username    string
	IPAddress   string
	UserAgent   string

	// TenantID is the tenant context the request executes in.
	TenantID string

	// ImpersonationID is set when the actor is a super admin operating
	// inside a view-as-tenant session. All such requests are read-only.
	ImpersonationID string
}

// Impersonating reports whether the actor operates under a view-as session.
func (a Actor) Impersonating() bool {
	return a.ImpersonationID != ""
}

type actorContextKey struct{}

// WithActor injects actor metadata into the supplied context, returning a derived
// context that callers pass down into service layers for audit logging.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		return context.WithValue(context.Background(), actorContextKey{}, actor)
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

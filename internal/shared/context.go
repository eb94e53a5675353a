package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Scope identifies the tenant and actor on whose behalf an engine call
// runs. Every query is filtered by BusinessID explicitly; there is no
// ambient tenant state. GroupID correlates all audit entries written
// during one request.
type Scope struct {
	BusinessID int64
	ActorID    int64
	GroupID    uuid.UUID
}

// ErrNoBusiness indicates a call reached an engine without tenant context.
var ErrNoBusiness = errors.New("shared: business scope required")

// Validate reports whether the scope can be used for engine calls.
func (s Scope) Validate() error {
	if s.BusinessID == 0 {
		return ErrNoBusiness
	}
	return nil
}

// NewScope builds a scope with a fresh audit group id.
func NewScope(businessID, actorID int64) Scope {
	return Scope{BusinessID: businessID, ActorID: actorID, GroupID: uuid.New()}
}

// Clock supplies the current time; injectable for deterministic tests.
type Clock func() time.Time

// UTCNow is the default Clock.
func UTCNow() time.Time {
	return time.Now().UTC()
}

type scopeContextKey struct{}

// ContextWithScope stores the scope in context for the HTTP layer.
// Engines take Scope as an explicit parameter; the context copy only
// carries it from middleware to handlers.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the scope stored by the middleware.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(Scope)
	return scope, ok
}

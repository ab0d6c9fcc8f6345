package shared

import "context"

// Roles recognised by the back office.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

// Actor is the authenticated caller forwarded by the gateway.
type Actor struct {
	UserID int64
	Role   string
}

// IsCashier reports whether the actor only sees the cashier catalog.
func (a Actor) IsCashier() bool {
	return a.Role == RoleCashier
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting user's id in context.
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the acting user's id from context. Empty when
// the request carried no actor.
func ActorFromContext(ctx context.Context) string {
	actorID, _ := ctx.Value(actorContextKey{}).(string)
	return actorID
}

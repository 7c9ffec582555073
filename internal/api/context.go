package api

import "context"

type contextKey string

const (
	ctxKeyActor     contextKey = "actor"
	ctxKeyRequestID contextKey = "request_id"
)

// actor identifies the authenticated caller of a request.
type actor struct {
	Role   string
	UserID string
}

func withActor(ctx context.Context, a *actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, a)
}

func actorFromCtx(ctx context.Context) *actor {
	a, _ := ctx.Value(ctxKeyActor).(*actor)
	return a
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

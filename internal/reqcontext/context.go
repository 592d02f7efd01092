// Package reqcontext carries request-scoped identity through context.Context.
package reqcontext

import (
	"context"
	"strings"
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Actor is the authenticated principal behind a request. Session storage lives
// upstream; the gateway forwards the resolved identity.
type Actor struct {
	Type  string
	ID    string
	Email string
}

// System is the actor used for processor callbacks and background work.
var System = Actor{Type: ActorTypeSystem, ID: "system"}

func (a Actor) String() string {
	if a.Type == ActorTypeSystem {
		return "system"
	}
	if strings.TrimSpace(a.ID) == "" {
		return ""
	}
	return a.Type + ":" + a.ID
}

func (a Actor) IsZero() bool {
	return strings.TrimSpace(a.ID) == ""
}

type actorKey struct{}
type requestIDKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.IsZero() {
		return Actor{}, false
	}
	return actor, true
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

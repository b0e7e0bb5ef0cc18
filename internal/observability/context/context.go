package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	actorKey
	sessionKey
)

type actor struct {
	kind string
	id   string
}

// WithRequestID stores the inbound request identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

// RequestIDFromContext returns the request identifier or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithActor stores who is acting on the request, e.g. ("user", uid).
func WithActor(ctx context.Context, kind, id string) context.Context {
	return context.WithValue(ctx, actorKey, actor{kind: strings.TrimSpace(kind), id: strings.TrimSpace(id)})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey).(actor)
	if !ok {
		return "", ""
	}
	return value.kind, value.id
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, strings.TrimSpace(sessionID))
}

func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(sessionKey).(string)
	return value
}

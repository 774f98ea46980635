package logging

import (
	"context"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
)

// ContextKey defines the context key type.
type ContextKey string

// ContextIDKey holds the key of the context ID.
const ContextIDKey ContextKey = "ctx_id"

// NewContext returns a copy of ctx holding a new context ID. When ctx already
// holds a context ID, ctx is returned as-is.
func NewContext(ctx context.Context) context.Context {
	if ctx.Value(ContextIDKey) != nil {
		return ctx
	}

	ctxID, err := uuid.NewV4()
	if err != nil {
		log.WithError(err).Error("logging: new uuid error")
		return ctx
	}

	return context.WithValue(ctx, ContextIDKey, ctxID)
}

// Fields returns the log fields for the given context.
func Fields(ctx context.Context) log.Fields {
	return log.Fields{
		"ctx_id": ctx.Value(ContextIDKey),
	}
}

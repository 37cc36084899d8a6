package middleware

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrNoIdentity = errors.New("quantumauth identity not found in context")

// Identity is what a successful verification attaches to the request context.
type Identity struct {
	UserID   string
	DeviceID string
	// Payload is the decrypted body returned by the auth service, if any.
	Payload json.RawMessage
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func ShouldGetIdentity(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

// UserIDFromContext returns "" for unauthenticated contexts.
func UserIDFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxClientID
	ctxRole
)

var ErrNoIdentity = errors.New("identity not in context")

func WithIdentity(ctx context.Context, userID, clientID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxClientID, clientID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

// ClientID returns the caller's tenant. An empty value with a nil error is
// never returned.
func ClientID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxClientID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("client_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// Identity is the authenticated caller as seen by handlers.
type Identity struct {
	UserID   string
	ClientID string
	Role     string
}

// IdentityFrom collects the identity injected by RequireAccessToken.
// ClientID may be empty for admin tokens.
func IdentityFrom(ctx context.Context) (Identity, error) {
	uid, err := UserID(ctx)
	if err != nil {
		return Identity{}, ErrNoIdentity
	}
	role, err := Role(ctx)
	if err != nil {
		return Identity{}, ErrNoIdentity
	}
	cid, _ := ClientID(ctx)
	return Identity{UserID: uid, ClientID: cid, Role: role}, nil
}

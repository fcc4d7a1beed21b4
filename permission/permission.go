package permission

import (
	"context"
)

type contextKeyType struct{}

var contextKeyTypeValue = contextKeyType{}

// Identity is whoever made the request.  Only admins are distinguished;
// players are anonymous.
type Identity struct {
	Admin    bool
	IssuedAt int64
}

func IdentityInContext(ctx context.Context, a *Identity) context.Context {
	return context.WithValue(ctx, contextKeyTypeValue, a)
}

func IdentityFromContext(ctx context.Context) *Identity {
	v := ctx.Value(contextKeyTypeValue)
	if a, ok := v.(*Identity); ok {
		return a
	}
	return nil
}

func IsAdmin(ctx context.Context) bool {
	a := IdentityFromContext(ctx)
	return a != nil && a.Admin
}

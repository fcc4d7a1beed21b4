package permission

import (
	"context"
	"net/http"

	"github.com/ts4z/cyclepot/he"
)

var ErrPermissionDenied = he.HTTPCodedErrorf(http.StatusUnauthorized, "permission denied")

func RequireAdminReturning[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if !IsAdmin(ctx) {
		return zero, ErrPermissionDenied
	}
	return fn()
}

func RequireAdmin(ctx context.Context, fn func() error) error {
	_, err := RequireAdminReturning(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

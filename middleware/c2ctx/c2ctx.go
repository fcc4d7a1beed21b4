// Package c2ctx puts the caller's identity in the request context, so
// handlers can ask permission.IsAdmin without knowing about cookies.
package c2ctx

import (
	"log/slog"
	"net/http"

	"github.com/ts4z/cyclepot/dep"
	"github.com/ts4z/cyclepot/permission"
)

// AdminUser is the basic-auth user name accepted for admin requests.
const AdminUser = "admin"

type PasswordChecker interface {
	Validate(pw string) error
}

// CookieToContext accepts either an admin session cookie or basic auth.
type CookieToContext struct {
	bakery  *permission.Bakery
	checker PasswordChecker

	next http.Handler
}

func (c *CookieToContext) identify(r *http.Request) *permission.Identity {
	if user, pw, ok := r.BasicAuth(); ok {
		if c.checker == nil || user != AdminUser {
			return nil
		}
		if err := c.checker.Validate(pw); err != nil {
			slog.Warn("bad admin password", "remote", r.RemoteAddr)
			return nil
		}
		return &permission.Identity{Admin: true}
	}
	if _, err := r.Cookie(permission.AuthCookieName); err != nil {
		return nil
	}
	id, err := c.bakery.ReadCookie(r)
	if err != nil {
		slog.Info("can't read session cookie", "error", err)
		return nil
	}
	return id
}

func (c *CookieToContext) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if id := c.identify(r); id != nil {
		r = r.WithContext(permission.IdentityInContext(r.Context(), id))
	}
	c.next.ServeHTTP(w, r)
}

type Config struct {
	Bakery *permission.Bakery
	// Checker may be nil, which disables basic auth.
	Checker PasswordChecker
	Next    http.Handler
}

func Handler(cf *Config) http.Handler {
	return &CookieToContext{
		bakery:  dep.Required(cf.Bakery),
		checker: cf.Checker,
		next:    dep.Required(cf.Next),
	}
}

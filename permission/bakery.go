package permission

/*
Bakery mints and reads the admin session cookie.

TODO: Cookies aren't rotated; changing COOKIE_HASH_KEY logs everyone out.
*/

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	AuthCookieName = "cyclepot-auth"
	SessionTTL     = 12 * time.Hour
)

type BakeryClock interface {
	Now() time.Time
}

type Bakery struct {
	clock  BakeryClock
	sc     *securecookie.SecureCookie
	secure bool
}

type BakeryConfig struct {
	Clock BakeryClock
	// HashKey64 and BlockKey64 are base64.  An empty HashKey64 generates
	// a random key, so sessions don't survive a restart.
	HashKey64  string
	BlockKey64 string
	Secure     bool
}

func decodeKey(name, k string) ([]byte, error) {
	if k == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(k)
	if err != nil {
		return nil, fmt.Errorf("bad %s: %w", name, err)
	}
	return b, nil
}

func NewBakery(c *BakeryConfig) (*Bakery, error) {
	hashKey, err := decodeKey("cookie hash key", c.HashKey64)
	if err != nil {
		return nil, err
	}
	blockKey, err := decodeKey("cookie block key", c.BlockKey64)
	if err != nil {
		return nil, err
	}
	if hashKey == nil {
		slog.Warn("no cookie hash key configured; admin sessions end at restart")
		hashKey = securecookie.GenerateRandomKey(64)
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(SessionTTL.Seconds()))
	return &Bakery{clock: c.Clock, sc: sc, secure: c.Secure}, nil
}

func (b *Bakery) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:    AuthCookieName,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(1, 0),
	})
}

func (b *Bakery) ReadCookie(r *http.Request) (*Identity, error) {
	cookie, err := r.Cookie(AuthCookieName)
	if err != nil {
		return nil, fmt.Errorf("can't get cookie: %w", err)
	}
	id := &Identity{}
	if err := b.sc.Decode(AuthCookieName, cookie.Value, id); err != nil {
		return nil, fmt.Errorf("can't validate cookie: %w", err)
	}
	if b.clock.Now().After(time.UnixMilli(id.IssuedAt).Add(SessionTTL)) {
		return nil, errors.New("session expired")
	}
	return id, nil
}

func (b *Bakery) BakeCookie(w http.ResponseWriter, id *Identity) error {
	id.IssuedAt = b.clock.Now().UnixMilli()
	encoded, err := b.sc.Encode(AuthCookieName, id)
	if err != nil {
		return fmt.Errorf("can't encrypt cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(SessionTTL.Seconds()),
		Secure:   b.secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}

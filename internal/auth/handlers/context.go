package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/victorgomez09/suivi/internal/auth/models"
)

type contextKey struct{}

// WithSession returns a copy of ctx carrying the authenticated session.
func WithSession(ctx context.Context, sess *models.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// SessionFrom returns the session stored by the auth middleware, or nil.
func SessionFrom(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(contextKey{}).(*models.Session)
	return sess
}

// HeaderRenewedToken carries a token that was renewed while serving the request.
const HeaderRenewedToken = "X-Session-Token"

// Cookie describes the session cookie.
type Cookie struct {
	Name   string
	Secure bool
}

func (c Cookie) Set(w http.ResponseWriter, token string, expires time.Time) {
	if c.Name == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c Cookie) Clear(w http.ResponseWriter) {
	if c.Name == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token extracts the session token from the Authorization header, falling back to the cookie.
func (c Cookie) Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c.Name == "" {
		return ""
	}
	if ck, err := r.Cookie(c.Name); err == nil {
		return ck.Value
	}
	return ""
}

package middleware

import (
	"net/http"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/handlers"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/auth/service"
)

// AuthMiddleware resolves the session of a request and stores it in the context.
type AuthMiddleware struct {
	sessions *service.SessionManager
	cookie   handlers.Cookie
	errors   handlers.Errors
	logger   *zap.Logger
}

func NewAuthMiddleware(sessions *service.SessionManager, cookie handlers.Cookie, errs handlers.Errors) *AuthMiddleware {
	logger := errs.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		sessions: sessions,
		cookie:   cookie,
		errors:   errs,
		logger:   logger,
	}
}

// Authenticate accepts a Bearer token or the session cookie. Sessions past half their lifetime
// are renewed on the fly; the new token is returned in X-Session-Token and the cookie.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.cookie.Token(r)
		if token == "" {
			m.errors.Write(w, r, apierr.ErrUnauthenticated)
			return
		}

		sess, err := m.sessions.Validate(r.Context(), token)
		if err != nil {
			if kind := apierr.KindOf(err); kind == apierr.KindSessionExpired || kind == apierr.KindAccountLocked {
				m.cookie.Clear(w)
			}
			m.errors.Write(w, r, err)
			return
		}

		if m.sessions.NeedsRenewal(sess) {
			renewed, newToken, err := m.sessions.Renew(r.Context(), sess.ID)
			if err != nil {
				m.logger.Warn("Automatic session renewal failed",
					zap.Int64("identity_id", sess.IdentityID), zap.Error(err))
			} else {
				sess = renewed
				w.Header().Set(handlers.HeaderRenewedToken, newToken)
				m.cookie.Set(w, newToken, sess.RenewedAt.Add(m.sessions.RenewalWindow()))
			}
		}

		next.ServeHTTP(w, r.WithContext(handlers.WithSession(r.Context(), sess)))
	})
}

// Require lets the request through when allow accepts the session, FORBIDDEN otherwise.
func (m *AuthMiddleware) Require(allow func(*models.Session) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := handlers.SessionFrom(r.Context())
			if sess == nil {
				m.errors.Write(w, r, apierr.ErrUnauthenticated)
				return
			}
			if !allow(sess) {
				m.errors.Write(w, r, apierr.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.Require((*models.Session).IsAdmin)(next)
}

func (m *AuthMiddleware) RequireSupervisor(next http.Handler) http.Handler {
	return m.Require((*models.Session).CanSupervise)(next)
}

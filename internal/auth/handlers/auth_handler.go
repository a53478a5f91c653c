package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/auth/service"
	"github.com/victorgomez09/suivi/internal/middleware"
	"github.com/victorgomez09/suivi/internal/version"
)

type AuthHandler struct {
	authService *service.AuthService
	cookie      Cookie
	errors      Errors
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, cookie Cookie, errs Errors) *AuthHandler {
	logger := errs.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		cookie:      cookie,
		errors:      errs,
		logger:      logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string          `json:"token"`
	Type      string          `json:"type"`
	ExpiresAt time.Time       `json:"expires_at"`
	Session   *models.Session `json:"session"`
}

type ChangePasswordRequest struct {
	OldPassword string        `json:"old_password"`
	NewPassword string        `json:"new_password"`
	Version     version.Token `json:"version"`
}

func (h *AuthHandler) issued(w http.ResponseWriter, status int, sess *models.Session, token string) {
	h.cookie.Set(w, token, sess.RenewedAt.Add(h.authService.Sessions().RenewalWindow()))
	WriteJSON(w, status, LoginResponse{
		Token:     token,
		Type:      "Bearer",
		ExpiresAt: sess.ExpiresAt,
		Session:   sess,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	sess, token, err := h.authService.Login(r.Context(), service.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		ClientIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	h.issued(w, http.StatusOK, sess, token)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := SessionFrom(r.Context())
	if sess == nil {
		h.errors.Write(w, r, apierr.ErrUnauthenticated)
		return
	}
	if err := h.authService.Logout(r.Context(), sess); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	h.cookie.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// Renew does not sit behind the auth middleware: a session that expired less than the renewal
// window after its last renewal can still be renewed.
func (h *AuthHandler) Renew(w http.ResponseWriter, r *http.Request) {
	token := h.cookie.Token(r)
	if token == "" {
		h.errors.Write(w, r, apierr.ErrUnauthenticated)
		return
	}
	sessions := h.authService.Sessions()
	id, err := sessions.SessionID(token)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	sess, renewed, err := sessions.Renew(r.Context(), id)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindSessionExpired {
			h.cookie.Clear(w)
		}
		h.errors.Write(w, r, err)
		return
	}
	h.issued(w, http.StatusOK, sess, renewed)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := SessionFrom(r.Context())
	if sess == nil {
		h.errors.Write(w, r, apierr.ErrUnauthenticated)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

// ChangePassword revokes every session of the caller on success, so the cookie is cleared too.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := SessionFrom(r.Context())
	if sess == nil {
		h.errors.Write(w, r, apierr.ErrUnauthenticated)
		return
	}

	var req ChangePasswordRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if err := RequireVersion(req.Version); err != nil {
		h.errors.Write(w, r, err)
		return
	}

	next, err := h.authService.ChangePassword(r.Context(), sess, req.OldPassword, req.NewPassword, req.Version)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	h.logger.Info("Password changed", zap.Int64("identity_id", sess.IdentityID))
	h.cookie.Clear(w)
	WriteJSON(w, http.StatusOK, VersionResponse{Version: next})
}

func (h *AuthHandler) PasswordRequirements(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string][]string{
		"requirements": h.authService.Validator().Requirements(),
	})
}

package api

import (
	"net/http"
	"strconv"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/auth/handlers"
)

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	out, err := a.notify.List(r.Context(), handlers.SessionFrom(r.Context()), unread, limit)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if err := a.notify.MarkRead(r.Context(), handlers.SessionFrom(r.Context()), id); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) notificationsWS(w http.ResponseWriter, r *http.Request) {
	hub := a.notify.Hub()
	if hub == nil {
		a.errors.Write(w, r, apierr.New(apierr.KindNotFound, "live notifications are disabled"))
		return
	}
	sess := handlers.SessionFrom(r.Context())
	hub.ServeWS(w, r, sess.IdentityID, sess.ID)
}

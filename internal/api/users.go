package api

import (
	"net/http"

	"github.com/victorgomez09/suivi/internal/auth/handlers"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/auth/service"
	"github.com/victorgomez09/suivi/internal/database"
	"github.com/victorgomez09/suivi/internal/version"
)

type updateUserRequest struct {
	DisplayName        string        `json:"display_name"`
	Email              string        `json:"email"`
	RegistrationNumber string        `json:"registration_number"`
	Position           string        `json:"position"`
	ProfileID          int64         `json:"profile_id"`
	BranchID           int64         `json:"branch_id"`
	SupervisorID       *int64        `json:"supervisor_id"`
	IsSupervisor       bool          `json:"is_supervisor"`
	Version            version.Token `json:"version"`
}

type lockRequest struct {
	Reason  string        `json:"reason"`
	Version version.Token `json:"version"`
}

type versionRequest struct {
	Version version.Token `json:"version"`
}

type resetPasswordRequest struct {
	NewPassword string        `json:"new_password"`
	Version     version.Token `json:"version"`
}

type branchRequest struct {
	Name string `json:"name"`
}

func (a *API) searchUsers(w http.ResponseWriter, r *http.Request) {
	search, err := parseSearch(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	out, err := a.auth.SearchIdentities(r.Context(), handlers.SessionFrom(r.Context()), search)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if out == nil {
		out = []*models.Identity{}
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req service.NewIdentity
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	identity, err := a.auth.CreateIdentity(r.Context(), handlers.SessionFrom(r.Context()), req)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, identity)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	identity, err := a.auth.GetIdentity(r.Context(), handlers.SessionFrom(r.Context()), id)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, identity)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	var req updateUserRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if err := handlers.RequireVersion(req.Version); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	next, err := a.auth.UpdateProfile(r.Context(), handlers.SessionFrom(r.Context()), id, req.Version, database.ProfileFields{
		DisplayName:        req.DisplayName,
		Email:              req.Email,
		RegistrationNumber: req.RegistrationNumber,
		Position:           req.Position,
		ProfileID:          req.ProfileID,
		BranchID:           req.BranchID,
		SupervisorID:       req.SupervisorID,
		IsSupervisor:       req.IsSupervisor,
	})
	a.writeVersion(w, r, next, err)
}

func (a *API) lockUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	var req lockRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if err := handlers.RequireVersion(req.Version); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	next, err := a.auth.LockIdentity(r.Context(), handlers.SessionFrom(r.Context()), id, req.Reason, req.Version)
	a.writeVersion(w, r, next, err)
}

// versioned handles the routes whose body is only the expected version.
func (a *API) versioned(w http.ResponseWriter, r *http.Request,
	op func(actor *models.Session, id int64, expected version.Token) (version.Token, error)) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	var req versionRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if err := handlers.RequireVersion(req.Version); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	next, err := op(handlers.SessionFrom(r.Context()), id, req.Version)
	a.writeVersion(w, r, next, err)
}

func (a *API) unlockUser(w http.ResponseWriter, r *http.Request) {
	a.versioned(w, r, func(actor *models.Session, id int64, expected version.Token) (version.Token, error) {
		return a.auth.UnlockIdentity(r.Context(), actor, id, expected)
	})
}

func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request) {
	a.versioned(w, r, func(actor *models.Session, id int64, expected version.Token) (version.Token, error) {
		return a.auth.DeactivateIdentity(r.Context(), actor, id, expected)
	})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	var req resetPasswordRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if err := handlers.RequireVersion(req.Version); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	next, err := a.auth.ResetPassword(r.Context(), handlers.SessionFrom(r.Context()), id, req.NewPassword, req.Version)
	a.writeVersion(w, r, next, err)
}

func (a *API) userActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	out, err := a.auth.ListActivity(r.Context(), handlers.SessionFrom(r.Context()), id, limit)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if out == nil {
		out = []models.ActivityEntry{}
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

func (a *API) listProfiles(w http.ResponseWriter, r *http.Request) {
	out, err := a.auth.ListProfiles(r.Context())
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

func (a *API) listBranches(w http.ResponseWriter, r *http.Request) {
	out, err := a.auth.ListBranches(r.Context())
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

func (a *API) createBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	b, err := a.auth.CreateBranch(r.Context(), handlers.SessionFrom(r.Context()), req.Name)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, b)
}

func (a *API) writeVersion(w http.ResponseWriter, r *http.Request, next version.Token, err error) {
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, handlers.VersionResponse{Version: next})
}

package api

import (
	"net/http"

	"github.com/victorgomez09/suivi/internal/auth/handlers"
	"github.com/victorgomez09/suivi/internal/auth/models"
	"github.com/victorgomez09/suivi/internal/version"
	"github.com/victorgomez09/suivi/internal/work"
	workmodels "github.com/victorgomez09/suivi/internal/work/models"
)

type taskRequest struct {
	work.TaskInput
	Version version.Token `json:"version"`
}

type taskStatusRequest struct {
	Status  workmodels.TaskStatus `json:"status"`
	Version version.Token         `json:"version"`
}

type reportRequest struct {
	work.ReportInput
	Version version.Token `json:"version"`
}

type reviewRequest struct {
	Decision work.Decision `json:"decision"`
	Comment  string        `json:"comment"`
	Version  version.Token `json:"version"`
}

func (a *API) searchTasks(w http.ResponseWriter, r *http.Request) {
	search, err := parseSearch(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	out, err := a.work.SearchTasks(r.Context(), handlers.SessionFrom(r.Context()), search)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var in work.TaskInput
	if err := handlers.DecodeJSON(w, r, &in); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	t, err := a.work.CreateTask(r.Context(), handlers.SessionFrom(r.Context()), in)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, t)
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	t, err := a.work.GetTask(r.Context(), handlers.SessionFrom(r.Context()), id)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, t)
}

func (a *API) updateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	var req taskRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if err := handlers.RequireVersion(req.Version); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	next, err := a.work.UpdateTask(r.Context(), handlers.SessionFrom(r.Context()), id, req.Version, req.TaskInput)
	a.writeVersion(w, r, next, err)
}

func (a *API) changeTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	var req taskStatusRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if err := handlers.RequireVersion(req.Version); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	next, err := a.work.ChangeTaskStatus(r.Context(), handlers.SessionFrom(r.Context()), id, req.Version, req.Status)
	a.writeVersion(w, r, next, err)
}

func (a *API) searchReports(w http.ResponseWriter, r *http.Request) {
	search, err := parseSearch(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	out, err := a.work.SearchReports(r.Context(), handlers.SessionFrom(r.Context()), search)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, out)
}

func (a *API) createReport(w http.ResponseWriter, r *http.Request) {
	var in work.ReportInput
	if err := handlers.DecodeJSON(w, r, &in); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	rep, err := a.work.CreateReport(r.Context(), handlers.SessionFrom(r.Context()), in)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, rep)
}

func (a *API) getReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	rep, err := a.work.GetReport(r.Context(), handlers.SessionFrom(r.Context()), id)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, rep)
}

func (a *API) updateReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	var req reportRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if err := handlers.RequireVersion(req.Version); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	next, err := a.work.UpdateReport(r.Context(), handlers.SessionFrom(r.Context()), id, req.Version, req.ReportInput)
	a.writeVersion(w, r, next, err)
}

func (a *API) submitReport(w http.ResponseWriter, r *http.Request) {
	a.versioned(w, r, func(actor *models.Session, id int64, expected version.Token) (version.Token, error) {
		return a.work.SubmitReport(r.Context(), actor, id, expected)
	})
}

func (a *API) reviewReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.errors.Write(w, r, err)
		return
	}
	var req reviewRequest
	if err := handlers.DecodeJSON(w, r, &req); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	if err := handlers.RequireVersion(req.Version); err != nil {
		a.errors.Write(w, r, err)
		return
	}
	next, err := a.work.ReviewReport(r.Context(), handlers.SessionFrom(r.Context()), id, req.Version, req.Decision, req.Comment)
	a.writeVersion(w, r, next, err)
}

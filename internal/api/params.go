package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/database/query"
)

// pathID reads the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierr.Validation("invalid id %q", raw)
	}
	return id, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierr.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}

// parseSearch reads ?filter=field:op:value (repeatable), ?sort=, ?limit= and ?offset=.
// Field names and operators are checked against the entity allow list by the store.
func parseSearch(r *http.Request) (query.Search, error) {
	var s query.Search
	for _, raw := range r.URL.Query()["filter"] {
		f, err := query.ParseFilter(raw)
		if err != nil {
			return query.Search{}, err
		}
		s.Filters = append(s.Filters, f)
	}
	s.Sort = r.URL.Query().Get("sort")

	var err error
	if s.Limit, err = intParam(r, "limit"); err != nil {
		return query.Search{}, err
	}
	if s.Offset, err = intParam(r, "offset"); err != nil {
		return query.Search{}, err
	}
	return s, nil
}

package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"warden/internal/platform/httpserver"
	"warden/internal/punishment/history"
	dErrors "warden/pkg/domain-errors"
)

const defaultHistoryLimit = 10

// historyHandler serves read-only history queries for moderators' tooling.
type historyHandler struct {
	svc *history.Service
}

func (h *historyHandler) mount(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		r.Get("/top", h.top)
		r.Get("/owners/{owner}/stats", h.stats)
		r.Get("/owners/{owner}/count", h.count)
		r.Get("/records/{id}/revisions", h.revisions)
	})
}

func (h *historyHandler) top(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	since, err := timeParam(r, "since")
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	owners, err := h.svc.MostPunished(r.Context(), limit, since)
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, owners)
}

func (h *historyHandler) stats(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	from, err := timeParam(r, "from")
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	to, err := timeParam(r, "to")
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	stats, err := h.svc.StatisticsFor(r.Context(), owner, from, to)
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, stats)
}

func (h *historyHandler) count(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerParam(r)
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	inactive := r.URL.Query().Get("inactive") == "true"
	n, err := h.svc.CountFor(r.Context(), owner, inactive)
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"owner": owner, "count": n})
}

func (h *historyHandler) revisions(w http.ResponseWriter, r *http.Request) {
	revs, err := h.svc.Revisions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpserver.WriteError(w, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, revs)
}

func ownerParam(r *http.Request) (uuid.UUID, error) {
	owner, err := uuid.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeBadRequest, "owner must be a uuid")
	}
	return owner, nil
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer")
	}
	return n, nil
}

// timeParam reads an RFC 3339 instant; absent means the zero time.
func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeBadRequest, name+" must be RFC 3339")
	}
	return t.UTC(), nil
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/audit"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
)

// handleAuditQuery serves GET /v1/audit. Reading the trail is an admin
// capability; everyone else gets a 403 rather than a filtered view.
func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.accounts.Authorizer().MustHaveMinimumRank(r.Context(), caller, roles.RankAdmin); err != nil {
		handleDomainError(w, r, err)
		return
	}

	q := r.URL.Query()
	query := audit.Query{
		ActorID:  strings.TrimSpace(q.Get("actor")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		EntityID: strings.TrimSpace(q.Get("entityId")),
		Action:   audit.Action(strings.ToUpper(strings.TrimSpace(q.Get("action")))),
	}

	limit, err := parsePositiveInt(q.Get("limit"), audit.DefaultQueryLimit, 1, audit.MaxQueryLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	query.Limit = limit

	if query.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if query.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	events, err := a.recorder.Query(r.Context(), query)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// AuditStream pushes recorded events to admin subscribers over SSE.
func (a *API) AuditStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.accounts.Authorizer().MustHaveMinimumRank(r.Context(), caller, roles.RankAdmin); err != nil {
		handleDomainError(w, r, err)
		return
	}
	if a.stream == nil {
		writeError(w, r, http.StatusNotFound, "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := a.stream.Subscribe(r.Context())
	for event := range ch {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamps must be RFC 3339: %q", raw)
	}
	return t, nil
}

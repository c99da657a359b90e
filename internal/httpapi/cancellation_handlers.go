package httpapi

import (
	"net/http"
	"strings"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/cancellation"
)

type submitCancellationRequest struct {
	ServiceID string `json:"serviceId"`
	Reason    string `json:"reason,omitempty"`
}

type rejectCancellationRequest struct {
	Note string `json:"note,omitempty"`
}

// handleCancellationsCollection serves POST /v1/cancellations.
func (a *API) handleCancellationsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var in submitCancellationRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req, err := a.cancels.Submit(r.Context(), caller, in.ServiceID, in.Reason)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// handleCancellationResource serves /v1/cancellations/{id} and the decision
// sub-actions /v1/cancellations/{id}/(approve|reject).
func (a *API) handleCancellationResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/cancellations/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	id, action, hasAction := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		http.NotFound(w, r)
		return
	}

	if !hasAction {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		req, err := a.cancels.Get(r.Context(), caller, id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var (
		req cancellation.Request
		err error
	)
	switch action {
	case "approve":
		req, err = a.cancels.Approve(r.Context(), caller, id)
	case "reject":
		var in rejectCancellationRequest
		if decodeErr := decodeJSON(w, r, &in); decodeErr != nil {
			writeError(w, r, http.StatusBadRequest, decodeErr.Error())
			return
		}
		req, err = a.cancels.Reject(r.Context(), caller, id, in.Note)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

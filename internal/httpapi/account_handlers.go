package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/accounts"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/scope"
)

// handleAccountsCollection serves /v1/accounts: GET lists the accounts the
// caller may see, POST creates a new one.
func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listAccounts(w, r)
	case http.MethodPost:
		a.createAccount(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleAccountResource serves /v1/accounts/{id} and its lifecycle
// sub-actions /v1/accounts/{id}/(toggle|deactivate|reactivate).
func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	id, action, hasAction := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		http.NotFound(w, r)
		return
	}

	if !hasAction {
		switch r.Method {
		case http.MethodGet:
			a.getAccount(w, r, id)
		case http.MethodPatch:
			a.updateAccount(w, r, id)
		case http.MethodDelete:
			a.archiveAccount(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	var (
		acc accounts.Account
		err error
	)
	switch action {
	case "toggle":
		acc, err = a.accounts.Toggle(r.Context(), caller, id)
	case "deactivate":
		acc, err = a.accounts.Deactivate(r.Context(), caller, id)
	case "reactivate":
		acc, err = a.accounts.Reactivate(r.Context(), caller, id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) listAccounts(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	q := r.URL.Query()
	filter := scope.Filter{TargetRole: strings.ToLower(strings.TrimSpace(q.Get("role")))}
	switch org := roles.Organization(strings.ToLower(strings.TrimSpace(q.Get("organization")))); org {
	case "", roles.OrgAmexing, roles.OrgClient:
		filter.Organization = org
	default:
		writeError(w, r, http.StatusBadRequest, "unknown organization")
		return
	}

	limit, err := parsePositiveInt(q.Get("limit"), accounts.DefaultPageLimit, 1, accounts.MaxPageLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset := 0
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
	}

	result, err := a.accounts.List(r.Context(), caller, filter, accounts.Page{Limit: limit, Offset: offset})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var in accounts.NewAccount
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := a.accounts.Create(r.Context(), caller, in)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	acc, err := a.accounts.Get(r.Context(), caller, id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) updateAccount(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var upd accounts.UpdateRequest
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := a.accounts.Update(r.Context(), caller, id, upd)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// archiveAccount maps DELETE onto the archive transition. The record is kept
// but permanently hidden, so the response carries the final state rather than
// a bare 204.
func (a *API) archiveAccount(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	acc, err := a.accounts.Archive(r.Context(), caller, id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

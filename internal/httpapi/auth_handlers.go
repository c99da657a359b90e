package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/audit"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	AccountID string    `json:"accountId"`
	Role      string    `json:"role"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	acc, err := a.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	token, exp, err := a.sessions.Issue(acc)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = a.recorder.Record(r.Context(), audit.Event{
		Action:    audit.ActionLogin,
		ActorID:   acc.ID,
		ActorRole: acc.RoleName,
		Entity:    "sessions",
		Metadata:  requestMetadata(r),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: exp,
		AccountID: acc.ID,
		Role:      acc.RoleName,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	// Tokens are stateless; logout is recorded for the trail and the client
	// discards its copy.
	_ = a.recorder.Record(r.Context(), audit.Event{
		Action:    audit.ActionLogout,
		ActorID:   caller.ID,
		ActorRole: caller.AssertedRole,
		Entity:    "sessions",
		Metadata:  requestMetadata(r),
	})
	w.WriteHeader(http.StatusNoContent)
}

// requestMetadata captures the caller context every audited request carries.
func requestMetadata(r *http.Request) map[string]string {
	meta := map[string]string{
		"ip": clientIP(r),
	}
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		meta["request_id"] = rid
	}
	return meta
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/accounts"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/audit"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/authz"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/cancellation"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/scope"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/stream"
)

type fakeRoleStore struct {
	byID   map[string]roles.Record
	byName map[string]roles.Record
}

func (f *fakeRoleStore) Find(ctx context.Context, id string) (roles.Record, error) {
	if rec, ok := f.byID[id]; ok {
		return rec, nil
	}
	return roles.Record{}, roles.ErrNotFound
}

func (f *fakeRoleStore) FindByName(ctx context.Context, name string) (roles.Record, error) {
	if rec, ok := f.byName[name]; ok {
		return rec, nil
	}
	return roles.Record{}, roles.ErrNotFound
}

func (f *fakeRoleStore) ListByNames(ctx context.Context, names []string) ([]roles.Record, error) {
	var out []roles.Record
	for _, n := range names {
		if rec, ok := f.byName[n]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func seededRoles() *fakeRoleStore {
	f := &fakeRoleStore{byID: map[string]roles.Record{}, byName: map[string]roles.Record{}}
	for i, name := range []string{
		roles.Superadmin, roles.Admin, roles.Client, roles.DepartmentManager,
		roles.Employee, roles.EmployeeAmexing, roles.Driver, roles.Guest,
	} {
		rec := roles.Record{ID: "role-" + string(rune('a'+i)), Name: name}
		f.byID[rec.ID] = rec
		f.byName[name] = rec
	}
	return f
}

type testEnv struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	store *accounts.InMemory
	roles *fakeRoleStore
	trail *audit.InMemory
	rec   *audit.Recorder

	closeOnce sync.Once
}

func newTestAPI(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		t:     t,
		store: accounts.NewInMemory(),
		roles: seededRoles(),
		trail: audit.NewInMemory(),
	}

	a, err := authz.New(roles.Default(), env.roles)
	if err != nil {
		t.Fatalf("authz: %v", err)
	}
	sb, err := scope.NewBuilder(a, env.roles)
	if err != nil {
		t.Fatalf("scope builder: %v", err)
	}
	env.rec, err = audit.NewRecorder(env.trail)
	if err != nil {
		t.Fatalf("recorder: %v", err)
	}
	mgr, err := accounts.NewManager(env.store, a, sb, env.roles, env.rec)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	cancels, err := cancellation.New(a, env.rec)
	if err != nil {
		t.Fatalf("cancellation: %v", err)
	}
	sessions, err := NewSessions("test-secret", "amexing-admin", time.Hour)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}

	st := stream.New()
	env.rec.OnRecord(st.Publish)

	api := New(ReadyProbe{}, "test", sessions, mgr, env.rec, cancels, st)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(env.flush)

	env.baseURL = srv.URL
	env.client = srv.Client()
	return env
}

// flush drains the audit queue so trail assertions see every event.
func (env *testEnv) flush() {
	env.closeOnce.Do(env.rec.Close)
}

func (env *testEnv) seed(id, email, password, role, clientID, deptID string, active bool) accounts.Account {
	env.t.Helper()
	hash, err := authz.HashPassword(password)
	if err != nil {
		env.t.Fatalf("hash: %v", err)
	}
	now := time.Now().UTC()
	acc := accounts.Account{
		ID: id, Email: email, Name: "Seed " + id, PasswordHash: hash,
		RoleID: env.roles.byName[role].ID, RoleName: role,
		ClientID: clientID, DepartmentID: deptID,
		Active: active, Exists: true,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := env.store.Insert(context.Background(), acc); err != nil {
		env.t.Fatalf("seed %s: %v", id, err)
	}
	return acc
}

func (env *testEnv) post(path string, body any, token string) *http.Response {
	env.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			env.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, env.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		env.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.client.Do(req)
	if err != nil {
		env.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (env *testEnv) get(path string, params url.Values, token string) *http.Response {
	env.t.Helper()
	u, err := url.Parse(env.baseURL + path)
	if err != nil {
		env.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		env.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.client.Do(req)
	if err != nil {
		env.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (env *testEnv) login(email, password string) string {
	env.t.Helper()
	resp := env.post("/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		env.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	var payload loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		env.t.Fatalf("decode login response: %v", err)
	}
	if payload.Token == "" {
		env.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginCreateAndToggleFlow(t *testing.T) {
	env := newTestAPI(t)
	env.seed("sa1", "root@amexing.mx", "super-secret-1", roles.Superadmin, "", "", true)

	token := env.login("root@amexing.mx", "super-secret-1")

	// Create an admin.
	resp := env.post("/v1/accounts", map[string]any{
		"email":    "Ops.Lead@amexing.mx",
		"name":     "Ops Lead",
		"password": "longenough",
		"role":     roles.Admin,
	}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected create status: %d", resp.StatusCode)
	}
	created := decode[accounts.Account](t, resp)
	if created.Email != "ops.lead@amexing.mx" {
		t.Fatalf("email not normalized: %q", created.Email)
	}
	if created.PasswordHash != "" {
		t.Fatalf("password hash leaked in response")
	}

	// Toggle it inactive, then list including inactive records.
	resp = env.post("/v1/accounts/"+created.ID+"/toggle", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected toggle status: %d", resp.StatusCode)
	}
	toggled := decode[accounts.Account](t, resp)
	if toggled.Active {
		t.Fatalf("expected account inactive after toggle")
	}

	resp = env.get("/v1/accounts", url.Values{"role": []string{roles.Admin}}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected list status: %d", resp.StatusCode)
	}
	listed := decode[accounts.ListResult](t, resp)
	if listed.Total != 1 || len(listed.Accounts) != 1 {
		t.Fatalf("expected the toggled admin in the listing, got total=%d", listed.Total)
	}

	// Self-targeting toggle is a conflict, not a denial.
	resp = env.post("/v1/accounts/sa1/toggle", nil, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for self toggle, got %d", resp.StatusCode)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestAPI(t)
	env.seed("e1", "worker@corp.mx", "right-password", roles.Employee, "corp-1", "", false)

	for _, body := range []map[string]any{
		{"email": "worker@corp.mx", "password": "wrong-password"},
		{"email": "nobody@corp.mx", "password": "right-password"},
		{"email": "worker@corp.mx", "password": "right-password"}, // inactive
	} {
		resp := env.post("/v1/auth/login", body, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %v, got %d", body["email"], resp.StatusCode)
		}
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	env := newTestAPI(t)

	resp := env.get("/v1/accounts", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}

	resp = env.get("/v1/accounts", nil, "not-a-token")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", resp.StatusCode)
	}

	// Health stays public.
	resp = env.get("/healthz", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for health, got %d", resp.StatusCode)
	}
}

func TestListIsScopedToTheCompany(t *testing.T) {
	env := newTestAPI(t)
	env.seed("c1", "owner@corp.mx", "owner-password", roles.Client, "corp-1", "", true)
	env.seed("e1", "one@corp.mx", "employee-pass1", roles.Employee, "corp-1", "", true)
	env.seed("e2", "two@other.mx", "employee-pass2", roles.Employee, "corp-2", "", true)
	env.seed("ad1", "staff@amexing.mx", "staff-password", roles.Admin, "", "", true)

	token := env.login("owner@corp.mx", "owner-password")
	resp := env.get("/v1/accounts", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected list status: %d", resp.StatusCode)
	}
	listed := decode[accounts.ListResult](t, resp)
	if listed.Total != 1 {
		t.Fatalf("expected only the corp-1 employee, got total=%d", listed.Total)
	}
	if len(listed.Accounts) != 1 || listed.Accounts[0].ID != "e1" {
		t.Fatalf("unexpected listing: %+v", listed.Accounts)
	}

	// The admin seeded above is invisible, so fetching it is a 404.
	resp = env.get("/v1/accounts/ad1", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for out-of-scope account, got %d", resp.StatusCode)
	}
}

func TestAuditQueryRequiresAdminRank(t *testing.T) {
	env := newTestAPI(t)
	env.seed("c1", "owner@corp.mx", "owner-password", roles.Client, "corp-1", "", true)
	env.seed("sa1", "root@amexing.mx", "super-secret-1", roles.Superadmin, "", "", true)

	clientToken := env.login("owner@corp.mx", "owner-password")
	resp := env.get("/v1/audit", nil, clientToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for client, got %d", resp.StatusCode)
	}

	adminToken := env.login("root@amexing.mx", "super-secret-1")
	env.flush()
	resp = env.get("/v1/audit", url.Values{"action": []string{"LOGIN"}}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected audit status: %d", resp.StatusCode)
	}
	payload := decode[map[string]any](t, resp)
	if payload["count"].(float64) < 1 {
		t.Fatalf("expected at least one LOGIN event, got %v", payload["count"])
	}

	resp = env.get("/v1/audit", url.Values{"action": []string{"SHRED"}}, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", resp.StatusCode)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestAPI(t)
	env.seed("sa1", "root@amexing.mx", "super-secret-1", roles.Superadmin, "", "", true)
	token := env.login("root@amexing.mx", "super-secret-1")

	// Unknown role is a validation error.
	resp := env.post("/v1/accounts", map[string]any{
		"email": "x@y.mx", "name": "X", "password": "longenough", "role": "wizard",
	}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", resp.StatusCode)
	}

	// Duplicate email is a conflict.
	resp = env.post("/v1/accounts", map[string]any{
		"email": "root@amexing.mx", "name": "Dup", "password": "longenough", "role": roles.Admin,
	}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}

	// Unknown fields are rejected at the decoder.
	resp = env.post("/v1/accounts", map[string]any{
		"email": "x@y.mx", "name": "X", "password": "longenough", "role": roles.Admin,
		"rank": 9,
	}, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}

func TestCancellationWorkflowOverHTTP(t *testing.T) {
	env := newTestAPI(t)
	env.seed("c1", "owner@corp.mx", "owner-password", roles.Client, "corp-1", "", true)
	env.seed("sa1", "root@amexing.mx", "super-secret-1", roles.Superadmin, "", "", true)

	clientToken := env.login("owner@corp.mx", "owner-password")
	resp := env.post("/v1/cancellations", map[string]any{
		"serviceId": "svc-42",
		"reason":    "flight moved",
	}, clientToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected submit status: %d", resp.StatusCode)
	}
	req := decode[cancellation.Request](t, resp)
	if req.Status != cancellation.StatusPending {
		t.Fatalf("expected pending request, got %s", req.Status)
	}

	// The requester cannot settle their own request.
	resp = env.post("/v1/cancellations/"+req.ID+"/approve", nil, clientToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for client decision, got %d", resp.StatusCode)
	}

	adminToken := env.login("root@amexing.mx", "super-secret-1")
	resp = env.post("/v1/cancellations/"+req.ID+"/approve", nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected approve status: %d", resp.StatusCode)
	}
	settled := decode[cancellation.Request](t, resp)
	if settled.Status != cancellation.StatusApproved {
		t.Fatalf("expected approved, got %s", settled.Status)
	}

	// Approving twice is a conflict.
	resp = env.post("/v1/cancellations/"+req.ID+"/approve", nil, adminToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for settled request, got %d", resp.StatusCode)
	}
}

func TestLogoutRecordsTrailEvent(t *testing.T) {
	env := newTestAPI(t)
	env.seed("sa1", "root@amexing.mx", "super-secret-1", roles.Superadmin, "", "", true)
	token := env.login("root@amexing.mx", "super-secret-1")

	resp := env.post("/v1/auth/logout", nil, token)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected logout status: %d", resp.StatusCode)
	}

	env.flush()
	events, err := env.trail.Query(context.Background(), audit.Query{Action: audit.ActionLogout})
	if err != nil {
		t.Fatalf("query trail: %v", err)
	}
	if len(events) != 1 || events[0].ActorID != "sa1" {
		t.Fatalf("expected one LOGOUT event for sa1, got %+v", events)
	}
}

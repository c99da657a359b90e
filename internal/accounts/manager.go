package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/audit"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/authz"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/ids"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/scope"
)

// LifecycleEvent is published after a successful account transition.
type LifecycleEvent struct {
	AccountID  string    `json:"accountId"`
	Transition string    `json:"transition"`
	ActorID    string    `json:"actorId"`
	At         time.Time `json:"at"`
}

// Manager owns account reads, writes and lifecycle transitions. Every
// operation resolves the caller, derives a visibility scope, checks the
// management rule and feeds the audit trail. Out-of-scope targets surface as
// NotFound so hidden records cannot be probed.
type Manager struct {
	store     Store
	authz     *authz.Authorizer
	scopes    *scope.Builder
	roleStore roles.Store
	recorder  *audit.Recorder
	notify    func(LifecycleEvent)
}

// NewManager wires the manager's collaborators.
func NewManager(store Store, a *authz.Authorizer, scopes *scope.Builder, roleStore roles.Store, recorder *audit.Recorder) (*Manager, error) {
	if store == nil || a == nil || scopes == nil || roleStore == nil || recorder == nil {
		return nil, errors.New("accounts: all collaborators are required")
	}
	return &Manager{store: store, authz: a, scopes: scopes, roleStore: roleStore, recorder: recorder}, nil
}

// OnLifecycle registers a callback invoked after each successful transition.
// Must be set before the manager is shared.
func (m *Manager) OnLifecycle(fn func(LifecycleEvent)) {
	m.notify = fn
}

// Authorizer exposes the access engine so adjacent surfaces can run their own
// rank checks against the same role resolution.
func (m *Manager) Authorizer() *authz.Authorizer {
	return m.authz
}

// List returns one page of visible accounts plus the total under the same
// scope. The enumeration itself is recorded as a READ event.
func (m *Manager) List(ctx context.Context, caller authz.Caller, f scope.Filter, page Page) (ListResult, error) {
	if caller.IsAnonymous() {
		return ListResult{}, authz.ErrUnauthenticated
	}
	cs, err := m.scopes.ForCaller(ctx, caller, f)
	if err != nil {
		return ListResult{}, err
	}
	page = page.Normalize()
	result := ListResult{Accounts: []Account{}, Limit: page.Limit, Offset: page.Offset}

	if !cs.MatchesNothing() {
		accs, err := m.store.List(ctx, cs, page)
		if err != nil {
			return ListResult{}, authz.Storage(err)
		}
		total, err := m.store.Count(ctx, cs)
		if err != nil {
			return ListResult{}, authz.Storage(err)
		}
		result.Accounts = accs
		result.Total = total
	}

	m.record(ctx, caller, audit.Event{
		Action: audit.ActionRead,
		Entity: "accounts",
		Detail: fmt.Sprintf("list limit=%d offset=%d total=%d", page.Limit, page.Offset, result.Total),
	})
	return result, nil
}

// Get returns one visible account.
func (m *Manager) Get(ctx context.Context, caller authz.Caller, id string) (Account, error) {
	if caller.IsAnonymous() {
		return Account{}, authz.ErrUnauthenticated
	}
	cs, err := m.scopes.ForCaller(ctx, caller, scope.Filter{})
	if err != nil {
		return Account{}, err
	}
	if cs.MatchesNothing() {
		return Account{}, ErrNotFound
	}
	acc, err := m.store.Get(ctx, id, cs)
	if err != nil {
		return Account{}, storeErr(err)
	}
	m.record(ctx, caller, audit.Event{
		Action:   audit.ActionAccess,
		Entity:   "accounts",
		EntityID: acc.ID,
	})
	return acc, nil
}

// NewAccount is the input for Create.
type NewAccount struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Password     string `json:"password"`
	RoleName     string `json:"role"`
	ClientID     string `json:"clientId,omitempty"`
	DepartmentID string `json:"departmentId,omitempty"`
}

// Create registers a new visible-active account. The actor must outrank the
// requested role and the role must fall inside the actor's own visibility,
// so nobody can create an account they could not manage afterwards. Client
// callers are pinned to their own company.
func (m *Manager) Create(ctx context.Context, caller authz.Caller, in NewAccount) (Account, error) {
	if caller.IsAnonymous() {
		return Account{}, authz.ErrUnauthenticated
	}
	resolved, err := m.authz.ResolveRole(ctx, caller)
	if err != nil {
		return Account{}, err
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	roleName := strings.ToLower(strings.TrimSpace(in.RoleName))
	switch {
	case in.Email == "" || !strings.Contains(in.Email, "@"):
		return Account{}, fmt.Errorf("accounts: invalid email: %w", authz.ErrValidation)
	case in.Name == "":
		return Account{}, fmt.Errorf("accounts: name is required: %w", authz.ErrValidation)
	case len(in.Password) < 8:
		return Account{}, fmt.Errorf("accounts: password too short: %w", authz.ErrValidation)
	case !m.authz.Directory().Known(roleName):
		return Account{}, fmt.Errorf("accounts: unknown role %q: %w", roleName, authz.ErrValidation)
	}

	ok, err := m.authz.CanManage(ctx, caller, authz.Caller{ID: "new", AssertedRole: roleName})
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, authz.Denied(resolved, authz.ConstraintManage)
	}
	// The new account must land inside the actor's own visibility.
	cs, err := m.scopes.ForCaller(ctx, caller, scope.Filter{TargetRole: roleName})
	if err != nil {
		return Account{}, err
	}
	if cs.MatchesNothing() {
		return Account{}, authz.Denied(resolved, authz.ConstraintRole)
	}
	if resolved == roles.Client {
		in.ClientID = caller.ClientID
	}
	if resolved == roles.DepartmentManager {
		in.DepartmentID = caller.DepartmentID
	}

	hash, err := authz.HashPassword(in.Password)
	if err != nil {
		return Account{}, fmt.Errorf("accounts: %v: %w", err, authz.ErrValidation)
	}

	now := time.Now().UTC()
	acc := Account{
		ID:           ids.New(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		RoleName:     roleName,
		ClientID:     in.ClientID,
		DepartmentID: in.DepartmentID,
		Active:       true,
		Exists:       true,
		CreatedBy:    caller.ID,
		ModifiedBy:   caller.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rec, err := m.roleStore.FindByName(ctx, roleName); err == nil {
		acc.RoleID = rec.ID
	} else if !errors.Is(err, roles.ErrNotFound) {
		return Account{}, authz.Storage(err)
	}

	if err := m.store.Insert(ctx, acc); err != nil {
		return Account{}, storeErr(err)
	}
	m.record(ctx, caller, audit.Event{
		Action:   audit.ActionCreate,
		Entity:   "accounts",
		EntityID: acc.ID,
		Detail:   "role=" + roleName,
	})
	m.publish(acc.ID, "created", caller.ID)
	return acc, nil
}

// UpdateRequest carries the mutable profile fields. Nil means unchanged.
type UpdateRequest struct {
	Name         *string `json:"name,omitempty"`
	Email        *string `json:"email,omitempty"`
	DepartmentID *string `json:"departmentId,omitempty"`
}

// Update edits profile fields. Callers may edit accounts they manage and
// their own record.
func (m *Manager) Update(ctx context.Context, caller authz.Caller, id string, upd UpdateRequest) (Account, error) {
	return m.transition(ctx, caller, id, "updated", true, func(acc *Account) (map[string]audit.FieldChange, error) {
		changes := map[string]audit.FieldChange{}
		if upd.Name != nil && *upd.Name != acc.Name {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return nil, fmt.Errorf("accounts: name is required: %w", authz.ErrValidation)
			}
			changes["name"] = audit.FieldChange{Before: acc.Name, After: name}
			acc.Name = name
		}
		if upd.Email != nil {
			email := strings.ToLower(strings.TrimSpace(*upd.Email))
			if email == "" || !strings.Contains(email, "@") {
				return nil, fmt.Errorf("accounts: invalid email: %w", authz.ErrValidation)
			}
			if email != acc.Email {
				changes["email"] = audit.FieldChange{Before: acc.Email, After: email}
				acc.Email = email
			}
		}
		if upd.DepartmentID != nil && *upd.DepartmentID != acc.DepartmentID {
			changes["departmentId"] = audit.FieldChange{Before: acc.DepartmentID, After: *upd.DepartmentID}
			acc.DepartmentID = *upd.DepartmentID
		}
		return changes, nil
	})
}

// Toggle flips between visible-active and visible-inactive. It always
// re-asserts existence, so a toggle can never produce or touch the archived
// state, and it never targets the caller's own record.
func (m *Manager) Toggle(ctx context.Context, caller authz.Caller, id string) (Account, error) {
	return m.transition(ctx, caller, id, "toggled", false, func(acc *Account) (map[string]audit.FieldChange, error) {
		changes := map[string]audit.FieldChange{
			"active": {Before: acc.Active, After: !acc.Active},
		}
		acc.Active = !acc.Active
		acc.Exists = true
		return changes, nil
	})
}

// Deactivate moves a visible-active account to visible-inactive.
func (m *Manager) Deactivate(ctx context.Context, caller authz.Caller, id string) (Account, error) {
	return m.transition(ctx, caller, id, "deactivated", false, func(acc *Account) (map[string]audit.FieldChange, error) {
		if !acc.Active {
			return nil, fmt.Errorf("accounts: %s is already inactive: %w", acc.ID, authz.ErrConflict)
		}
		acc.Active = false
		acc.Exists = true
		return map[string]audit.FieldChange{"active": {Before: true, After: false}}, nil
	})
}

// Reactivate moves a visible-inactive account back to visible-active. Only
// callers whose scope includes inactive records can reach one.
func (m *Manager) Reactivate(ctx context.Context, caller authz.Caller, id string) (Account, error) {
	return m.transition(ctx, caller, id, "reactivated", false, func(acc *Account) (map[string]audit.FieldChange, error) {
		if acc.Active {
			return nil, fmt.Errorf("accounts: %s is already active: %w", acc.ID, authz.ErrConflict)
		}
		acc.Active = true
		acc.Exists = true
		return map[string]audit.FieldChange{"active": {Before: false, After: true}}, nil
	})
}

// Archive permanently hides an account. Superadmin only, never against
// oneself, and there is no way back through this API.
func (m *Manager) Archive(ctx context.Context, caller authz.Caller, id string) (Account, error) {
	resolved, err := m.authz.ResolveRole(ctx, caller)
	if err != nil {
		return Account{}, err
	}
	if resolved != roles.Superadmin {
		return Account{}, authz.Denied(resolved, authz.ConstraintRole)
	}
	return m.transition(ctx, caller, id, "archived", false, func(acc *Account) (map[string]audit.FieldChange, error) {
		if !acc.Exists {
			return nil, fmt.Errorf("accounts: %s is already archived: %w", acc.ID, authz.ErrConflict)
		}
		changes := map[string]audit.FieldChange{
			"active": {Before: acc.Active, After: false},
			"exists": {Before: true, After: false},
		}
		acc.Active = false
		acc.Exists = false
		return changes, nil
	})
}

// Authenticate checks credentials for login. Every failure is reported as
// Unauthenticated so probing cannot distinguish a wrong password from a
// missing or deactivated account.
func (m *Manager) Authenticate(ctx context.Context, email, password string) (Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	acc, err := m.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, authz.ErrNotFound) {
			return Account{}, authz.ErrUnauthenticated
		}
		return Account{}, authz.Storage(err)
	}
	if !acc.Active || !acc.Exists {
		return Account{}, authz.ErrUnauthenticated
	}
	if err := authz.VerifyPassword(acc.PasswordHash, password); err != nil {
		return Account{}, authz.ErrUnauthenticated
	}
	return acc, nil
}

// transition runs a read-check-write lifecycle change under the store's
// per-record lock. The scope is re-applied inside the lock, the management
// rule is checked against the fresh record, and the resulting state pair is
// validated before the write lands.
func (m *Manager) transition(ctx context.Context, caller authz.Caller, id, name string, allowSelf bool, mutate func(*Account) (map[string]audit.FieldChange, error)) (Account, error) {
	if caller.IsAnonymous() {
		return Account{}, authz.ErrUnauthenticated
	}
	resolved, err := m.authz.ResolveRole(ctx, caller)
	if err != nil {
		return Account{}, err
	}
	cs, err := m.scopes.ForCaller(ctx, caller, scope.Filter{})
	if err != nil {
		return Account{}, err
	}
	if cs.MatchesNothing() {
		return Account{}, ErrNotFound
	}
	if !allowSelf && caller.ID == id {
		return Account{}, fmt.Errorf("accounts: %s may not target the caller's own account: %w", name, authz.ErrConflict)
	}

	var changes map[string]audit.FieldChange
	acc, err := m.store.Transition(ctx, id, cs, func(acc *Account) error {
		if caller.ID != acc.ID {
			ok, err := m.authz.CanManage(ctx, caller, authz.Caller{ID: acc.ID, RoleID: acc.RoleID, RoleName: acc.RoleName})
			if err != nil {
				return err
			}
			if !ok {
				return authz.Denied(resolved, authz.ConstraintManage)
			}
		}
		changes, err = mutate(acc)
		if err != nil {
			return err
		}
		if _, err := acc.State(); err != nil {
			return err
		}
		acc.ModifiedBy = caller.ID
		acc.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return Account{}, storeErr(err)
	}

	if len(changes) > 0 || name != "updated" {
		m.record(ctx, caller, audit.Event{
			Action:   audit.ActionUpdate,
			Entity:   "accounts",
			EntityID: acc.ID,
			Detail:   name,
			Changes:  changes,
		})
	}
	m.publish(acc.ID, name, caller.ID)
	return acc, nil
}

func (m *Manager) record(ctx context.Context, caller authz.Caller, ev audit.Event) {
	ev.ActorID = caller.ID
	if ev.ActorRole == "" {
		if resolved, err := m.authz.ResolveRole(ctx, caller); err == nil {
			ev.ActorRole = resolved
		}
	}
	// Best effort; the recorder logs and counts its own failures.
	_ = m.recorder.Record(ctx, ev)
}

func (m *Manager) publish(accountID, transition, actorID string) {
	if m.notify == nil {
		return
	}
	m.notify(LifecycleEvent{
		AccountID:  accountID,
		Transition: transition,
		ActorID:    actorID,
		At:         time.Now().UTC(),
	})
}

// storeErr keeps taxonomy errors intact and wraps raw storage failures.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authz.ErrNotFound),
		errors.Is(err, authz.ErrConflict),
		errors.Is(err, authz.ErrValidation),
		errors.Is(err, authz.ErrPermissionDenied),
		errors.Is(err, authz.ErrStorageUnavailable):
		return err
	default:
		return authz.Storage(err)
	}
}

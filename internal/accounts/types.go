package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/authz"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/scope"
)

// Account is an operator-panel account. Lifecycle state lives in the
// (Active, Exists) pair: (true, true) is visible and active, (false, true) is
// soft-deactivated, (false, false) is archived. (true, false) is never valid.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	RoleID       string    `json:"roleId,omitempty"`
	RoleName     string    `json:"role"`
	ClientID     string    `json:"clientId,omitempty"`
	DepartmentID string    `json:"departmentId,omitempty"`
	Active       bool      `json:"active"`
	Exists       bool      `json:"exists"`
	CreatedBy    string    `json:"createdBy,omitempty"`
	ModifiedBy   string    `json:"modifiedBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// State names the lifecycle position of an (Active, Exists) pair.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateArchived State = "archived"
)

// State validates and names the account's lifecycle position.
func (a Account) State() (State, error) {
	switch {
	case a.Active && a.Exists:
		return StateActive, nil
	case !a.Active && a.Exists:
		return StateInactive, nil
	case !a.Active && !a.Exists:
		return StateArchived, nil
	default:
		return "", fmt.Errorf("accounts: %s is active but does not exist: %w", a.ID, authz.ErrValidation)
	}
}

// Field exposes the account to scope evaluation.
func (a Account) Field(name string) any {
	switch name {
	case scope.FieldID:
		return a.ID
	case scope.FieldRoleID:
		return a.RoleID
	case scope.FieldClientID:
		return a.ClientID
	case scope.FieldDepartmentID:
		return a.DepartmentID
	case scope.FieldActive:
		return a.Active
	case scope.FieldExists:
		return a.Exists
	}
	return nil
}

// Page bounds a listing.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ListResult is one page plus the total under the same visibility scope, so
// the total can never disagree with what paging through would return.
type ListResult struct {
	Accounts []Account `json:"accounts"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// Sentinel store errors, wrapped into the shared taxonomy.
var (
	ErrNotFound   = fmt.Errorf("accounts: not found: %w", authz.ErrNotFound)
	ErrEmailTaken = fmt.Errorf("accounts: email already registered: %w", authz.ErrConflict)
)

// Store persists accounts. Get, List and Count apply the caller's scope
// inside the store so an out-of-scope record is indistinguishable from a
// missing one. Transition runs the mutation under a per-record lock: the
// record is re-read, re-checked against the scope, mutated and written
// without interleaving writers.
type Store interface {
	Insert(ctx context.Context, acc Account) error
	Get(ctx context.Context, id string, cs scope.ConstraintSet) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	List(ctx context.Context, cs scope.ConstraintSet, p Page) ([]Account, error)
	Count(ctx context.Context, cs scope.ConstraintSet) (int, error)
	Transition(ctx context.Context, id string, cs scope.ConstraintSet, mutate func(*Account) error) (Account, error)
}

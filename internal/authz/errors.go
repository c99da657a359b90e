package authz

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthenticated means no caller identity could be resolved.
	ErrUnauthenticated = errors.New("authz: unauthenticated")
	// ErrPermissionDenied is the sentinel all PermissionError values match.
	ErrPermissionDenied = errors.New("authz: permission denied")
	// ErrNotFound covers both absent targets and targets hidden from the
	// caller's scope; the two are intentionally indistinguishable.
	ErrNotFound = errors.New("authz: not found")
	// ErrValidation means malformed input to a transition.
	ErrValidation = errors.New("authz: validation failed")
	// ErrConflict means the requested transition is not legal from the
	// target's current state, or targets the caller itself.
	ErrConflict = errors.New("authz: conflict")
	// ErrStorageUnavailable wraps persistence I/O failures; retryable.
	ErrStorageUnavailable = errors.New("authz: storage unavailable")
)

// Constraint classes reported on denial. The class is user-visible; internal
// rank numbers and other users' roles are not.
const (
	ConstraintRole         = "role"
	ConstraintRank         = "rank"
	ConstraintOrganization = "organization"
	ConstraintManage       = "manage"
	ConstraintSelf         = "self"
)

// PermissionError reports a denied check together with the caller's resolved
// role and the constraint class that failed, for audit logging.
type PermissionError struct {
	ResolvedRole string
	Constraints  []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("authz: permission denied (role=%s, failed=%s)",
		e.ResolvedRole, strings.Join(e.Constraints, ","))
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Denied constructs a PermissionError for the given constraint classes.
func Denied(resolvedRole string, constraints ...string) error {
	return &PermissionError{ResolvedRole: resolvedRole, Constraints: constraints}
}

// Storage wraps a persistence error so callers can retry; a nil error stays
// nil.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

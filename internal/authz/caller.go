package authz

import (
	"context"
	"strings"
)

// Caller is the identity an operation runs as. The same shape describes the
// target of a management check. Role information may arrive in any of three
// forms; ResolveRole collapses them with a strict precedence order so call
// sites never branch on the representation.
type Caller struct {
	ID string

	// AssertedRole is a role already verified by an upstream credential
	// layer (e.g. a signed token claim). When present it is authoritative.
	AssertedRole string

	// RoleID is the pointer-form role reference from the account record.
	RoleID string

	// RoleName is the legacy denormalized role string. When it disagrees
	// with the dereferenced pointer, the pointer wins.
	RoleName string

	ClientID     string
	DepartmentID string
}

// IsAnonymous reports whether the caller has no resolvable identity.
func (c Caller) IsAnonymous() bool {
	return strings.TrimSpace(c.ID) == ""
}

type callerContextKey struct{}

// ContextWithCaller attaches the authenticated caller to the context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, &caller)
}

// CallerFromContext extracts the authenticated caller from the context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(*Caller)
	if !ok || v == nil {
		return Caller{}, false
	}
	return *v, true
}

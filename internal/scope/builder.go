package scope

import (
	"context"
	"errors"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/authz"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/obs"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
)

// Filter narrows a listing to a target role or organization on top of what the
// caller is allowed to see. Filters can only shrink a scope, never widen it.
type Filter struct {
	TargetRole   string
	Organization roles.Organization
}

// Builder derives the visibility constraints for a caller. Services apply the
// resulting ConstraintSet before any user-supplied filter, and the same set
// drives both the page query and the total count so pagination stays
// consistent.
type Builder struct {
	authz *authz.Authorizer
	store roles.Store
}

// NewBuilder wires the role resolver and the persisted role records.
func NewBuilder(a *authz.Authorizer, store roles.Store) (*Builder, error) {
	if a == nil {
		return nil, errors.New("scope: authorizer is required")
	}
	if store == nil {
		return nil, errors.New("scope: role store is required")
	}
	return &Builder{authz: a, store: store}, nil
}

// ForCaller computes the constraints a query must carry for this caller.
//
// Archived records are invisible to everyone. Soft-deactivated records are
// visible only from admin rank up. Role visibility narrows with rank:
// superadmin sees all roles, admin sees everyone below superadmin, a client
// sees employees and department managers inside its own company, a department
// manager sees employees inside its own department, and everyone else sees
// only their own record. Any rule that cannot be evaluated yields MatchNone.
//
// A storage failure while resolving roles returns the error unchanged; the
// caller retries rather than silently seeing nothing.
func (b *Builder) ForCaller(ctx context.Context, caller authz.Caller, f Filter) (ConstraintSet, error) {
	resolved, err := b.authz.ResolveRole(ctx, caller)
	if err != nil {
		return MatchNone(), err
	}
	dir := b.authz.Directory()

	set := Unrestricted().WithEq(FieldExists, true)
	if dir.RankOf(resolved) < roles.MinRankSeeInactive {
		set = set.WithEq(FieldActive, true)
	}

	allowed, restricted := b.allowedRoles(dir, resolved)

	switch resolved {
	case roles.Client:
		if caller.ClientID != "" {
			set = set.WithEq(FieldClientID, caller.ClientID)
		}
	case roles.DepartmentManager:
		if caller.DepartmentID == "" {
			return b.deny(resolved, "department_manager without department"), nil
		}
		set = set.WithEq(FieldDepartmentID, caller.DepartmentID)
	}

	if allowed == nil {
		// Self-only callers ignore every requested filter.
		if caller.ID == "" {
			return b.deny(resolved, "anonymous caller"), nil
		}
		return set.WithEq(FieldID, caller.ID), nil
	}

	if f.TargetRole != "" {
		target, ok := dir.Lookup(f.TargetRole)
		if !ok {
			return b.deny(resolved, "unknown target role"), nil
		}
		if !contains(allowed, target.Name) {
			return b.deny(resolved, "target role outside caller scope"), nil
		}
		allowed = []string{target.Name}
		restricted = true
	}
	if f.Organization != "" {
		allowed = intersect(allowed, dir.NamesByOrganization(f.Organization))
		if len(allowed) == 0 {
			return b.deny(resolved, "organization filter excludes all visible roles"), nil
		}
		restricted = true
	}

	if !restricted {
		return set, nil
	}

	recs, err := b.store.ListByNames(ctx, allowed)
	if err != nil {
		return MatchNone(), authz.Storage(err)
	}
	ids := make([]any, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	if len(ids) == 0 {
		return b.deny(resolved, "no persisted roles for visible set"), nil
	}
	return set.WithIn(FieldRoleID, ids...), nil
}

// allowedRoles returns the role names the resolved role may see, or nil for
// self-only visibility. restricted reports whether the set is narrower than
// the full directory.
func (b *Builder) allowedRoles(dir *roles.Directory, resolved string) (allowed []string, restricted bool) {
	switch resolved {
	case roles.Superadmin:
		all := append(dir.NamesByOrganization(roles.OrgAmexing), dir.NamesByOrganization(roles.OrgClient)...)
		return all, false
	case roles.Admin:
		all := append(dir.NamesByOrganization(roles.OrgAmexing), dir.NamesByOrganization(roles.OrgClient)...)
		out := make([]string, 0, len(all))
		for _, name := range all {
			if name != roles.Superadmin {
				out = append(out, name)
			}
		}
		return out, true
	case roles.Client:
		return []string{roles.DepartmentManager, roles.Employee}, true
	case roles.DepartmentManager:
		return []string{roles.Employee}, true
	default:
		return nil, true
	}
}

func (b *Builder) deny(resolved, reason string) ConstraintSet {
	obs.LogEvent(map[string]any{
		"type":          "scope",
		"event":         "scope.match_none",
		"resolved_role": resolved,
		"reason":        reason,
	})
	return MatchNone()
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func intersect(a, b []string) []string {
	keep := make(map[string]struct{}, len(b))
	for _, n := range b {
		keep[n] = struct{}{}
	}
	var out []string
	for _, n := range a {
		if _, ok := keep[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

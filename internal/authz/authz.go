package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/obs"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
)

// Authorizer answers admit/deny questions about callers. It is pure decision
// logic: beyond structured log lines it never mutates anything.
type Authorizer struct {
	dir   *roles.Directory
	store roles.Store
}

// New constructs an Authorizer over an immutable role directory and the
// persisted role records used to dereference pointer-form role references.
func New(dir *roles.Directory, store roles.Store) (*Authorizer, error) {
	if dir == nil {
		return nil, errors.New("authz: role directory is required")
	}
	if store == nil {
		return nil, errors.New("authz: role store is required")
	}
	return &Authorizer{dir: dir, store: store}, nil
}

// Directory exposes the injected role table for collaborators that need rank
// or organization lookups alongside authorization checks.
func (a *Authorizer) Directory() *roles.Directory {
	return a.dir
}

// ResolveRole determines the caller's effective role name. Precedence:
// asserted role from a verified upstream credential, then the dereferenced
// role pointer, then the legacy denormalized string, then guest. The guest
// fallback on ambiguity is deliberate: an undeterminable role must fail
// closed. The only error returned is a storage failure, which propagates as
// retryable rather than collapsing into a denial.
func (a *Authorizer) ResolveRole(ctx context.Context, caller Caller) (string, error) {
	if asserted := normalizeRole(caller.AssertedRole); asserted != "" {
		return asserted, nil
	}

	if strings.TrimSpace(caller.RoleID) != "" {
		rec, err := a.store.Find(ctx, caller.RoleID)
		switch {
		case err == nil:
			pointerName := normalizeRole(rec.Name)
			if legacy := normalizeRole(caller.RoleName); legacy != "" && legacy != pointerName {
				obs.LogEvent(map[string]any{
					"type":    "authz",
					"event":   "authz.role_discrepancy",
					"caller":  caller.ID,
					"pointer": pointerName,
					"legacy":  legacy,
				})
			}
			if pointerName != "" {
				return pointerName, nil
			}
		case errors.Is(err, roles.ErrNotFound):
			// Dangling pointer; fall through to the legacy string.
		default:
			return "", Storage(err)
		}
	}

	if legacy := normalizeRole(caller.RoleName); legacy != "" && a.dir.Known(legacy) {
		return legacy, nil
	}
	return roles.Guest, nil
}

// hasAnyRole resolves once and shares the resolved role with both variants.
func (a *Authorizer) hasAnyRole(ctx context.Context, caller Caller, wanted []string) (bool, string, error) {
	resolved, err := a.ResolveRole(ctx, caller)
	if err != nil {
		return false, "", err
	}
	ok := false
	for _, w := range wanted {
		if resolved == normalizeRole(w) {
			ok = true
			break
		}
	}
	a.logDecision(ConstraintRole, caller, resolved, fmt.Sprintf("one of %v", wanted), ok)
	return ok, resolved, nil
}

// HasAnyRole reports whether the caller's resolved role is in the given set.
func (a *Authorizer) HasAnyRole(ctx context.Context, caller Caller, wanted ...string) (bool, error) {
	ok, _, err := a.hasAnyRole(ctx, caller, wanted)
	return ok, err
}

// MustHaveAnyRole is HasAnyRole with denial turned into a PermissionError
// carrying the resolved role, for logging.
func (a *Authorizer) MustHaveAnyRole(ctx context.Context, caller Caller, wanted ...string) error {
	ok, resolved, err := a.hasAnyRole(ctx, caller, wanted)
	if err != nil {
		return err
	}
	if !ok {
		return Denied(resolved, ConstraintRole)
	}
	return nil
}

func (a *Authorizer) hasMinimumRank(ctx context.Context, caller Caller, min roles.Rank) (bool, string, error) {
	resolved, err := a.ResolveRole(ctx, caller)
	if err != nil {
		return false, "", err
	}
	ok := a.dir.RankOf(resolved) >= min
	a.logDecision(ConstraintRank, caller, resolved, fmt.Sprintf("rank>=%d", min), ok)
	return ok, resolved, nil
}

// HasMinimumRank reports whether the caller's resolved role meets the rank.
func (a *Authorizer) HasMinimumRank(ctx context.Context, caller Caller, min roles.Rank) (bool, error) {
	ok, _, err := a.hasMinimumRank(ctx, caller, min)
	return ok, err
}

// MustHaveMinimumRank is the failing variant of HasMinimumRank.
func (a *Authorizer) MustHaveMinimumRank(ctx context.Context, caller Caller, min roles.Rank) error {
	ok, resolved, err := a.hasMinimumRank(ctx, caller, min)
	if err != nil {
		return err
	}
	if !ok {
		return Denied(resolved, ConstraintRank)
	}
	return nil
}

func (a *Authorizer) isMemberOf(ctx context.Context, caller Caller, org roles.Organization) (bool, string, error) {
	resolved, err := a.ResolveRole(ctx, caller)
	if err != nil {
		return false, "", err
	}
	callerOrg, known := a.dir.OrganizationOf(resolved)
	ok := known && callerOrg == org
	a.logDecision(ConstraintOrganization, caller, resolved, string(org), ok)
	return ok, resolved, nil
}

// IsMemberOf reports whether the caller's resolved role belongs to the
// organization. Unknown roles belong to no organization.
func (a *Authorizer) IsMemberOf(ctx context.Context, caller Caller, org roles.Organization) (bool, error) {
	ok, _, err := a.isMemberOf(ctx, caller, org)
	return ok, err
}

// MustBeMemberOf is the failing variant of IsMemberOf.
func (a *Authorizer) MustBeMemberOf(ctx context.Context, caller Caller, org roles.Organization) error {
	ok, resolved, err := a.isMemberOf(ctx, caller, org)
	if err != nil {
		return err
	}
	if !ok {
		return Denied(resolved, ConstraintOrganization)
	}
	return nil
}

// CanManage reports whether actor outranks target. Strictly greater: equal
// rank never manages equal rank, so lateral actions between peers are
// impossible without an explicit self-service rule elsewhere.
func (a *Authorizer) CanManage(ctx context.Context, actor, target Caller) (bool, error) {
	actorRole, err := a.ResolveRole(ctx, actor)
	if err != nil {
		return false, err
	}
	targetRole, err := a.ResolveRole(ctx, target)
	if err != nil {
		return false, err
	}
	ok := a.dir.RankOf(actorRole) > a.dir.RankOf(targetRole)
	a.logDecision(ConstraintManage, actor, actorRole, "outranks "+target.ID, ok)
	return ok, nil
}

// Requirement is a conjunction of constraints for ValidateAll. Zero values
// are skipped.
type Requirement struct {
	Roles        []string
	MinRank      roles.Rank
	Organization roles.Organization
}

// Decision is the outcome of ValidateAll: whether the conjunction held and,
// when it did not, which constraint classes failed.
type Decision struct {
	Allowed      bool
	ResolvedRole string
	Failed       []string
}

// Err converts a denied decision into a PermissionError; allowed decisions
// yield nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return Denied(d.ResolvedRole, d.Failed...)
}

// ValidateAll evaluates every requested constraint and reports the ones that
// failed, so the caller can log precisely which sub-rule denied the request.
func (a *Authorizer) ValidateAll(ctx context.Context, caller Caller, req Requirement) (Decision, error) {
	resolved, err := a.ResolveRole(ctx, caller)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: true, ResolvedRole: resolved}

	if len(req.Roles) > 0 {
		ok := false
		for _, w := range req.Roles {
			if resolved == normalizeRole(w) {
				ok = true
				break
			}
		}
		if !ok {
			d.Allowed = false
			d.Failed = append(d.Failed, ConstraintRole)
		}
	}
	if req.MinRank > 0 && a.dir.RankOf(resolved) < req.MinRank {
		d.Allowed = false
		d.Failed = append(d.Failed, ConstraintRank)
	}
	if req.Organization != "" {
		org, known := a.dir.OrganizationOf(resolved)
		if !known || org != req.Organization {
			d.Allowed = false
			d.Failed = append(d.Failed, ConstraintOrganization)
		}
	}

	a.logDecision("validate_all", caller, resolved, fmt.Sprintf("%+v", req), d.Allowed)
	return d, nil
}

func (a *Authorizer) logDecision(check string, caller Caller, resolved, required string, allowed bool) {
	obs.AuthzDecision(check, allowed)
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	obs.LogEvent(map[string]any{
		"type":          "authz",
		"check":         check,
		"caller":        caller.ID,
		"resolved_role": resolved,
		"required":      required,
		"outcome":       outcome,
	})
}

func normalizeRole(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

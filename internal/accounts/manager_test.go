package accounts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/M4u2002/Amexing-Experience-sub004/internal/audit"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/authz"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/roles"
	"github.com/M4u2002/Amexing-Experience-sub004/internal/scope"
)

type fakeRoleStore struct {
	byID   map[string]roles.Record
	byName map[string]roles.Record
}

func (f *fakeRoleStore) Find(ctx context.Context, id string) (roles.Record, error) {
	rec, ok := f.byID[id]
	if !ok {
		return roles.Record{}, roles.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRoleStore) FindByName(ctx context.Context, name string) (roles.Record, error) {
	rec, ok := f.byName[name]
	if !ok {
		return roles.Record{}, roles.ErrNotFound
	}
	return rec, nil
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

type fixture struct {
	store *InMemory
	roles *fakeRoleStore
	trail *audit.InMemory
	rec   *audit.Recorder
	mgr   *Manager

	closeOnce sync.Once
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: NewInMemory(), roles: seededRoles(), trail: audit.NewInMemory()}

	a, err := authz.New(roles.Default(), f.roles)
	require.NoError(t, err)
	sb, err := scope.NewBuilder(a, f.roles)
	require.NoError(t, err)
	f.rec, err = audit.NewRecorder(f.trail)
	require.NoError(t, err)
	f.mgr, err = NewManager(f.store, a, sb, f.roles, f.rec)
	require.NoError(t, err)

	t.Cleanup(f.flush)
	return f
}

// flush drains the audit queue so trail assertions see every event.
func (f *fixture) flush() {
	f.closeOnce.Do(f.rec.Close)
}

func (f *fixture) seed(t *testing.T, id, email, role, clientID, deptID string, active, exists bool) Account {
	t.Helper()
	now := time.Now().UTC()
	acc := Account{
		ID: id, Email: email, Name: "Seed " + id,
		RoleID: f.roles.byName[role].ID, RoleName: role,
		ClientID: clientID, DepartmentID: deptID,
		Active: active, Exists: exists,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.store.Insert(context.Background(), acc))
	return acc
}

var (
	superCaller = authz.Caller{ID: "sa1", AssertedRole: roles.Superadmin}
	adminCaller = authz.Caller{ID: "ad1", AssertedRole: roles.Admin}
)

func TestCreateAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc, err := f.mgr.Create(ctx, superCaller, NewAccount{
		Email:    "Ops.Lead@amexing.mx",
		Name:     "Ops Lead",
		Password: "correct-horse",
		RoleName: "Admin",
	})
	require.NoError(t, err)
	require.Equal(t, "ops.lead@amexing.mx", acc.Email)
	require.Equal(t, roles.Admin, acc.RoleName)
	require.Equal(t, f.roles.byName[roles.Admin].ID, acc.RoleID)
	require.True(t, acc.Active)
	require.True(t, acc.Exists)
	require.Equal(t, superCaller.ID, acc.CreatedBy)
	require.NoError(t, authz.VerifyPassword(acc.PasswordHash, "correct-horse"))

	f.flush()
	events, err := f.trail.Query(ctx, audit.Query{Action: audit.ActionCreate})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, acc.ID, events[0].EntityID)
	require.Equal(t, roles.Superadmin, events[0].ActorRole)
}

func TestStateNamesAndValidatesTheLifecyclePair(t *testing.T) {
	cases := []struct {
		active, exists bool
		want           State
	}{
		{true, true, StateActive},
		{false, true, StateInactive},
		{false, false, StateArchived},
	}
	for _, tc := range cases {
		got, err := Account{ID: "a1", Active: tc.active, Exists: tc.exists}.State()
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	// Active-but-archived is a contract violation, never a fourth state.
	_, err := Account{ID: "a1", Active: true, Exists: false}.State()
	require.ErrorIs(t, err, authz.ErrValidation)
}

func TestTransitionRejectsActiveButArchivedWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "d1", "driver@amexing.mx", roles.Driver, "", "", true, true)

	// A mutation producing (active=true, exists=false) must fail validation
	// and leave the record untouched.
	_, err := f.mgr.transition(ctx, superCaller, "d1", "corrupted", false, func(acc *Account) (map[string]audit.FieldChange, error) {
		acc.Active = true
		acc.Exists = false
		return nil, nil
	})
	require.ErrorIs(t, err, authz.ErrValidation)

	got, err := f.store.Get(ctx, "d1", scope.Unrestricted())
	require.NoError(t, err)
	require.True(t, got.Active)
	require.True(t, got.Exists)
}

func TestCreateRequiresManagingTheTargetRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Equal rank: an admin cannot mint another admin.
	_, err := f.mgr.Create(ctx, adminCaller, NewAccount{
		Email: "a@b.mx", Name: "A", Password: "longenough", RoleName: roles.Admin,
	})
	require.ErrorIs(t, err, authz.ErrPermissionDenied)

	// Rank alone is not enough: a client outranks drivers but drivers are
	// outside the client's visibility, so creation is denied.
	clientCaller := authz.Caller{ID: "c1", AssertedRole: roles.Client, ClientID: "corp-1"}
	_, err = f.mgr.Create(ctx, clientCaller, NewAccount{
		Email: "d@b.mx", Name: "D", Password: "longenough", RoleName: roles.Driver,
	})
	require.ErrorIs(t, err, authz.ErrPermissionDenied)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, in := range []NewAccount{
		{Email: "not-an-email", Name: "X", Password: "longenough", RoleName: roles.Driver},
		{Email: "x@b.mx", Name: "", Password: "longenough", RoleName: roles.Driver},
		{Email: "x@b.mx", Name: "X", Password: "short", RoleName: roles.Driver},
		{Email: "x@b.mx", Name: "X", Password: "longenough", RoleName: "warlord"},
	} {
		_, err := f.mgr.Create(ctx, superCaller, in)
		require.ErrorIs(t, err, authz.ErrValidation, "input %+v", in)
	}
}

func TestCreatePinsClientCompany(t *testing.T) {
	f := newFixture(t)
	clientCaller := authz.Caller{ID: "c1", AssertedRole: roles.Client, ClientID: "corp-1"}

	acc, err := f.mgr.Create(context.Background(), clientCaller, NewAccount{
		Email: "emp@corp.mx", Name: "Emp", Password: "longenough",
		RoleName: roles.Employee, ClientID: "corp-other",
	})
	require.NoError(t, err)
	require.Equal(t, "corp-1", acc.ClientID)
}

func TestCreateDuplicateEmailConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := NewAccount{Email: "dup@b.mx", Name: "X", Password: "longenough", RoleName: roles.Driver}

	_, err := f.mgr.Create(ctx, superCaller, in)
	require.NoError(t, err)
	_, err = f.mgr.Create(ctx, superCaller, in)
	require.ErrorIs(t, err, authz.ErrConflict)
}

func TestListIsScopedAndConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seed(t, "e1", "e1@corp.mx", roles.Employee, "corp-1", "d1", true, true)
	f.seed(t, "e2", "e2@corp.mx", roles.Employee, "corp-1", "d2", true, true)
	f.seed(t, "m1", "m1@corp.mx", roles.DepartmentManager, "corp-1", "d1", true, true)
	f.seed(t, "e3", "e3@other.mx", roles.Employee, "corp-2", "d9", true, true)
	f.seed(t, "dr1", "dr1@amexing.mx", roles.Driver, "", "", true, true)
	f.seed(t, "e4", "e4@corp.mx", roles.Employee, "corp-1", "d1", false, true)

	clientCaller := authz.Caller{ID: "c1", AssertedRole: roles.Client, ClientID: "corp-1"}
	res, err := f.mgr.List(ctx, clientCaller, scope.Filter{}, Page{})
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	for _, acc := range res.Accounts {
		require.Equal(t, "corp-1", acc.ClientID)
		require.True(t, acc.Active, "client must not see deactivated accounts")
	}

	// The total tracks the same scope as the page, whatever the page size.
	small, err := f.mgr.List(ctx, clientCaller, scope.Filter{}, Page{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 3, small.Total)
	require.Len(t, small.Accounts, 1)

	// Admin rank sees deactivated records too.
	res, err = f.mgr.List(ctx, adminCaller, scope.Filter{}, Page{})
	require.NoError(t, err)
	require.Equal(t, 6, res.Total)

	dmCaller := authz.Caller{ID: "m1", AssertedRole: roles.DepartmentManager, ClientID: "corp-1", DepartmentID: "d1"}
	res, err = f.mgr.List(ctx, dmCaller, scope.Filter{}, Page{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, "e1", res.Accounts[0].ID)

	f.flush()
	events, err := f.trail.Query(ctx, audit.Query{Action: audit.ActionRead})
	require.NoError(t, err)
	require.Len(t, events, 4, "every enumeration lands in the trail")
}

func TestGetOutOfScopeIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "dr1", "dr1@amexing.mx", roles.Driver, "", "", true, true)

	clientCaller := authz.Caller{ID: "c1", AssertedRole: roles.Client, ClientID: "corp-1"}

	_, err := f.mgr.Get(ctx, clientCaller, "dr1")
	require.ErrorIs(t, err, authz.ErrNotFound)
	_, err = f.mgr.Get(ctx, clientCaller, "no-such-id")
	require.ErrorIs(t, err, authz.ErrNotFound, "hidden and missing must be indistinguishable")
}

func TestToggleFlipsAndReassertsExistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "e1", "e1@corp.mx", roles.Employee, "corp-1", "d1", true, true)

	acc, err := f.mgr.Toggle(ctx, adminCaller, "e1")
	require.NoError(t, err)
	require.False(t, acc.Active)
	require.True(t, acc.Exists)

	acc, err = f.mgr.Toggle(ctx, adminCaller, "e1")
	require.NoError(t, err)
	require.True(t, acc.Active)
	require.True(t, acc.Exists)

	f.flush()
	events, err := f.trail.Query(ctx, audit.Query{Action: audit.ActionUpdate, EntityID: "e1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Contains(t, events[0].Changes, "active")
}

func TestSelfTargetingTransitionsAreForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "sa1", "sa@amexing.mx", roles.Superadmin, "", "", true, true)

	_, err := f.mgr.Toggle(ctx, superCaller, "sa1")
	require.ErrorIs(t, err, authz.ErrConflict)
	_, err = f.mgr.Deactivate(ctx, superCaller, "sa1")
	require.ErrorIs(t, err, authz.ErrConflict)
	_, err = f.mgr.Archive(ctx, superCaller, "sa1")
	require.ErrorIs(t, err, authz.ErrConflict)
}

func TestDeactivateAndReactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "e1", "e1@corp.mx", roles.Employee, "corp-1", "d1", true, true)

	acc, err := f.mgr.Deactivate(ctx, adminCaller, "e1")
	require.NoError(t, err)
	require.False(t, acc.Active)

	_, err = f.mgr.Deactivate(ctx, adminCaller, "e1")
	require.ErrorIs(t, err, authz.ErrConflict)

	// A client cannot reach the deactivated record at all.
	clientCaller := authz.Caller{ID: "c1", AssertedRole: roles.Client, ClientID: "corp-1"}
	_, err = f.mgr.Reactivate(ctx, clientCaller, "e1")
	require.ErrorIs(t, err, authz.ErrNotFound)

	acc, err = f.mgr.Reactivate(ctx, adminCaller, "e1")
	require.NoError(t, err)
	require.True(t, acc.Active)
	require.True(t, acc.Exists)
}

func TestArchiveIsSuperadminOnlyAndIrreversible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "e1", "e1@corp.mx", roles.Employee, "corp-1", "d1", true, true)

	_, err := f.mgr.Archive(ctx, adminCaller, "e1")
	require.ErrorIs(t, err, authz.ErrPermissionDenied)

	acc, err := f.mgr.Archive(ctx, superCaller, "e1")
	require.NoError(t, err)
	require.False(t, acc.Active)
	require.False(t, acc.Exists)

	// Archived records vanish from every surface, highest rank included.
	_, err = f.mgr.Get(ctx, superCaller, "e1")
	require.ErrorIs(t, err, authz.ErrNotFound)
	_, err = f.mgr.Reactivate(ctx, superCaller, "e1")
	require.ErrorIs(t, err, authz.ErrNotFound)
	_, err = f.mgr.Archive(ctx, superCaller, "e1")
	require.ErrorIs(t, err, authz.ErrNotFound)
}

func TestUpdateSelfAndManaged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "e1", "e1@corp.mx", roles.Employee, "corp-1", "d1", true, true)
	f.seed(t, "e2", "e2@corp.mx", roles.Employee, "corp-1", "d1", true, true)

	// Employees may edit their own record.
	self := authz.Caller{ID: "e1", AssertedRole: roles.Employee}
	name := "Renamed"
	acc, err := f.mgr.Update(ctx, self, "e1", UpdateRequest{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Renamed", acc.Name)
	require.Equal(t, "e1", acc.ModifiedBy)

	// But nobody else's: the peer record is outside their scope.
	_, err = f.mgr.Update(ctx, self, "e2", UpdateRequest{Name: &name})
	require.ErrorIs(t, err, authz.ErrNotFound)

	// Changing an email onto a taken address conflicts.
	taken := "e2@corp.mx"
	_, err = f.mgr.Update(ctx, adminCaller, "e1", UpdateRequest{Email: &taken})
	require.ErrorIs(t, err, authz.ErrConflict)
}

func TestTransitionRecordsUpdateEventWithDiff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "e1", "e1@corp.mx", roles.Employee, "corp-1", "d1", true, true)

	_, err := f.mgr.Deactivate(ctx, adminCaller, "e1")
	require.NoError(t, err)
	f.flush()

	events, err := f.trail.Query(ctx, audit.Query{Action: audit.ActionUpdate, EntityID: "e1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "deactivated", events[0].Detail)
	require.Equal(t, audit.FieldChange{Before: true, After: false}, events[0].Changes["active"])
}

func TestLifecycleNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "e1", "e1@corp.mx", roles.Employee, "corp-1", "d1", true, true)

	var got []LifecycleEvent
	f.mgr.OnLifecycle(func(ev LifecycleEvent) { got = append(got, ev) })

	_, err := f.mgr.Deactivate(ctx, adminCaller, "e1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "deactivated", got[0].Transition)
	require.Equal(t, "e1", got[0].AccountID)
	require.Equal(t, adminCaller.ID, got[0].ActorID)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.mgr.Create(ctx, superCaller, NewAccount{
		Email: "login@amexing.mx", Name: "L", Password: "correct-horse", RoleName: roles.Admin,
	})
	require.NoError(t, err)

	acc, err := f.mgr.Authenticate(ctx, "Login@Amexing.MX", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, created.ID, acc.ID)

	_, err = f.mgr.Authenticate(ctx, "login@amexing.mx", "wrong")
	require.ErrorIs(t, err, authz.ErrUnauthenticated)
	_, err = f.mgr.Authenticate(ctx, "nobody@amexing.mx", "correct-horse")
	require.ErrorIs(t, err, authz.ErrUnauthenticated)

	_, err = f.mgr.Deactivate(ctx, superCaller, created.ID)
	require.NoError(t, err)
	_, err = f.mgr.Authenticate(ctx, "login@amexing.mx", "correct-horse")
	require.ErrorIs(t, err, authz.ErrUnauthenticated)
}

func TestAnonymousCallersAreRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.List(ctx, authz.Caller{}, scope.Filter{}, Page{})
	require.ErrorIs(t, err, authz.ErrUnauthenticated)
	_, err = f.mgr.Get(ctx, authz.Caller{}, "e1")
	require.ErrorIs(t, err, authz.ErrUnauthenticated)
	_, err = f.mgr.Toggle(ctx, authz.Caller{}, "e1")
	require.ErrorIs(t, err, authz.ErrUnauthenticated)
}

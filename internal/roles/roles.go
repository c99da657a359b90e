package roles

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned by Store implementations for missing role records.
var ErrNotFound = errors.New("roles: not found")

// Organization partitions accounts into platform-operator staff and
// client-company staff. Visibility never crosses this boundary.
type Organization string

const (
	OrgAmexing Organization = "amexing"
	OrgClient  Organization = "client"
)

// Rank is the total order used for management comparisons. Higher is more
// privileged.
type Rank int

const (
	RankGuest             Rank = 1
	RankDriver            Rank = 2
	RankEmployee          Rank = 3
	RankDepartmentManager Rank = 4
	RankClient            Rank = 5
	RankAdmin             Rank = 6
	RankSuperadmin        Rank = 7
)

// MinRankSeeInactive is the lowest rank that may still enumerate
// soft-deactivated accounts in listings.
const MinRankSeeInactive = RankAdmin

// Role names. Keep these stable; they are part of auth contracts.
const (
	Superadmin        = "superadmin"
	Admin             = "admin"
	Client            = "client"
	DepartmentManager = "department_manager"
	Employee          = "employee"
	EmployeeAmexing   = "employee_amexing"
	Driver            = "driver"
	Guest             = "guest"
)

// Definition binds a role name to its rank and owning organization. Both are
// immutable once the directory is built.
type Definition struct {
	Name         string
	Rank         Rank
	Organization Organization
}

// Record is the persisted role row. Accounts reference roles by this opaque ID
// (the pointer form); the name resolves through the Directory.
type Record struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Store reads persisted role records. Role rows are reference data owned by an
// out-of-band configuration process; this core never writes them.
type Store interface {
	Find(ctx context.Context, id string) (Record, error)
	FindByName(ctx context.Context, name string) (Record, error)
	ListByNames(ctx context.Context, names []string) ([]Record, error)
}

// Directory is the immutable role table, constructed once at process start and
// injected wherever rank or organization lookups are needed.
type Directory struct {
	byName map[string]Definition
}

// NewDirectory builds a directory from definitions, rejecting duplicates and
// incomplete entries.
func NewDirectory(defs []Definition) (*Directory, error) {
	byName := make(map[string]Definition, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(strings.ToLower(def.Name))
		if name == "" {
			return nil, fmt.Errorf("roles: definition with empty name")
		}
		if def.Rank <= 0 {
			return nil, fmt.Errorf("roles: %s has non-positive rank %d", name, def.Rank)
		}
		if def.Organization != OrgAmexing && def.Organization != OrgClient {
			return nil, fmt.Errorf("roles: %s has unknown organization %q", name, def.Organization)
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("roles: duplicate definition for %s", name)
		}
		def.Name = name
		byName[name] = def
	}
	return &Directory{byName: byName}, nil
}

// Default returns the directory with the fixed production role table.
func Default() *Directory {
	dir, err := NewDirectory([]Definition{
		{Name: Superadmin, Rank: RankSuperadmin, Organization: OrgAmexing},
		{Name: Admin, Rank: RankAdmin, Organization: OrgAmexing},
		{Name: Client, Rank: RankClient, Organization: OrgClient},
		{Name: DepartmentManager, Rank: RankDepartmentManager, Organization: OrgClient},
		{Name: Employee, Rank: RankEmployee, Organization: OrgClient},
		{Name: EmployeeAmexing, Rank: RankEmployee, Organization: OrgAmexing},
		{Name: Driver, Rank: RankDriver, Organization: OrgAmexing},
		{Name: Guest, Rank: RankGuest, Organization: OrgAmexing},
	})
	if err != nil {
		panic(err)
	}
	return dir
}

// Lookup returns the definition for a role name.
func (d *Directory) Lookup(name string) (Definition, bool) {
	def, ok := d.byName[strings.TrimSpace(strings.ToLower(name))]
	return def, ok
}

// Known reports whether the name maps to a defined role.
func (d *Directory) Known(name string) bool {
	_, ok := d.Lookup(name)
	return ok
}

// RankOf returns the rank for a role name, or zero when the role is unknown.
// Zero sorts below every defined rank, so unknown roles fail rank checks.
func (d *Directory) RankOf(name string) Rank {
	def, ok := d.Lookup(name)
	if !ok {
		return 0
	}
	return def.Rank
}

// OrganizationOf returns the owning organization for a role name.
func (d *Directory) OrganizationOf(name string) (Organization, bool) {
	def, ok := d.Lookup(name)
	if !ok {
		return "", false
	}
	return def.Organization, true
}

// NamesByOrganization lists the role names owned by an organization, in rank
// order from highest to lowest.
func (d *Directory) NamesByOrganization(org Organization) []string {
	var out []string
	for _, def := range d.byName {
		if def.Organization == org {
			out = append(out, def.Name)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := d.RankOf(out[i]), d.RankOf(out[j])
		if ri != rj {
			return ri > rj
		}
		return out[i] < out[j]
	})
	return out
}

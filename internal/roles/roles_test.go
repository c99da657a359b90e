package roles

import "testing"

func TestDefaultDirectoryRanks(t *testing.T) {
	dir := Default()
	cases := map[string]Rank{
		Superadmin:        7,
		Admin:             6,
		Client:            5,
		DepartmentManager: 4,
		Employee:          3,
		EmployeeAmexing:   3,
		Driver:            2,
		Guest:             1,
	}
	for name, want := range cases {
		if got := dir.RankOf(name); got != want {
			t.Fatalf("RankOf(%s)=%d, want %d", name, got, want)
		}
	}
	if dir.RankOf("no_such_role") != 0 {
		t.Fatalf("unknown role must rank below every defined role")
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	dir := Default()
	def, ok := dir.Lookup("  SuperAdmin ")
	if !ok || def.Name != Superadmin || def.Rank != RankSuperadmin {
		t.Fatalf("unexpected lookup result: %+v ok=%v", def, ok)
	}
}

func TestNamesByOrganization(t *testing.T) {
	dir := Default()

	client := dir.NamesByOrganization(OrgClient)
	want := []string{Client, DepartmentManager, Employee}
	if len(client) != len(want) {
		t.Fatalf("client org roles: got %v, want %v", client, want)
	}
	for i := range want {
		if client[i] != want[i] {
			t.Fatalf("client org roles: got %v, want %v", client, want)
		}
	}

	amexing := dir.NamesByOrganization(OrgAmexing)
	if len(amexing) != 5 {
		t.Fatalf("amexing org roles: got %v", amexing)
	}
	if amexing[0] != Superadmin {
		t.Fatalf("expected superadmin first, got %v", amexing)
	}
}

func TestNewDirectoryValidation(t *testing.T) {
	if _, err := NewDirectory([]Definition{{Name: "", Rank: 1, Organization: OrgAmexing}}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := NewDirectory([]Definition{{Name: "x", Rank: 0, Organization: OrgAmexing}}); err == nil {
		t.Fatal("expected error for non-positive rank")
	}
	if _, err := NewDirectory([]Definition{{Name: "x", Rank: 1, Organization: "other"}}); err == nil {
		t.Fatal("expected error for unknown organization")
	}
	if _, err := NewDirectory([]Definition{
		{Name: "x", Rank: 1, Organization: OrgAmexing},
		{Name: "X", Rank: 2, Organization: OrgClient},
	}); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

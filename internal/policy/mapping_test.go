package policy

import (
	"errors"
	"testing"
)

func TestParseMapping_ValidPairs(t *testing.T) {
	cfg := ComponentConfig{
		RoleMapProperty: {"admin:realm-admin", "user:member"},
	}

	m, err := ParseMapping(cfg, RoleMapProperty)
	if err != nil {
		t.Fatalf("ParseMapping returned error: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("len(mapping) = %d, want 2", len(m))
	}
	if m["admin"] != "realm-admin" {
		t.Errorf("mapping[admin] = %q, want %q", m["admin"], "realm-admin")
	}
	if m["user"] != "member" {
		t.Errorf("mapping[user] = %q, want %q", m["user"], "member")
	}
}

func TestParseMapping_MissingPropertyReturnsEmptyMap(t *testing.T) {
	m, err := ParseMapping(ComponentConfig{}, GroupMapProperty)
	if err != nil {
		t.Fatalf("ParseMapping returned error: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("mapping = %v, want empty non-nil map", m)
	}
}

func TestParseMapping_EmptyLocalNameIsAllowed(t *testing.T) {
	cfg := ComponentConfig{RoleMapProperty: {"obsolete:"}}

	m, err := ParseMapping(cfg, RoleMapProperty)
	if err != nil {
		t.Fatalf("ParseMapping returned error: %v", err)
	}
	local, ok := m["obsolete"]
	if !ok || local != "" {
		t.Errorf("mapping[obsolete] = %q (present=%v), want empty string present", local, ok)
	}
}

func TestParseMapping_SkipsBlankEntries(t *testing.T) {
	cfg := ComponentConfig{GroupMapProperty: {"", "  ", "a:b"}}

	m, err := ParseMapping(cfg, GroupMapProperty)
	if err != nil {
		t.Fatalf("ParseMapping returned error: %v", err)
	}
	if len(m) != 1 || m["a"] != "b" {
		t.Errorf("mapping = %v, want map[a:b]", m)
	}
}

func TestParseMapping_MalformedEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"no colon", "admin"},
		{"empty legacy name", ":admin"},
		{"extra colon", "admin:realm:admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ComponentConfig{RoleMapProperty: {tt.entry}}
			_, err := ParseMapping(cfg, RoleMapProperty)
			if !errors.Is(err, ErrMalformedMapping) {
				t.Errorf("ParseMapping(%q) error = %v, want ErrMalformedMapping", tt.entry, err)
			}
		})
	}
}

func TestParseMapping_ConflictingDuplicate(t *testing.T) {
	cfg := ComponentConfig{RoleMapProperty: {"admin:a", "admin:b"}}

	_, err := ParseMapping(cfg, RoleMapProperty)
	if !errors.Is(err, ErrMalformedMapping) {
		t.Errorf("error = %v, want ErrMalformedMapping", err)
	}
}

func TestParseMapping_IdenticalDuplicateIsAccepted(t *testing.T) {
	cfg := ComponentConfig{RoleMapProperty: {"admin:a", "admin:a"}}

	m, err := ParseMapping(cfg, RoleMapProperty)
	if err != nil {
		t.Fatalf("ParseMapping returned error: %v", err)
	}
	if m["admin"] != "a" {
		t.Errorf("mapping[admin] = %q, want %q", m["admin"], "a")
	}
}

func TestNewMappingPolicy_MalformedConfigFails(t *testing.T) {
	cfg := ComponentConfig{GroupMapProperty: {"broken"}}

	p, err := NewMappingPolicy(cfg)
	if err == nil {
		t.Fatal("expected error for malformed group map, got nil")
	}
	if p != nil {
		t.Error("expected nil policy on error")
	}
}

func TestMappingPolicy_MappedNameIgnoresFlags(t *testing.T) {
	for _, flag := range []string{"true", "false"} {
		cfg := ComponentConfig{
			RoleMapProperty:               {"admin:realm-admin"},
			GroupMapProperty:              {"staff:employees"},
			MigrateUnmappedRolesProperty:  {flag},
			MigrateUnmappedGroupsProperty: {flag},
		}
		p, err := NewMappingPolicy(cfg)
		if err != nil {
			t.Fatalf("NewMappingPolicy returned error: %v", err)
		}

		if got, ok := p.MapRole("admin"); !ok || got != "realm-admin" {
			t.Errorf("flag=%s: MapRole(admin) = (%q, %v), want (realm-admin, true)", flag, got, ok)
		}
		if got, ok := p.MapGroup("staff"); !ok || got != "employees" {
			t.Errorf("flag=%s: MapGroup(staff) = (%q, %v), want (employees, true)", flag, got, ok)
		}
	}
}

func TestMappingPolicy_UnmappedNames(t *testing.T) {
	enabled, err := NewMappingPolicy(ComponentConfig{
		MigrateUnmappedRolesProperty:  {"TRUE"},
		MigrateUnmappedGroupsProperty: {"true"},
	})
	if err != nil {
		t.Fatalf("NewMappingPolicy returned error: %v", err)
	}
	if got, ok := enabled.MapRole("viewer"); !ok || got != "viewer" {
		t.Errorf("MapRole(viewer) = (%q, %v), want (viewer, true)", got, ok)
	}
	if got, ok := enabled.MapGroup("Staff"); !ok || got != "Staff" {
		t.Errorf("MapGroup(Staff) = (%q, %v), want (Staff, true)", got, ok)
	}

	disabled, err := NewMappingPolicy(ComponentConfig{
		MigrateUnmappedRolesProperty: {"yes"},
	})
	if err != nil {
		t.Fatalf("NewMappingPolicy returned error: %v", err)
	}
	if _, ok := disabled.MapRole("viewer"); ok {
		t.Error("MapRole(viewer) should be dropped when the flag is not \"true\"")
	}
	if _, ok := disabled.MapGroup("staff"); ok {
		t.Error("MapGroup(staff) should be dropped when the flag is unset")
	}
}

func TestMappingPolicy_AccessorsReturnCopies(t *testing.T) {
	p, err := NewMappingPolicy(ComponentConfig{RoleMapProperty: {"admin:realm-admin"}})
	if err != nil {
		t.Fatalf("NewMappingPolicy returned error: %v", err)
	}

	m := p.RoleMap()
	m["admin"] = "tampered"

	if got, _ := p.MapRole("admin"); got != "realm-admin" {
		t.Errorf("MapRole(admin) = %q after mutating copy, want %q", got, "realm-admin")
	}
}

package rbac

import "testing"

func TestPolicyAllowed_DefaultRoles(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	if !p.Allowed([]string{RoleManager}, PermUsersBlock) {
		t.Fatal("manager must have admin.users.block through the wildcard")
	}
	if !p.Allowed([]string{"manager"}, PermSyncRun) {
		t.Fatal("role names must be case-insensitive")
	}
	if p.Allowed([]string{RoleUser}, PermUsersBlock) {
		t.Fatal("user must not have admin.users.block")
	}
	if !p.Allowed([]string{RoleUser}, PermProfileEdit) {
		t.Fatal("user must have profile.edit")
	}
	if p.Allowed(nil, PermProfileEdit) {
		t.Fatal("no roles must grant nothing")
	}
}

func TestPolicyReplace_RebuildsEnforcer(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	p.Replace([]Role{{Name: "auditor", Permissions: []Permission{PermLockoutsView}}})

	if !p.Allowed([]string{"AUDITOR"}, PermLockoutsView) {
		t.Fatal("auditor must have admin.lockouts.view")
	}
	if p.Allowed([]string{"AUDITOR"}, PermSyncRun) {
		t.Fatal("auditor must not have admin.sync.run")
	}
	if p.Allowed([]string{RoleManager}, PermSyncRun) {
		t.Fatal("replaced policy must drop previous roles")
	}
}

func TestPermissionsForRoles(t *testing.T) {
	p := NewPolicy(DefaultRoles())
	perms := p.PermissionsForRoles([]string{RoleUser, RoleManager})
	if len(perms) != 4 {
		t.Fatalf("expected union of 4 permissions, got %v", perms)
	}
}

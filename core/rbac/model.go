// Package rbac maps identity roles onto the permissions required by the
// administrative routes.
package rbac

import (
	"sort"
	"strings"
)

type Permission string

type Role struct {
	Name        string
	Permissions []Permission
}

const (
	RoleManager = "MANAGER"
	RoleUser    = "UTILISATEUR"
)

const (
	PermProfileEdit    Permission = "profile.edit"
	PermReportsView    Permission = "reports.view"
	PermSyncView       Permission = "sync.view"
	PermAdminAll       Permission = "admin.*"
	PermUsersBlock     Permission = "admin.users.block"
	PermUsersImport    Permission = "admin.users.import"
	PermSyncRun        Permission = "admin.sync.run"
	PermSyncStatus     Permission = "admin.sync.status"
	PermUsersEdit      Permission = "admin.users.edit"
	PermLockoutsView   Permission = "admin.lockouts.view"
	PermConnectivityCk Permission = "admin.connectivity.check"
)

var permissions = []Permission{
	PermProfileEdit, PermReportsView, PermSyncView,
	PermUsersBlock, PermUsersEdit, PermUsersImport,
	PermSyncRun, PermSyncStatus,
	PermLockoutsView, PermConnectivityCk,
}

var knownPermissionSet = buildPermissionSet()

func buildPermissionSet() map[Permission]struct{} {
	out := make(map[Permission]struct{}, len(permissions))
	for _, p := range permissions {
		out[p] = struct{}{}
	}
	return out
}

func AllPermissions() []Permission {
	out := make([]Permission, len(permissions))
	copy(out, permissions)
	return out
}

func IsKnownPermission(p Permission) bool {
	_, ok := knownPermissionSet[p]
	return ok
}

// NormalizePermissionNames splits raw names into known and unknown sets,
// both lower-cased, deduplicated and sorted.
func NormalizePermissionNames(in []string) ([]string, []string) {
	validSet := map[string]struct{}{}
	invalidSet := map[string]struct{}{}
	for _, raw := range in {
		p := strings.ToLower(strings.TrimSpace(raw))
		if p == "" {
			continue
		}
		if IsKnownPermission(Permission(p)) {
			validSet[p] = struct{}{}
			continue
		}
		invalidSet[p] = struct{}{}
	}
	return sortedKeys(validSet), sortedKeys(invalidSet)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var roles = []Role{
	{Name: RoleManager, Permissions: []Permission{PermProfileEdit, PermReportsView, PermSyncView, PermAdminAll}},
	{Name: RoleUser, Permissions: []Permission{PermProfileEdit, PermReportsView, PermSyncView}},
}

func DefaultRoles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

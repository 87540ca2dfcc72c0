package access

import "maestro.org/internal/auth"

type permissionSet map[Permission]struct{}

func perms(list ...Permission) permissionSet {
	set := make(permissionSet, len(list))
	for _, p := range list {
		set[p] = struct{}{}
	}
	return set
}

var (
	fullControl  = perms(PermissionRead, PermissionWrite, PermissionDelete, PermissionAdmin)
	readWriteDel = perms(PermissionRead, PermissionWrite, PermissionDelete)
	readWrite    = perms(PermissionRead, PermissionWrite)
	readOnly     = perms(PermissionRead)
)

// roleMatrix is the static role × resource → permission table. Grants layered
// on top can only add to what it allows.
var roleMatrix = map[auth.Role]map[ResourceType]permissionSet{
	auth.RoleOwner: {
		ResourceMeeting:   fullControl,
		ResourceAction:    fullControl,
		ResourceCompany:   fullControl,
		ResourceUser:      fullControl,
		ResourceAnalytics: fullControl,
		ResourceFile:      fullControl,
	},
	auth.RoleAdmin: {
		ResourceMeeting:   readWriteDel,
		ResourceAction:    readWriteDel,
		ResourceCompany:   readWriteDel,
		ResourceUser:      readWrite,
		ResourceAnalytics: readWriteDel,
		ResourceFile:      readWriteDel,
	},
	auth.RoleUser: {
		ResourceMeeting:   readWrite,
		ResourceAction:    readWrite,
		ResourceCompany:   readOnly,
		ResourceUser:      readOnly,
		ResourceAnalytics: readOnly,
		ResourceFile:      readWrite,
	},
}

// roleAllows reports whether the static matrix grants the permission.
func roleAllows(role auth.Role, resource ResourceType, perm Permission) bool {
	byResource, ok := roleMatrix[role]
	if !ok {
		return false
	}
	set, ok := byResource[resource]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

// RolePermissions returns the matrix row for one (role, resource) pair.
func RolePermissions(role auth.Role, resource ResourceType) []Permission {
	var out []Permission
	for _, p := range Permissions {
		if roleAllows(role, resource, p) {
			out = append(out, p)
		}
	}
	return out
}

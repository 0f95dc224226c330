package canvas

import (
	"errors"
	"fmt"
	"strings"
)

// Permission is a capability a participant has on the board.
type Permission string

// Permissions understood by the canvas.
const (
	PermissionUpdate Permission = "UPDATE"
	PermissionDelete Permission = "DELETE"
	PermissionExport Permission = "EXPORT"
)

// ErrPermissionDenied is returned when a gesture needs a permission the
// caller does not have.
var ErrPermissionDenied = errors.New("permission denied")

// Permissions is the set granted to the local participant. It is passed
// with every event rather than stored by the machine.
type Permissions []Permission

// AllPermissions grants everything.
var AllPermissions = Permissions{PermissionUpdate, PermissionDelete, PermissionExport}

// Has reports whether want is granted.
func (p Permissions) Has(want Permission) bool {
	for _, have := range p {
		if have == want {
			return true
		}
	}
	return false
}

// CheckPermission returns ErrPermissionDenied, naming the permission, when
// want is missing from perms.
func CheckPermission(perms Permissions, want Permission) error {
	if perms.Has(want) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, want)
}

// ParsePermissions parses a comma separated list such as "UPDATE,DELETE".
// Names are case-insensitive; an empty string grants nothing.
func ParsePermissions(s string) (Permissions, error) {
	var perms Permissions
	for _, part := range strings.Split(s, ",") {
		name := Permission(strings.ToUpper(strings.TrimSpace(part)))
		switch name {
		case "":
			continue
		case PermissionUpdate, PermissionDelete, PermissionExport:
			if !perms.Has(name) {
				perms = append(perms, name)
			}
		default:
			return nil, fmt.Errorf("unknown permission %q", part)
		}
	}
	return perms, nil
}

// String joins the permissions with commas.
func (p Permissions) String() string {
	names := make([]string, len(p))
	for i, perm := range p {
		names[i] = string(perm)
	}
	return strings.Join(names, ",")
}

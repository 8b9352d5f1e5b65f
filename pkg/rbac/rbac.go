// Package rbac is the role policy: a closed set of roles and one pure
// predicate shared by route guards and tool handlers.
package rbac

import "strings"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleAuthor Role = "author"
	RoleViewer Role = "viewer"
)

// ContentManagers may create content.
var ContentManagers = []Role{RoleAdmin, RoleEditor, RoleAuthor}

// Elevated roles bypass ownership checks on update and delete.
var Elevated = []Role{RoleAdmin, RoleEditor}

func Parse(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleEditor:
		return RoleEditor, true
	case RoleAuthor:
		return RoleAuthor, true
	case RoleViewer:
		return RoleViewer, true
	default:
		return "", false
	}
}

// Allowed reports whether actual is in the required set. An empty required
// set allows any role.
func Allowed(required []Role, actual Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if r == actual {
			return true
		}
	}
	return false
}

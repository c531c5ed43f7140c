package auth

import "strings"

// Permission is one grant attached to a role.
type Permission struct {
	Code string `json:"code"`
}

// RolePermission links a role to a permission.
type RolePermission struct {
	Permissions Permission `json:"permissions"`
}

// Role is a named set of permissions.
type Role struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	RolePermissions []RolePermission `json:"role_permissions"`
}

// UserRole links an identity to a role.
type UserRole struct {
	Roles Role `json:"roles"`
}

// Identity is the signed-in user as returned by auth/me.
type Identity struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	Image     string     `json:"image,omitempty"`
	UserRoles []UserRole `json:"user_roles"`
}

var adminRoles = map[string]bool{
	"admin":       true,
	"super_admin": true,
	"superadmin":  true,
	"super admin": true,
}

// IsAdmin reports whether any of the identity's roles is administrative.
func (id *Identity) IsAdmin() bool {
	if id == nil {
		return false
	}
	for _, ur := range id.UserRoles {
		if adminRoles[strings.ToLower(strings.TrimSpace(ur.Roles.Name))] {
			return true
		}
	}
	return false
}

// HasPermission reports whether the identity holds at least one of codes.
// No codes means no permission.
func (id *Identity) HasPermission(codes ...string) bool {
	if id == nil || len(codes) == 0 {
		return false
	}
	for _, ur := range id.UserRoles {
		for _, rp := range ur.Roles.RolePermissions {
			for _, code := range codes {
				if rp.Permissions.Code == code {
					return true
				}
			}
		}
	}
	return false
}

// Permissions returns every distinct permission code, in role order.
func (id *Identity) Permissions() []string {
	if id == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, ur := range id.UserRoles {
		for _, rp := range ur.Roles.RolePermissions {
			code := rp.Permissions.Code
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

// Package permissions defines the role bitfield gating privileged chat
// actions.
package permissions

import "strings"

// Permission is a bitfield representing a set of permissions.
type Permission uint64

const (
	PermSendMessages Permission = 1 << 0
	// PermPinMessages gates pin/unpin toggling; thread replies need no
	// elevated role.
	PermPinMessages       Permission = 1 << 1
	PermDeleteAnyMessage  Permission = 1 << 2
	PermManageDirectory   Permission = 1 << 3
	PermConfigureAutoMode Permission = 1 << 4
	PermAdministrator     Permission = 1 << 31 // bypasses all checks
)

// Has returns true if p contains all bits in perm.
func (p Permission) Has(perm Permission) bool {
	if p&PermAdministrator != 0 {
		return true
	}
	return p&perm == perm
}

// Add returns p with the bits from perm set.
func (p Permission) Add(perm Permission) Permission { return p | perm }

// Remove returns p with the bits from perm cleared.
func (p Permission) Remove(perm Permission) Permission { return p &^ perm }

// Role is a coarse campus chat role resolved per user.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ForRole returns the permission set granted to a role. Unknown roles get
// member permissions.
func ForRole(r Role) Permission {
	switch r {
	case RoleAdmin:
		return PermAdministrator
	case RoleModerator:
		return PermSendMessages | PermPinMessages | PermDeleteAnyMessage
	default:
		return PermSendMessages
	}
}

var permNames = map[Permission]string{
	PermSendMessages:      "SEND_MESSAGES",
	PermPinMessages:       "PIN_MESSAGES",
	PermDeleteAnyMessage:  "DELETE_ANY_MESSAGE",
	PermManageDirectory:   "MANAGE_DIRECTORY",
	PermConfigureAutoMode: "CONFIGURE_AUTO_MODE",
	PermAdministrator:     "ADMINISTRATOR",
}

// String returns the set permission names separated by " | ".
func (p Permission) String() string {
	if p == 0 {
		return "NONE"
	}
	var names []string
	for bit, name := range permNames {
		if p&bit == bit {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(names, " | ")
}

/*
Package user holds the identity the messaging core reads from the auth subsystem.

Identities are resolved once per connection and once per send (for the receiver),
through a Directory. The core never writes them.
*/
package user

import (
	"context"
	"strings"
)

// Role is the platform role an identity acts under.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleClient  Role = "CLIENT"
)

// ParseRole normalizes a stored or claimed role. Unknown values are returned
// as-is so the authorization policy denies them.
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleClient:
		return true
	}
	return false
}

// Identity is a verified platform user.
type Identity struct {
	ID          string `json:"id" db:"id"`
	Role        Role   `json:"role" db:"role"`
	DisplayName string `json:"displayName" db:"display_name"`
	AvatarRef   string `json:"-" db:"avatar_ref"`
}

// Summary is the public projection of an identity attached to pushed messages.
type Summary struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Summary projects the identity, with avatar already resolved to a URL.
func (i Identity) Summary(avatarURL string) Summary {
	return Summary{
		ID:          i.ID,
		Role:        i.Role,
		DisplayName: i.DisplayName,
		Avatar:      avatarURL,
	}
}

// Directory resolves identities by id.
// Lookup returns only the ids that exist; a missing key means unknown user.
type Directory interface {
	Lookup(ctx context.Context, ids ...string) (map[string]Identity, error)
}

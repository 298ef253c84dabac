package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a platform bearer token.
// Only the subject id is trusted by the gateway; role and display name are
// re-read from the user directory when the token is verified.
type Payload struct {
	jwt.StandardClaims

	// ID is the platform user id. Tokens that only carry "sub" are accepted too.
	ID string `json:"id"`

	// Role is the role at issuance time, informational only.
	Role string `json:"role,omitempty"`

	// Nickname is the display name at issuance time, informational only.
	Nickname string `json:"nickname,omitempty"`
}

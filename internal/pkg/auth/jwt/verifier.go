package jwt

import (
	"context"
	"errors"
	"fmt"

	"estatechat/internal/app/user"
)

// ErrUnknownIdentity is returned when a valid token names a user the directory does not know.
var ErrUnknownIdentity = errors.New("token subject is not a known user")

// Verifier turns a bearer token into a current platform identity.
type Verifier struct {
	secret    string
	directory user.Directory
}

// NewVerifier returns a Verifier that checks signatures with secret and
// resolves the subject through directory.
func NewVerifier(secret string, directory user.Directory) *Verifier {
	return &Verifier{secret: secret, directory: directory}
}

// Verify validates token and returns the identity as currently stored,
// so a role change takes effect on the next connection.
func (v *Verifier) Verify(ctx context.Context, token string) (user.Identity, error) {
	if token == "" {
		return user.Identity{}, ErrMissingToken
	}

	payload, err := ParseToken(token, v.secret)
	if err != nil {
		return user.Identity{}, err
	}

	found, err := v.directory.Lookup(ctx, payload.ID)
	if err != nil {
		return user.Identity{}, fmt.Errorf("resolving identity %s: %w", payload.ID, err)
	}

	identity, ok := found[payload.ID]
	if !ok {
		return user.Identity{}, ErrUnknownIdentity
	}

	return identity, nil
}

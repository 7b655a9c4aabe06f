package classify

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const bearerPrefix = "Bearer "

// Authenticator resolves the principal behind an Authorization header.
type Authenticator struct {
	resolver IdentityResolver
}

// NewAuthenticator creates an authenticator backed by resolver.
func NewAuthenticator(resolver IdentityResolver) *Authenticator {
	return &Authenticator{resolver: resolver}
}

// Authenticate returns ErrMissingCredentials for an absent or non-bearer header,
// ErrUnauthorized when the token matches nobody, and the principal otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, authorization string) (*Principal, error) {
	token, ok := ParseBearerToken(authorization)
	if !ok {
		return nil, ErrMissingCredentials
	}

	principal, err := a.resolver.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("Authenticate: resolving token: %w", err)
	}
	if principal == nil || principal.UserID == "" {
		return nil, ErrUnauthorized
	}

	return principal, nil
}

// ParseBearerToken extracts the token from a "Bearer <token>" header value.
func ParseBearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// HashToken returns the hex SHA-256 digest under which tokens are stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewToken generates a random opaque API token.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("NewToken: reading random bytes: %w", err)
	}
	return "txc_" + hex.EncodeToString(b), nil
}

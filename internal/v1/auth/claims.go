package auth

import "github.com/golang-jwt/jwt/v5"

// Claims represents the JWT claims used for authentication.
// It embeds jwt.RegisteredClaims and adds the fields NexusConnect tokens
// carry: the username, plus name/email/scope for externally issued tokens.
type Claims struct {
	Username string `json:"username,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the username this token authenticates. Locally issued
// tokens carry it in the username claim; external IdP tokens fall back to
// name, then subject.
func (c *Claims) Identity() string {
	if c.Username != "" {
		return c.Username
	}
	if c.Name != "" {
		return c.Name
	}
	return c.Subject
}

// TokenValidator is the contract shared by the local token service and the
// JWKS validator. Anything that can turn a raw bearer token into claims
// satisfies it, which keeps handlers and middleware testable with mocks.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Role names stamped on tokens that predate the role claim. They match the
// rbac role constants.
const (
	legacyAdminRole  = "admin"
	legacyMemberRole = "member"
)

// Claims is the bearer token shape. ClientID is the tenant owning every
// channel the caller touches; admin tokens may omit it. Tokens minted by the
// identity service carry sub and is_admin instead of user_id and role, and
// Verify maps them onto UserID and Role.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	IsAdmin   bool      `json:"is_admin,omitempty"`
	TokenType TokenType `json:"token_type,omitempty"`
}

// normalize fills UserID and Role from their legacy sources.
func (c *Claims) normalize() {
	if c.UserID == "" {
		c.UserID = c.Subject
	}
	if c.Role == "" && c.TokenType != TokenTypeRefresh {
		if c.IsAdmin {
			c.Role = legacyAdminRole
		} else {
			c.Role = legacyMemberRole
		}
	}
	// Identity-service tokens have no token_type and are always access tokens.
	if c.TokenType == "" {
		c.TokenType = TokenTypeAccess
	}
}

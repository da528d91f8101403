package auth

import (
	"errors"
	"fmt"
	"time"

	"channel-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// clockSkew is the leeway applied to exp/iat/nbf.
const clockSkew = 30 * time.Second

var (
	ErrTokenType   = errors.New("token_type mismatch")
	ErrMissingUser = errors.New("token carries no user")
)

// Manager verifies bearer tokens shared with the identity service (HS256,
// JWT_SECRET) and can mint them for tooling and tests.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return &Manager{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// IssuePair mints an access/refresh pair. The service exposes no login
// endpoint; tokens are normally minted by the identity service.
func (m *Manager) IssuePair(now time.Time, userID, clientID, role string) (TokenPair, error) {
	access, err := m.issue(now, Claims{UserID: userID, ClientID: clientID, Role: role, TokenType: TokenTypeAccess}, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	// Refresh tokens never carry a role.
	refresh, err := m.issue(now, Claims{UserID: userID, ClientID: clientID, TokenType: TokenTypeRefresh}, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify parses and validates a token of the expected type at time now.
// client_id is optional; rbac.RequireClient enforces it on tenant routes.
func (m *Manager) Verify(tokenString string, expected TokenType, now time.Time) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}

	claims.normalize()
	if claims.TokenType != expected {
		return Claims{}, ErrTokenType
	}
	if claims.UserID == "" {
		return Claims{}, ErrMissingUser
	}
	return claims, nil
}

func (m *Manager) issue(now time.Time, c Claims, ttl time.Duration) (string, error) {
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   c.UserID,
		Issuer:    m.issuer,
		Audience:  audienceOrNil(m.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind selects the secret and lifetime a token is issued with.
type TokenKind int

const (
	TokenKindAccess TokenKind = iota
	TokenKindRefresh
)

func (k TokenKind) String() string {
	if k == TokenKindRefresh {
		return "refresh"
	}
	return "access"
}

// Claims is the signed claim set carried by access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	Refresh bool `json:"refresh"`
}

// UserID returns the subject claim
func (c *Claims) UserID() string {
	return c.RegisteredClaims.Subject
}

// Kind returns the token kind encoded in the refresh flag
func (c *Claims) Kind() TokenKind {
	if c.Refresh {
		return TokenKindRefresh
	}
	return TokenKindAccess
}

// Expires returns the expiration time
func (c *Claims) Expires() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// IssuedAt returns the issued at time
func (c *Claims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.IssuedAt.Time
}

// TokenPair is what login and refresh hand back to the caller.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}

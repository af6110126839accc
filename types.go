package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger takes a message followed by key/value pairs.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock is the time source for every expiry and lockout decision.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

// PasswordVerifier checks a plaintext against a stored hash. A nil error
// means the password matches.
type PasswordVerifier interface {
	ComparePasswordAndHash(password, hash string) error
}

// PasswordAuthenticator hashes and verifies passwords
type PasswordAuthenticator interface {
	PasswordVerifier
	HashPassword(password string) (string, error)
}

// UserStore is what the Authenticator needs from the user persistence layer.
// GetByUsername returns ErrUserNotFound when there is no match.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	TrackFailedLogin(ctx context.Context, user *User, attempts int, at time.Time) error
	TrackSuccessfulLogin(ctx context.Context, user *User, at time.Time) error
}

// SessionStore persists the binding between a user and its current token pair.
// Lookups return ErrSessionNotFound when nothing matches and Rotate returns
// ErrSessionConflict when the stored pair no longer matches current.
type SessionStore interface {
	Create(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) (*Session, error)
	FindByAccessToken(ctx context.Context, accessToken string) (*Session, error)
	FindByPair(ctx context.Context, accessToken, refreshToken string) (*Session, error)
	Rotate(ctx context.Context, current *Session, accessToken, refreshToken string, expiresAt time.Time) (*Session, error)
	DeleteByAccessToken(ctx context.Context, accessToken string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Config holds auth options
type Config interface {
	GetAccessTokenSecret() string
	GetRefreshTokenSecret() string
	GetAccessTokenExpiration() time.Duration
	GetRefreshTokenExpiration() time.Duration
	GetLockoutDuration() time.Duration
	GetMaxLoginAttempts() int
	GetIssuer() string
	GetStoreTimeout() time.Duration
	GetRefreshFailurePolicy() RefreshFailurePolicy
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print("[ERR] AUTH " + render(format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print("[WRN] AUTH " + render(format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print("[INF] AUTH " + render(format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print("[DBG] AUTH " + render(format, args...))
}

// render prints the message and appends args as key=value pairs. An odd
// trailing value is printed on its own.
func render(msg string, args ...any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fmt.Fprintf(&b, " %v", args[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return newline(b.String())
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

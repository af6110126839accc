package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleGuest is an guest role (ie. view)
	RoleGuest UserRole = "guest"
	// RoleMember us a member (i.e. view, edit)
	RoleMember UserRole = "member"
	// RoleAdmin is an admin role (i.e. view, edit, create)
	RoleAdmin UserRole = "admin"
)

// UserStatus is the account status
type UserStatus = string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User is the user model. LoginAttempts and LastLoginAt drive the lockout
// policy: LastLoginAt is stamped on every verified attempt, failed or not.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk" json:"id"`
	Role          UserRole   `bun:"user_role,notnull" json:"user_role,omitempty"`
	Status        UserStatus `bun:"status,notnull" json:"status,omitempty"`
	Username      string     `bun:"username,notnull,unique" json:"username"`
	Email         string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	LoginAttempts int        `bun:"login_attempts,notnull" json:"login_attempts"`
	LastLoginAt   *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Session binds a user to its current access/refresh pair. ExpiresAt follows
// the refresh token: the session lives as long as it can still be renewed.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            uuid.UUID  `bun:"id,pk" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull" json:"user_id"`
	AccessToken   string     `bun:"access_token,notnull,unique" json:"-"`
	RefreshToken  string     `bun:"refresh_token,notnull,unique" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// Expired reports whether the session can no longer be renewed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Matches reports whether the session is bound to exactly this pair.
func (s *Session) Matches(accessToken, refreshToken string) bool {
	return s.AccessToken == accessToken && s.RefreshToken == refreshToken
}

// IsActive reports whether the account may log in. A zero Status is
// treated as active.
func (u *User) IsActive() bool {
	return u.Status == "" || u.Status == UserStatusActive
}

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TrackFailedLoginSQL stores the counter computed by the lockout policy.
// Zero values are written on purpose, which the ORM update skips.
var TrackFailedLoginSQL = `UPDATE "users"
SET
	"login_attempts" = ?,
	"last_login_at" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
AND "deleted_at" IS NULL;`

// TrackSuccessfulLoginSQL resets the counter after a verified password.
var TrackSuccessfulLoginSQL = `UPDATE "users"
SET
	"login_attempts" = 0,
	"last_login_at" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
AND "deleted_at" IS NULL;`

type Users interface {
	repository.Repository[*User]
	UserStore

	GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	TrackFailedLoginTx(ctx context.Context, tx bun.IDB, user *User, attempts int, at time.Time) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User, at time.Time) error

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var _ Users = (*users)(nil)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.GetByUsernameTx(ctx, a.db, username)
}

func (a *users) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, withKind(ErrUserNotFound, nil, map[string]any{"username": username})
	}

	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.username = ?", username).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, persistenceError(err, ErrUserNotFound, "users.get_by_username")
	}

	return record, nil
}

func (a *users) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, persistenceError(err, ErrUserNotFound, "users.find_by_id")
	}
	return record, nil
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	return a.CreateTx(ctx, tx, user)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) TrackFailedLogin(ctx context.Context, user *User, attempts int, at time.Time) error {
	return a.TrackFailedLoginTx(ctx, a.db, user, attempts, at)
}

func (a *users) TrackFailedLoginTx(ctx context.Context, tx bun.IDB, user *User, attempts int, at time.Time) error {
	at = at.UTC()
	if _, err := tx.NewRaw(TrackFailedLoginSQL, attempts, at, at, user.ID).Exec(ctx); err != nil {
		return persistenceError(err, nil, "users.track_failed_login")
	}

	user.LoginAttempts = attempts
	user.LastLoginAt = &at
	return nil
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User, at time.Time) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user, at)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User, at time.Time) error {
	at = at.UTC()
	if _, err := tx.NewRaw(TrackSuccessfulLoginSQL, at, at, user.ID).Exec(ctx); err != nil {
		return persistenceError(err, nil, "users.track_successful_login")
	}

	user.LoginAttempts = 0
	user.LastLoginAt = &at
	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleMember
	}

	if record.Status == "" {
		record.Status = UserStatusActive
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

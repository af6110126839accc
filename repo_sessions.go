package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionsRepository is the SQL SessionStore.
type SessionsRepository struct {
	db *bun.DB
}

var _ SessionStore = (*SessionsRepository)(nil)

func NewSessionsRepository(db *bun.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

func (r *SessionsRepository) Create(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) (*Session, error) {
	return r.CreateTx(ctx, r.db, userID, accessToken, refreshToken, expiresAt)
}

func (r *SessionsRepository) CreateTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) (*Session, error) {
	record := &Session{
		ID:           uuid.New(),
		UserID:       userID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, persistenceError(err, nil, "sessions.create")
	}

	return record, nil
}

func (r *SessionsRepository) FindByAccessToken(ctx context.Context, accessToken string) (*Session, error) {
	record := &Session{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.access_token = ?", accessToken).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, persistenceError(err, ErrSessionNotFound, "sessions.find_by_access_token")
	}
	return record, nil
}

func (r *SessionsRepository) FindByPair(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	record := &Session{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.access_token = ?", accessToken).
		Where("?TableAlias.refresh_token = ?", refreshToken).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, persistenceError(err, ErrSessionNotFound, "sessions.find_by_pair")
	}
	return record, nil
}

// Rotate swaps the token pair only if the row still holds current's pair.
// Zero affected rows means another rotation or a logout got there first.
func (r *SessionsRepository) Rotate(ctx context.Context, current *Session, accessToken, refreshToken string, expiresAt time.Time) (*Session, error) {
	now := time.Now().UTC()
	rotated := *current
	rotated.AccessToken = accessToken
	rotated.RefreshToken = refreshToken
	rotated.ExpiresAt = expiresAt.UTC()
	rotated.UpdatedAt = &now

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Session)(nil)).
			Set("access_token = ?", rotated.AccessToken).
			Set("refresh_token = ?", rotated.RefreshToken).
			Set("expires_at = ?", rotated.ExpiresAt).
			Set("updated_at = ?", now).
			Where("id = ?", current.ID).
			Where("access_token = ?", current.AccessToken).
			Where("refresh_token = ?", current.RefreshToken).
			Exec(ctx)
		if err != nil {
			return persistenceError(err, nil, "sessions.rotate")
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return persistenceError(err, nil, "sessions.rotate")
		}

		if affected != 1 {
			return withKind(ErrSessionConflict, nil, map[string]any{
				"session_id": current.ID.String(),
			})
		}

		return nil
	})
	if err != nil {
		return nil, persistenceError(err, nil, "sessions.rotate")
	}

	return &rotated, nil
}

func (r *SessionsRepository) DeleteByAccessToken(ctx context.Context, accessToken string) error {
	_, err := r.db.NewDelete().
		Model((*Session)(nil)).
		Where("access_token = ?", accessToken).
		Exec(ctx)
	return persistenceError(err, nil, "sessions.delete_by_access_token")
}

func (r *SessionsRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*Session)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, persistenceError(err, nil, "sessions.delete_by_user_id")
	}
	return res.RowsAffected()
}

func (r *SessionsRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*Session)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, persistenceError(err, nil, "sessions.delete_expired")
	}
	return res.RowsAffected()
}

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-session-auth"
)

func TestValidator_Validate(t *testing.T) {
	s := newStack(t, testOptions())
	ctx := context.Background()
	user := seedUser(t, s.repo.Users(), "erin", "correct horse battery")

	res, err := s.auth.Login(ctx, "erin", "correct horse battery")
	require.NoError(t, err)

	claims, err := s.validator.Validate(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID())
	assert.Equal(t, auth.TokenKindAccess, claims.Kind())

	t.Run("refresh token is not an access token", func(t *testing.T) {
		_, err := s.validator.Validate(ctx, res.Tokens.RefreshToken)
		assert.Equal(t, auth.KindInvalid, auth.KindOf(err))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := s.validator.Validate(ctx, "garbage")
		assert.Equal(t, auth.KindInvalid, auth.KindOf(err))
	})

	t.Run("expired stays expired", func(t *testing.T) {
		s.clock.Advance(16 * time.Minute)
		defer s.clock.Advance(-16 * time.Minute)

		_, err := s.validator.Validate(ctx, res.Tokens.AccessToken)
		assert.Equal(t, auth.KindExpired, auth.KindOf(err))
	})
}

func TestValidator_SignedTokenWithoutSessionIsInvalid(t *testing.T) {
	opts := testOptions()
	codec := auth.NewTokenCodec(opts)
	sessions := new(MockSessionStore)
	now := time.Now().UTC()

	token, _, err := codec.Issue(uuid.NewString(), auth.TokenKindAccess, now)
	require.NoError(t, err)

	sessions.On("FindByAccessToken", mock.Anything, token).Return(nil, auth.ErrSessionNotFound)

	validator := auth.NewValidator(codec, sessions, opts).WithLogger(nopLogger{}).WithClock(newFakeClock(now))
	_, err = validator.Validate(context.Background(), token)

	assert.Equal(t, auth.KindInvalid, auth.KindOf(err))
}

func TestValidator_StoreFailureIsNotUnauthorized(t *testing.T) {
	opts := testOptions()
	codec := auth.NewTokenCodec(opts)
	sessions := new(MockSessionStore)
	now := time.Now().UTC()

	token, _, err := codec.Issue(uuid.NewString(), auth.TokenKindAccess, now)
	require.NoError(t, err)

	sessions.On("FindByAccessToken", mock.Anything, token).Return(nil, errors.New("i/o timeout"))

	validator := auth.NewValidator(codec, sessions, opts).WithLogger(nopLogger{}).WithClock(newFakeClock(now))
	_, err = validator.Validate(context.Background(), token)

	assert.Equal(t, auth.KindPersistence, auth.KindOf(err))
	assert.False(t, auth.IsUnauthorized(err))
}

func TestValidator_SessionOfAnotherSubject(t *testing.T) {
	opts := testOptions()
	codec := auth.NewTokenCodec(opts)
	sessions := new(MockSessionStore)
	now := time.Now().UTC()

	token, _, err := codec.Issue(uuid.NewString(), auth.TokenKindAccess, now)
	require.NoError(t, err)

	sessions.On("FindByAccessToken", mock.Anything, token).
		Return(&auth.Session{ID: uuid.New(), UserID: uuid.New()}, nil)

	validator := auth.NewValidator(codec, sessions, opts).WithLogger(nopLogger{}).WithClock(newFakeClock(now))
	_, err = validator.Validate(context.Background(), token)

	assert.Equal(t, auth.KindInvalid, auth.KindOf(err))
}

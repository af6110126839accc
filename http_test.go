package auth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-session-auth/internal/routertest"
	"github.com/goliatone/go-session-auth/middleware/authgate"
)

// runGated runs the gate and, when it lets the request through, handler.
func runGated(t *testing.T, gate *authgate.Gate, ctx *routertest.Context, handler router.HandlerFunc) *routertest.Context {
	t.Helper()

	require.NoError(t, gate.Handle(ctx))
	if ctx.NextCalled {
		require.NoError(t, handler(ctx))
	}
	return ctx
}

func subjectHandler(c router.Context) error {
	subject, ok := auth.SubjectFromContext(c.Context())
	if !ok {
		return c.JSON(router.StatusInternalServerError, map[string]string{"error": "no subject"})
	}
	return c.JSON(router.StatusOK, map[string]string{"subject": subject})
}

func getPrivate(t *testing.T, gate *authgate.Gate, access, refresh string) *routertest.Context {
	t.Helper()

	ctx := routertest.New()
	if access != "" {
		ctx.WithBearer(access)
	}
	if refresh != "" {
		ctx.WithCookie("refresh_token", refresh)
	}
	return runGated(t, gate, ctx, subjectHandler)
}

func TestAuthGate(t *testing.T) {
	s := newStack(t, testOptions())
	login := loginAs(t, s, "trent")
	gate := auth.NewAuthGate(s.validator, s.refresher)

	t.Run("missing token", func(t *testing.T) {
		ctx := getPrivate(t, gate, "", "")
		assert.Equal(t, router.StatusUnauthorized, ctx.ResponseStatus())
	})

	t.Run("wrong scheme", func(t *testing.T) {
		ctx := routertest.New()
		ctx.ReqHeaders[router.HeaderAuthorization] = "Basic " + login.Tokens.AccessToken
		runGated(t, gate, ctx, subjectHandler)
		assert.Equal(t, router.StatusUnauthorized, ctx.ResponseStatus())
	})

	t.Run("garbage token", func(t *testing.T) {
		ctx := getPrivate(t, gate, "garbage", "")
		assert.Equal(t, router.StatusUnauthorized, ctx.ResponseStatus())
	})

	t.Run("valid token", func(t *testing.T) {
		ctx := getPrivate(t, gate, login.Tokens.AccessToken, "")
		assert.Equal(t, router.StatusOK, ctx.ResponseStatus())
		assert.Equal(t, login.UserID.String(), ctx.PayloadMap()["subject"])
		assert.Empty(t, ctx.RecordedHeaders[router.HeaderAuthorization], "no renewal for a live token")

		claims, ok := ctx.Locals("user").(*auth.Claims)
		require.True(t, ok)
		assert.Equal(t, login.UserID.String(), claims.UserID())
	})
}

func TestAuthGate_ExpiredAccessToken(t *testing.T) {
	s := newStack(t, testOptions())
	login := loginAs(t, s, "uma")
	gate := auth.NewAuthGate(s.validator, s.refresher)

	s.clock.Advance(16 * time.Minute)

	t.Run("without refresh cookie", func(t *testing.T) {
		ctx := getPrivate(t, gate, login.Tokens.AccessToken, "")
		assert.Equal(t, router.StatusUnauthorized, ctx.ResponseStatus())
	})

	t.Run("with unrelated refresh cookie", func(t *testing.T) {
		ctx := getPrivate(t, gate, login.Tokens.AccessToken, "garbage")
		assert.Equal(t, router.StatusUnauthorized, ctx.ResponseStatus())
	})

	ctx := getPrivate(t, gate, login.Tokens.AccessToken, login.Tokens.RefreshToken)
	require.Equal(t, router.StatusOK, ctx.ResponseStatus())
	assert.Equal(t, login.UserID.String(), ctx.PayloadMap()["subject"])

	header := ctx.RecordedHeaders[router.HeaderAuthorization]
	require.True(t, strings.HasPrefix(header, "Bearer "))
	renewed := strings.TrimPrefix(header, "Bearer ")
	assert.NotEqual(t, login.Tokens.AccessToken, renewed)

	cookie := ctx.ResponseCookie("refresh_token")
	require.NotNil(t, cookie)
	assert.True(t, cookie.HTTPOnly)
	assert.NotEqual(t, login.Tokens.RefreshToken, cookie.Value)

	_, err := s.validator.Validate(context.Background(), renewed)
	assert.NoError(t, err)

	t.Run("old pair cannot be replayed", func(t *testing.T) {
		ctx := getPrivate(t, gate, login.Tokens.AccessToken, login.Tokens.RefreshToken)
		assert.Equal(t, router.StatusUnauthorized, ctx.ResponseStatus())
	})
}

func TestAuthGate_RefreshDisabled(t *testing.T) {
	s := newStack(t, testOptions())
	login := loginAs(t, s, "victor")
	gate := auth.NewAuthGate(s.validator, s.refresher, auth.GateOptions{DisableRefresh: true})

	s.clock.Advance(16 * time.Minute)

	ctx := getPrivate(t, gate, login.Tokens.AccessToken, login.Tokens.RefreshToken)
	assert.Equal(t, router.StatusUnauthorized, ctx.ResponseStatus())
	assert.Nil(t, ctx.ResponseCookie("refresh_token"))
}

func TestAuthGate_StoreFailure(t *testing.T) {
	opts := testOptions()
	codec := auth.NewTokenCodec(opts)
	now := time.Now().UTC()

	token, _, err := codec.Issue(uuid.NewString(), auth.TokenKindAccess, now)
	require.NoError(t, err)

	sessions := new(MockSessionStore)
	sessions.On("FindByAccessToken", mock.Anything, token).Return(nil, errors.New("connection reset by peer"))

	validator := auth.NewValidator(codec, sessions, opts).WithLogger(nopLogger{}).WithClock(newFakeClock(now))
	gate := auth.NewAuthGate(validator, nil)

	ctx := getPrivate(t, gate, token, "")
	assert.Equal(t, router.StatusInternalServerError, ctx.ResponseStatus())
	assert.NotContains(t, ctx.PayloadMap()["error"], "connection reset")
}

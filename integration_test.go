package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-session-auth/internal/routertest"
)

func TestShortLivedAccessTokenRenewal(t *testing.T) {
	opts := testOptions()
	opts.AccessTokenExpiration = time.Second

	s := newStack(t, opts)
	h := newControllerHarness(t, s)
	seedUser(t, s.repo.Users(), "amber", "correct horse battery")

	ctx := h.login("amber", "correct horse battery")
	require.Equal(t, router.StatusOK, ctx.ResponseStatus())

	access, _ := ctx.PayloadMap()["token"].(string)
	refresh := ctx.ResponseCookie("refresh_token")
	require.NotNil(t, refresh)
	loginAt := s.clock.Now()

	s.clock.Advance(2 * time.Second)

	ctx = h.gated(h.controller.Protected, routertest.New().WithBearer(access))
	assert.Equal(t, router.StatusUnauthorized, ctx.ResponseStatus())

	ctx = h.gated(h.controller.Protected, routertest.New().WithBearer(access).WithCookie(refresh.Name, refresh.Value))
	require.Equal(t, router.StatusOK, ctx.ResponseStatus())

	renewedAccess := strings.TrimPrefix(ctx.RecordedHeaders[router.HeaderAuthorization], "Bearer ")
	renewedRefresh := ctx.ResponseCookie("refresh_token")
	require.NotNil(t, renewedRefresh)
	assert.NotEqual(t, access, renewedAccess)
	assert.NotEqual(t, refresh.Value, renewedRefresh.Value)

	accessClaims, err := s.codec.Decode(renewedAccess, auth.TokenKindAccess, s.clock.Now())
	require.NoError(t, err)
	assert.True(t, accessClaims.Expires().After(loginAt.Add(time.Second)))

	refreshClaims, err := s.codec.Decode(renewedRefresh.Value, auth.TokenKindRefresh, s.clock.Now())
	require.NoError(t, err)
	assert.True(t, refreshClaims.Expires().After(loginAt.Add(240*time.Minute)))

	ctx = h.gated(h.controller.Protected, routertest.New().WithBearer(renewedAccess))
	assert.Equal(t, router.StatusOK, ctx.ResponseStatus())
}

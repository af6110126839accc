package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-session-auth"
)

func loginAs(t *testing.T, s *stack, username string) *auth.LoginResult {
	t.Helper()
	seedUser(t, s.repo.Users(), username, "correct horse battery")
	res, err := s.auth.Login(context.Background(), username, "correct horse battery")
	require.NoError(t, err)
	return res
}

func TestRefresh_RotatesPair(t *testing.T) {
	s := newStack(t, testOptions())
	ctx := context.Background()
	login := loginAs(t, s, "frank")

	s.clock.Advance(16 * time.Minute)

	claims, pair, err := s.refresher.Refresh(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, login.UserID.String(), claims.UserID())
	assert.Equal(t, auth.TokenKindAccess, claims.Kind())
	assert.NotEqual(t, login.Tokens.AccessToken, pair.AccessToken)
	assert.NotEqual(t, login.Tokens.RefreshToken, pair.RefreshToken)
	assert.Equal(t, s.clock.Now().Add(15*time.Minute), pair.AccessExpiresAt.UTC())
	assert.Equal(t, s.clock.Now().Add(240*time.Minute), pair.RefreshExpiresAt.UTC())

	_, err = s.validator.Validate(ctx, pair.AccessToken)
	assert.NoError(t, err)

	session, err := s.repo.Sessions().FindByPair(ctx, pair.AccessToken, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, login.Session.ID, session.ID, "rotation keeps the session id")

	_, err = s.repo.Sessions().FindByPair(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken)
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))

	assert.Contains(t, s.sink.Types(), auth.ActivityEventTokenRefreshed)
}

func TestRefresh_PairIsSingleUse(t *testing.T) {
	s := newStack(t, testOptions())
	ctx := context.Background()
	login := loginAs(t, s, "grace")

	_, _, err := s.refresher.Refresh(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken)
	require.NoError(t, err)

	_, _, err = s.refresher.Refresh(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken)
	assert.Equal(t, auth.KindInvalid, auth.KindOf(err))
}

func TestRefresh_RejectsUnboundPairs(t *testing.T) {
	s := newStack(t, testOptions())
	ctx := context.Background()
	heidi := loginAs(t, s, "heidi")
	ivan := loginAs(t, s, "ivan")

	second, err := s.auth.Login(ctx, "heidi", "correct horse battery")
	require.NoError(t, err)

	tests := []struct {
		name    string
		access  string
		refresh string
	}{
		{name: "refresh token of another user", access: heidi.Tokens.AccessToken, refresh: ivan.Tokens.RefreshToken},
		{name: "refresh token of another session", access: heidi.Tokens.AccessToken, refresh: second.Tokens.RefreshToken},
		{name: "access token as refresh token", access: heidi.Tokens.AccessToken, refresh: heidi.Tokens.AccessToken},
		{name: "refresh token as access token", access: heidi.Tokens.RefreshToken, refresh: heidi.Tokens.RefreshToken},
		{name: "garbage access token", access: "garbage", refresh: heidi.Tokens.RefreshToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.refresher.Refresh(ctx, tt.access, tt.refresh)
			assert.Equal(t, auth.KindInvalid, auth.KindOf(err))
		})
	}

	_, _, err = s.refresher.Refresh(ctx, heidi.Tokens.AccessToken, heidi.Tokens.RefreshToken)
	assert.NoError(t, err, "the genuine pair still works under the keep policy")
}

func TestRefresh_ExpiredRefreshToken(t *testing.T) {
	s := newStack(t, testOptions())
	login := loginAs(t, s, "judy")

	s.clock.Advance(241 * time.Minute)

	_, _, err := s.refresher.Refresh(context.Background(), login.Tokens.AccessToken, login.Tokens.RefreshToken)
	assert.Equal(t, auth.KindExpired, auth.KindOf(err))
}

func TestRefresh_ConcurrentSingleWinner(t *testing.T) {
	s := newStack(t, testOptions())
	login := loginAs(t, s, "mallory")

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		invalid int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.refresher.Refresh(context.Background(), login.Tokens.AccessToken, login.Tokens.RefreshToken)

			mu.Lock()
			defer mu.Unlock()
			switch auth.KindOf(err) {
			case auth.KindNone:
				winners++
			case auth.KindInvalid:
				invalid++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, workers-1, invalid)
}

func TestRefresh_RevokePolicy(t *testing.T) {
	opts := testOptions()
	opts.RefreshFailurePolicy = auth.RefreshFailureRevoke

	s := newStack(t, opts)
	ctx := context.Background()
	login := loginAs(t, s, "niaj")

	other, err := s.auth.Login(ctx, "niaj", "correct horse battery")
	require.NoError(t, err)

	_, _, err = s.refresher.Refresh(ctx, login.Tokens.AccessToken, other.Tokens.RefreshToken)
	assert.Equal(t, auth.KindInvalid, auth.KindOf(err))

	_, err = s.validator.Validate(ctx, login.Tokens.AccessToken)
	assert.Equal(t, auth.KindInvalid, auth.KindOf(err), "the session behind the access token was revoked")

	_, err = s.validator.Validate(ctx, other.Tokens.AccessToken)
	assert.NoError(t, err, "other sessions are untouched")
}

package auth_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/goliatone/go-session-auth"
)

const (
	testAccessSecret  = "access-secret-for-tests-0001"
	testRefreshSecret = "refresh-secret-for-tests-0002"
)

func testOptions() auth.Options {
	return auth.Options{
		AccessTokenSecret:      testAccessSecret,
		RefreshTokenSecret:     testRefreshSecret,
		AccessTokenExpiration:  15 * time.Minute,
		RefreshTokenExpiration: 240 * time.Minute,
		LockoutDuration:        time.Minute,
		MaxLoginAttempts:       3,
		StoreTimeout:           time.Second,
	}
}

// fakeClock is a settable clock shared by every component under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now.UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// nopLogger keeps test output quiet
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// capturingSink records every activity event
type capturingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt auth.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) Types() []auth.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

func (c *capturingSink) count(eventType auth.ActivityEventType) int {
	n := 0
	for _, t := range c.Types() {
		if t == eventType {
			n++
		}
	}
	return n
}

// verifierFunc adapts a function to auth.PasswordVerifier
type verifierFunc func(password, hash string) error

func (f verifierFunc) ComparePasswordAndHash(password, hash string) error {
	return f(password, hash)
}

// MockUserStore implements auth.UserStore
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserStore) TrackFailedLogin(ctx context.Context, user *auth.User, attempts int, at time.Time) error {
	args := m.Called(ctx, user, attempts, at)
	return args.Error(0)
}

func (m *MockUserStore) TrackSuccessfulLogin(ctx context.Context, user *auth.User, at time.Time) error {
	args := m.Called(ctx, user, at)
	return args.Error(0)
}

// MockSessionStore implements auth.SessionStore
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Create(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) (*auth.Session, error) {
	args := m.Called(ctx, userID, accessToken, refreshToken, expiresAt)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockSessionStore) FindByAccessToken(ctx context.Context, accessToken string) (*auth.Session, error) {
	args := m.Called(ctx, accessToken)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockSessionStore) FindByPair(ctx context.Context, accessToken, refreshToken string) (*auth.Session, error) {
	args := m.Called(ctx, accessToken, refreshToken)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockSessionStore) Rotate(ctx context.Context, current *auth.Session, accessToken, refreshToken string, expiresAt time.Time) (*auth.Session, error) {
	args := m.Called(ctx, current, accessToken, refreshToken, expiresAt)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockSessionStore) DeleteByAccessToken(ctx context.Context, accessToken string) error {
	args := m.Called(ctx, accessToken)
	return args.Error(0)
}

func (m *MockSessionStore) DeleteByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// MockPasswordVerifier implements auth.PasswordVerifier
type MockPasswordVerifier struct {
	mock.Mock
}

func (m *MockPasswordVerifier) ComparePasswordAndHash(password, hash string) error {
	args := m.Called(password, hash)
	return args.Error(0)
}

// newTestDB opens a private in memory sqlite database with the schema applied.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	_, err = auth.Migrate(context.Background(), db)
	require.NoError(t, err)

	return db
}

// seedUser registers a user with the given password through the users
// repository, using the cheapest bcrypt cost.
func seedUser(t *testing.T, users auth.Users, username, password string) *auth.User {
	t.Helper()

	hash, err := auth.NewBcryptHasher(4).HashPassword(password)
	require.NoError(t, err)

	user, err := users.Register(context.Background(), &auth.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
	})
	require.NoError(t, err)

	return user
}

func seedDisabledUser(t *testing.T, users auth.Users, username, password string) *auth.User {
	t.Helper()

	hash, err := auth.NewBcryptHasher(4).HashPassword(password)
	require.NoError(t, err)

	user, err := users.Register(context.Background(), &auth.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Status:       auth.UserStatusDisabled,
	})
	require.NoError(t, err)
	require.Equal(t, auth.UserStatusDisabled, user.Status)

	return user
}

// stack wires every component against a real sqlite database and a shared
// fake clock.
type stack struct {
	db        *bun.DB
	repo      auth.RepositoryManager
	clock     *fakeClock
	codec     *auth.TokenCodec
	auth      *auth.Authenticator
	validator *auth.Validator
	refresher *auth.Refresher
	sink      *capturingSink
}

func newStack(t *testing.T, opts auth.Options) *stack {
	t.Helper()

	db := newTestDB(t)
	repo := auth.NewRepositoryManager(db)
	clock := newFakeClock(time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC))
	codec := auth.NewTokenCodec(opts).WithLogger(nopLogger{})
	sink := &capturingSink{}

	return &stack{
		db:    db,
		repo:  repo,
		clock: clock,
		codec: codec,
		sink:  sink,
		auth: auth.NewAuthenticator(repo.Users(), repo.Sessions(), codec, opts).
			WithClock(clock).
			WithLogger(nopLogger{}).
			WithActivitySink(sink),
		validator: auth.NewValidator(codec, repo.Sessions(), opts).
			WithClock(clock).
			WithLogger(nopLogger{}),
		refresher: auth.NewRefresher(codec, repo.Sessions(), opts).
			WithClock(clock).
			WithLogger(nopLogger{}).
			WithActivitySink(sink),
	}
}

var (
	mockAnyContext = mock.Anything
	mockAnyTime    = mock.AnythingOfType("time.Time")
)

package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoginResult is returned by a successful login
type LoginResult struct {
	UserID  uuid.UUID
	Session *Session
	Tokens  TokenPair
}

// Authenticator handles password login and logout.
type Authenticator struct {
	users        UserStore
	sessions     SessionStore
	verifier     PasswordVerifier
	codec        *TokenCodec
	lockout      LockoutPolicy
	clock        Clock
	storeTimeout time.Duration
	logger       Logger
	activitySink ActivitySink
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users UserStore, sessions SessionStore, codec *TokenCodec, opts Config) *Authenticator {
	return &Authenticator{
		users:        users,
		sessions:     sessions,
		verifier:     BcryptHasher{},
		codec:        codec,
		lockout:      NewLockoutPolicy(opts),
		clock:        SystemClock(),
		storeTimeout: opts.GetStoreTimeout(),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (s *Authenticator) WithLogger(logger Logger) *Authenticator {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Authenticator) WithClock(clock Clock) *Authenticator {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *Authenticator) WithPasswordVerifier(verifier PasswordVerifier) *Authenticator {
	if verifier != nil {
		s.verifier = verifier
	}
	return s
}

func (s *Authenticator) WithActivitySink(sink ActivitySink) *Authenticator {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

var (
	unknownUserHash     string
	unknownUserHashOnce sync.Once
)

// unknownUserPasswordHash is compared against when the username does not
// exist so that both branches pay for a bcrypt comparison.
func unknownUserPasswordHash() string {
	unknownUserHashOnce.Do(func() {
		unknownUserHash = RandomPasswordHash()
	})
	return unknownUserHash
}

// Login verifies username and password and opens a new session.
//
// Unknown users, wrong passwords and accounts that are not active all yield
// ErrInvalidCredentials. A locked account yields ErrAccountLocked and its
// counter is left untouched.
func (s *Authenticator) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	now := s.clock.Now()

	user, err := s.getUser(ctx, username)
	if err != nil {
		if KindOf(err) == KindNotFound {
			s.logger.Debug("Login unknown username")
			_ = s.verifier.ComparePasswordAndHash(password, unknownUserPasswordHash())
			s.record(ctx, ActivityEventLoginFailure, "", "", now, map[string]any{"reason": "unknown_user"})
			return nil, withKind(ErrInvalidCredentials, nil, nil)
		}
		s.logger.Error("Login user lookup error", "error", err)
		return nil, err
	}

	if s.lockout.Locked(user.LoginAttempts, user.LastLoginAt, now) {
		retryAfter := s.lockout.RetryAfter(user.LoginAttempts, user.LastLoginAt, now)
		s.logger.Info("Login rejected, account locked", "user_id", user.ID, "retry_after", retryAfter)
		s.record(ctx, ActivityEventLoginLocked, user.ID.String(), "", now, nil)
		return nil, withKind(ErrAccountLocked, nil, map[string]any{
			"retry_after_seconds": int(retryAfter.Round(time.Second).Seconds()),
		})
	}

	if err := s.verifier.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, s.failedAttempt(ctx, user, now, err)
	}

	if !user.IsActive() {
		s.logger.Info("Login rejected, account not active", "user_id", user.ID, "status", user.Status)
		s.record(ctx, ActivityEventLoginFailure, user.ID.String(), "", now, map[string]any{"reason": "inactive"})
		return nil, withKind(ErrInvalidCredentials, nil, nil)
	}

	if err := s.trackSuccess(ctx, user, now); err != nil {
		s.logger.Error("Login track successful login error", "error", err)
		return nil, err
	}

	pair, err := s.codec.IssuePair(user.ID.String(), now)
	if err != nil {
		s.logger.Error("Login token issue error", "error", err)
		return nil, err
	}

	session, err := s.createSession(ctx, user.ID, pair)
	if err != nil {
		s.logger.Error("Login create session error", "error", err)
		return nil, err
	}

	s.record(ctx, ActivityEventLoginSuccess, user.ID.String(), session.ID.String(), now, nil)

	return &LoginResult{
		UserID:  user.ID,
		Session: session,
		Tokens:  *pair,
	}, nil
}

// Logout deletes the session bound to accessToken. Unknown tokens are not
// an error.
func (s *Authenticator) Logout(ctx context.Context, accessToken string) error {
	sctx, cancel := storeContext(ctx, s.storeTimeout)
	defer cancel()

	if err := s.sessions.DeleteByAccessToken(sctx, accessToken); err != nil {
		s.logger.Error("Logout delete session error", "error", err)
		return persistenceError(err, nil, "logout")
	}

	s.record(ctx, ActivityEventLogout, "", "", s.clock.Now(), nil)
	return nil
}

// LogoutAll deletes every session of userID and returns how many were
// removed.
func (s *Authenticator) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	sctx, cancel := storeContext(ctx, s.storeTimeout)
	defer cancel()

	n, err := s.sessions.DeleteByUserID(sctx, userID)
	if err != nil {
		s.logger.Error("LogoutAll delete sessions error", "user_id", userID, "error", err)
		return 0, persistenceError(err, nil, "logout_all")
	}

	s.record(ctx, ActivityEventLogoutAll, userID.String(), "", s.clock.Now(), map[string]any{"sessions": n})
	return n, nil
}

func (s *Authenticator) failedAttempt(ctx context.Context, user *User, now time.Time, cause error) error {
	if !errors.Is(cause, ErrMismatchedHashAndPassword) {
		s.logger.Warn("Login password verifier error, counted as failed attempt", "user_id", user.ID, "error", cause)
	}

	attempts := s.lockout.NextFailedAttempts(user.LoginAttempts, user.LastLoginAt, now)

	sctx, cancel := storeContext(ctx, s.storeTimeout)
	defer cancel()

	if err := s.users.TrackFailedLogin(sctx, user, attempts, now); err != nil {
		s.logger.Error("Login track failed login error", "error", err)
		return persistenceError(err, nil, "track_failed_login")
	}

	meta := map[string]any{"attempts": attempts}

	if s.lockout.ExceedsThreshold(attempts) {
		s.logger.Info("Login failure locked account", "user_id", user.ID, "attempts", attempts)
		s.record(ctx, ActivityEventLoginLocked, user.ID.String(), "", now, meta)
		return withKind(ErrAccountLocked, nil, map[string]any{
			"retry_after_seconds": int(s.lockout.Window.Round(time.Second).Seconds()),
		})
	}

	s.record(ctx, ActivityEventLoginFailure, user.ID.String(), "", now, meta)
	return withKind(ErrInvalidCredentials, nil, nil)
}

func (s *Authenticator) getUser(ctx context.Context, username string) (*User, error) {
	sctx, cancel := storeContext(ctx, s.storeTimeout)
	defer cancel()

	user, err := s.users.GetByUsername(sctx, username)
	if err != nil {
		return nil, persistenceError(err, ErrUserNotFound, "get_user")
	}
	if user == nil {
		return nil, withKind(ErrUserNotFound, nil, nil)
	}
	return user, nil
}

func (s *Authenticator) trackSuccess(ctx context.Context, user *User, now time.Time) error {
	sctx, cancel := storeContext(ctx, s.storeTimeout)
	defer cancel()

	if err := s.users.TrackSuccessfulLogin(sctx, user, now); err != nil {
		return persistenceError(err, nil, "track_successful_login")
	}
	return nil
}

func (s *Authenticator) createSession(ctx context.Context, userID uuid.UUID, pair *TokenPair) (*Session, error) {
	sctx, cancel := storeContext(ctx, s.storeTimeout)
	defer cancel()

	session, err := s.sessions.Create(sctx, userID, pair.AccessToken, pair.RefreshToken, pair.RefreshExpiresAt)
	if err != nil {
		return nil, persistenceError(err, nil, "create_session")
	}
	return session, nil
}

func (s *Authenticator) record(ctx context.Context, eventType ActivityEventType, userID, sessionID string, at time.Time, meta map[string]any) {
	recordActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType:  eventType,
		UserID:     userID,
		SessionID:  sessionID,
		Metadata:   meta,
		OccurredAt: at,
	})
}

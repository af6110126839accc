package auth

import (
	"context"
	"time"
)

// Refresher exchanges a bound access/refresh pair for a new one, rotating
// the session in place.
type Refresher struct {
	codec        *TokenCodec
	sessions     SessionStore
	clock        Clock
	policy       RefreshFailurePolicy
	storeTimeout time.Duration
	logger       Logger
	activitySink ActivitySink
}

// NewRefresher returns a new Refresher
func NewRefresher(codec *TokenCodec, sessions SessionStore, opts Config) *Refresher {
	return &Refresher{
		codec:        codec,
		sessions:     sessions,
		clock:        SystemClock(),
		policy:       opts.GetRefreshFailurePolicy(),
		storeTimeout: opts.GetStoreTimeout(),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (r *Refresher) WithLogger(logger Logger) *Refresher {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *Refresher) WithClock(clock Clock) *Refresher {
	if clock != nil {
		r.clock = clock
	}
	return r
}

func (r *Refresher) WithActivitySink(sink ActivitySink) *Refresher {
	r.activitySink = normalizeActivitySink(sink)
	return r
}

// Refresh validates refreshToken, proves it is bound to accessToken and
// rotates the session. The access token may be expired but its signature
// must verify and its subject must match the refresh token's.
//
// It returns the claims of the new access token and the new pair.
// Failures are ErrTokenExpired (refresh token past expiry), ErrTokenInvalid
// (anything else, including a lost rotation race) or ErrPersistence.
func (r *Refresher) Refresh(ctx context.Context, accessToken, refreshToken string) (*Claims, *TokenPair, error) {
	now := r.clock.Now()

	accessClaims, err := r.codec.Decode(accessToken, TokenKindAccess, now)
	if err != nil && KindOf(err) != KindExpired {
		r.logger.Debug("Refresh rejected access token", "reason", KindOf(err))
		return nil, nil, r.fail(ctx, "", now, withKind(ErrTokenInvalid, err, map[string]any{"reason": "access token"}))
	}

	refreshClaims, err := r.codec.Decode(refreshToken, TokenKindRefresh, now)
	if err != nil {
		if KindOf(err) == KindExpired {
			return nil, nil, r.fail(ctx, accessToken, now, err)
		}
		return nil, nil, r.fail(ctx, accessToken, now, withKind(ErrTokenInvalid, err, map[string]any{"reason": "refresh token"}))
	}

	subject := refreshClaims.UserID()
	if accessClaims.UserID() != subject {
		r.logger.Info("Refresh subject mismatch between access and refresh token")
		return nil, nil, r.fail(ctx, accessToken, now, withKind(ErrTokenInvalid, nil, map[string]any{"reason": "subject mismatch"}))
	}

	session, err := r.findByPair(ctx, accessToken, refreshToken)
	if err != nil {
		if KindOf(err) == KindNotFound {
			r.logger.Info("Refresh pair is not bound to a session", "user_id", subject)
			return nil, nil, r.fail(ctx, accessToken, now, withKind(ErrTokenInvalid, err, map[string]any{"reason": "unbound pair"}))
		}
		r.logger.Error("Refresh session lookup error", "error", err)
		return nil, nil, err
	}

	if session.UserID.String() != subject {
		r.logger.Error("Refresh session belongs to another subject", "session_id", session.ID)
		return nil, nil, r.fail(ctx, accessToken, now, withKind(ErrTokenInvalid, nil, map[string]any{"reason": "subject mismatch"}))
	}

	pair, err := r.codec.IssuePair(subject, now)
	if err != nil {
		r.logger.Error("Refresh token issue error", "error", err)
		return nil, nil, err
	}

	rotated, err := r.rotate(ctx, session, pair)
	if err != nil {
		if KindOf(err) == KindConflict {
			r.logger.Info("Refresh lost concurrent rotation", "session_id", session.ID)
			return nil, nil, r.fail(ctx, "", now, withKind(ErrTokenInvalid, err, map[string]any{"reason": "concurrent rotation"}))
		}
		r.logger.Error("Refresh rotate error", "error", err)
		return nil, nil, err
	}

	claims, err := r.codec.Decode(pair.AccessToken, TokenKindAccess, now)
	if err != nil {
		r.logger.Error("Refresh could not decode the issued access token", "error", err)
		return nil, nil, err
	}

	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType:  ActivityEventTokenRefreshed,
		UserID:     subject,
		SessionID:  rotated.ID.String(),
		OccurredAt: now,
	})

	return claims, pair, nil
}

// fail applies the failure policy. accessToken is empty when its signature
// did not verify or the session already moved on; such sessions are never
// revoked here.
func (r *Refresher) fail(ctx context.Context, accessToken string, now time.Time, cause error) error {
	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType:  ActivityEventRefreshFailure,
		Metadata:   map[string]any{"kind": string(KindOf(cause))},
		OccurredAt: now,
	})

	if r.policy != RefreshFailureRevoke || accessToken == "" {
		return cause
	}

	sctx, cancel := storeContext(ctx, r.storeTimeout)
	defer cancel()

	if err := r.sessions.DeleteByAccessToken(sctx, accessToken); err != nil {
		r.logger.Error("Refresh failed to revoke session", "error", err)
	}

	return cause
}

func (r *Refresher) findByPair(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	sctx, cancel := storeContext(ctx, r.storeTimeout)
	defer cancel()

	session, err := r.sessions.FindByPair(sctx, accessToken, refreshToken)
	if err != nil {
		return nil, persistenceError(err, ErrSessionNotFound, "find_by_pair")
	}
	return session, nil
}

func (r *Refresher) rotate(ctx context.Context, session *Session, pair *TokenPair) (*Session, error) {
	sctx, cancel := storeContext(ctx, r.storeTimeout)
	defer cancel()

	rotated, err := r.sessions.Rotate(sctx, session, pair.AccessToken, pair.RefreshToken, pair.RefreshExpiresAt)
	if err != nil {
		return nil, persistenceError(err, nil, "rotate")
	}
	return rotated, nil
}

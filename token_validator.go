package auth

import (
	"context"
	"time"
)

// Validator checks an access token's signature and expiry and then confirms
// the token is still bound to a session. The store lookup is what makes
// logout and rotation revoke a token whose signature is still valid.
type Validator struct {
	codec        *TokenCodec
	sessions     SessionStore
	clock        Clock
	storeTimeout time.Duration
	logger       Logger
}

// NewValidator returns a new Validator
func NewValidator(codec *TokenCodec, sessions SessionStore, opts Config) *Validator {
	return &Validator{
		codec:        codec,
		sessions:     sessions,
		clock:        SystemClock(),
		storeTimeout: opts.GetStoreTimeout(),
		logger:       defLogger{},
	}
}

func (v *Validator) WithLogger(logger Logger) *Validator {
	if logger != nil {
		v.logger = logger
	}
	return v
}

func (v *Validator) WithClock(clock Clock) *Validator {
	if clock != nil {
		v.clock = clock
	}
	return v
}

// Validate returns the claims of a live access token.
//
// ErrTokenExpired is kept distinct so callers can attempt a refresh. Every
// other codec failure and a token with no session yield ErrTokenInvalid.
func (v *Validator) Validate(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := v.codec.Decode(accessToken, TokenKindAccess, v.clock.Now())
	if err != nil {
		if KindOf(err) == KindExpired {
			return nil, err
		}
		v.logger.Debug("Validate rejected access token", "reason", KindOf(err))
		return nil, withKind(ErrTokenInvalid, err, nil)
	}

	sctx, cancel := storeContext(ctx, v.storeTimeout)
	defer cancel()

	session, err := v.sessions.FindByAccessToken(sctx, accessToken)
	if err != nil {
		err = persistenceError(err, ErrSessionNotFound, "validate")
		if KindOf(err) == KindNotFound {
			v.logger.Debug("Validate access token has no session", "user_id", claims.UserID())
			return nil, withKind(ErrTokenInvalid, err, map[string]any{"reason": "revoked"})
		}
		v.logger.Error("Validate session lookup error", "error", err)
		return nil, err
	}

	if session.UserID.String() != claims.UserID() {
		v.logger.Error("Validate session subject mismatch", "session_id", session.ID)
		return nil, withKind(ErrTokenInvalid, nil, map[string]any{"reason": "subject mismatch"})
	}

	return claims, nil
}

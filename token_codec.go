package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenCodec signs and decodes access and refresh tokens. Each kind has its
// own HS256 secret and lifetime, so a token of one kind never verifies as the
// other.
type TokenCodec struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	logger     Logger
}

// NewTokenCodec creates a codec from cfg
func NewTokenCodec(cfg Config) *TokenCodec {
	return &TokenCodec{
		accessKey:  []byte(cfg.GetAccessTokenSecret()),
		refreshKey: []byte(cfg.GetRefreshTokenSecret()),
		accessTTL:  cfg.GetAccessTokenExpiration(),
		refreshTTL: cfg.GetRefreshTokenExpiration(),
		issuer:     cfg.GetIssuer(),
		logger:     defLogger{},
	}
}

func (tc *TokenCodec) WithLogger(logger Logger) *TokenCodec {
	if logger != nil {
		tc.logger = logger
	}
	return tc
}

// TTL returns the configured lifetime for kind
func (tc *TokenCodec) TTL(kind TokenKind) time.Duration {
	if kind == TokenKindRefresh {
		return tc.refreshTTL
	}
	return tc.accessTTL
}

func (tc *TokenCodec) key(kind TokenKind) []byte {
	if kind == TokenKindRefresh {
		return tc.refreshKey
	}
	return tc.accessKey
}

// Issue signs a token for subject. The expiry is now plus the lifetime
// configured for kind, rounded up to the next whole second since the token
// encodes seconds. A token never expires before its full lifetime.
func (tc *TokenCodec) Issue(subject string, kind TokenKind, now time.Time) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, goerrors.New("token subject is required", goerrors.CategoryBadInput)
	}

	exp := jwt.NewNumericDate(ceilSecond(now.Add(tc.TTL(kind))))
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tc.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
		Refresh: kind == TokenKindRefresh,
	}

	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.key(kind))
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, exp.Time, nil
}

func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); r.Before(t) {
		return r.Add(time.Second)
	}
	return t
}

// IssuePair issues an access and a refresh token for subject at now.
func (tc *TokenCodec) IssuePair(subject string, now time.Time) (*TokenPair, error) {
	access, accessExp, err := tc.Issue(subject, TokenKindAccess, now)
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := tc.Issue(subject, TokenKindRefresh, now)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Decode verifies raw under the secret for kind and returns its claims.
//
// Failures carry ErrTokenSignatureInvalid, ErrTokenExpired or
// ErrTokenMalformed. When the signature verifies but the token is expired
// the claims are returned alongside ErrTokenExpired.
func (tc *TokenCodec) Decode(raw string, kind TokenKind, now time.Time) (*Claims, error) {
	if raw == "" {
		return nil, withKind(ErrTokenMalformed, nil, map[string]any{"kind": kind.String(), "reason": "empty token"})
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if tc.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(tc.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			tc.logger.Error("TokenCodec decode encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tc.key(kind), nil
	}, parserOptions...)

	meta := map[string]any{"kind": kind.String()}

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			if claims.Kind() != kind {
				return nil, withKind(ErrTokenMalformed, err, meta)
			}
			return claims, withKind(ErrTokenExpired, err, meta)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, withKind(ErrTokenSignatureInvalid, err, meta)
		default:
			return nil, withKind(ErrTokenMalformed, err, meta)
		}
	}

	if claims.Kind() != kind {
		meta["reason"] = "token kind mismatch"
		return nil, withKind(ErrTokenMalformed, nil, meta)
	}

	if claims.UserID() == "" {
		meta["reason"] = "missing subject"
		return nil, withKind(ErrTokenMalformed, nil, meta)
	}

	// the library check above uses the same clock; this one does not depend
	// on its leeway rules.
	if claims.Expires().Before(now) {
		return claims, withKind(ErrTokenExpired, nil, meta)
	}

	return claims, nil
}

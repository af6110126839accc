package auth

import (
	"context"
	"database/sql"
	stderrors "errors"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
)

const (
	TextCodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	TextCodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenInvalid       = "TOKEN_INVALID"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenSignature     = "TOKEN_SIGNATURE_INVALID"
	TextCodeSessionConflict    = "SESSION_CONFLICT"
	TextCodeSessionNotFound    = "SESSION_NOT_FOUND"
	TextCodeUserNotFound       = "USER_NOT_FOUND"
	TextCodeUserExists         = "USER_ALREADY_EXISTS"
	TextCodePersistence        = "PERSISTENCE_FAILURE"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
// The message never tells the two apart.
var ErrInvalidCredentials = goerrors.New("invalid username or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountLocked is returned while the lockout window is active.
var ErrAccountLocked = goerrors.New("account locked. try again later", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountLocked).
	WithCode(goerrors.CodeForbidden)

// ErrTokenExpired is returned when a token verified but is past its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenInvalid covers every rejected token that is not merely expired:
// forged, malformed, revoked, rotated away or replayed.
var ErrTokenInvalid = goerrors.New("token is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned by the codec for structurally invalid tokens.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenSignatureInvalid is returned by the codec when the signature does
// not verify under the secret for the requested token kind.
var ErrTokenSignatureInvalid = goerrors.New("token signature is invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenSignature).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionConflict is returned by a session store when a rotation lost the
// race against another rotation of the same session.
var ErrSessionConflict = goerrors.New("session was rotated concurrently", goerrors.CategoryConflict).
	WithTextCode(TextCodeSessionConflict).
	WithCode(goerrors.CodeConflict)

// ErrSessionNotFound is returned by a session store lookup with no match.
var ErrSessionNotFound = goerrors.New("session not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeSessionNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUserNotFound is returned by a user store lookup with no match.
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUserAlreadyExists is returned when registering a taken username or email.
var ErrUserAlreadyExists = goerrors.New("user already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeUserExists).
	WithCode(goerrors.CodeConflict)

// ErrPersistence wraps storage faults and store timeouts.
var ErrPersistence = goerrors.New("storage operation failed", goerrors.CategoryInternal).
	WithTextCode(TextCodePersistence).
	WithCode(goerrors.CodeInternal)

// ErrorKind is the closed set of outcomes callers branch on.
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindLocked             ErrorKind = "locked"
	KindExpired            ErrorKind = "expired"
	KindInvalid            ErrorKind = "invalid"
	KindMalformed          ErrorKind = "malformed"
	KindSignatureInvalid   ErrorKind = "signature_invalid"
	KindConflict           ErrorKind = "conflict"
	KindNotFound           ErrorKind = "not_found"
	KindPersistence        ErrorKind = "persistence"
	KindUnknown            ErrorKind = "unknown"
)

var kindByTextCode = map[string]ErrorKind{
	TextCodeInvalidCredentials: KindInvalidCredentials,
	TextCodeAccountLocked:      KindLocked,
	TextCodeTokenExpired:       KindExpired,
	TextCodeTokenInvalid:       KindInvalid,
	TextCodeTokenMalformed:     KindMalformed,
	TextCodeTokenSignature:     KindSignatureInvalid,
	TextCodeSessionConflict:    KindConflict,
	TextCodeUserExists:         KindConflict,
	TextCodeSessionNotFound:    KindNotFound,
	TextCodeUserNotFound:       KindNotFound,
	TextCodePersistence:        KindPersistence,
}

// KindOf reports the ErrorKind carried by err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		if kind, ok := kindByTextCode[richErr.TextCode]; ok {
			return kind
		}
	}

	return KindUnknown
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return KindOf(err) == KindExpired
}

// IsUnauthorized reports whether err should surface as a plain 401.
func IsUnauthorized(err error) bool {
	switch KindOf(err) {
	case KindExpired, KindInvalid, KindMalformed, KindSignatureInvalid, KindConflict:
		return true
	}
	return false
}

// withKind returns a copy of base carrying source and metadata. The
// sentinel itself is never mutated.
func withKind(base *goerrors.Error, source error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		return base
	}

	if source != nil {
		clone.Source = source
	}

	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}

	return clone
}

// persistenceError classifies a store failure: missing rows map to notFound,
// kinds already set by a store pass through, everything else is ErrPersistence.
func persistenceError(err error, notFound *goerrors.Error, op string) error {
	if err == nil {
		return nil
	}

	switch KindOf(err) {
	case KindNotFound, KindConflict, KindPersistence:
		return err
	}

	meta := map[string]any{"operation": op}

	if notFound != nil && (stderrors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)) {
		return withKind(notFound, err, meta)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		meta["timeout"] = true
	}

	meta["error"] = err.Error()
	return withKind(ErrPersistence, err, meta)
}

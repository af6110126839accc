// Package auth provides session based authentication: password login with
// account lockout, short lived access tokens bound to a stored session, and
// refresh token rotation.
//
// Tokens:
//   - TokenCodec signs and verifies HS256 JWTs. Access and refresh tokens use
//     distinct secrets and lifetimes. An expired token whose signature verifies
//     is reported as ErrTokenExpired together with its claims.
//
// Sessions:
//   - Login stores the issued pair in a SessionStore. Validator accepts an
//     access token only while that session exists, so Logout revokes it even
//     though the signature is still valid.
//   - Refresher rotates the pair with a compare-and-set on the stored pair. Of
//     several concurrent refreshes of the same pair exactly one wins.
//
// Lockout:
//   - LockoutPolicy derives the locked state from the user's failed attempt
//     counter and the time of the last attempt. No extra state is stored.
//
// Errors:
//   - All failures are go-errors values. Use KindOf to branch on them.
//
// HTTP:
//   - NewAuthGate builds the router middleware (see middleware/authgate) that
//     renews expired access tokens in place. HTTPController exposes the login,
//     register, refresh and logout endpoints.
package auth

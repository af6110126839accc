package auth

import (
	"context"
	"fmt"

	"github.com/goliatone/go-session-auth/middleware/authgate"
)

// GateOptions tweaks the auth gate built by NewAuthGate.
type GateOptions struct {
	ContextKey         string
	TokenLookup        string
	RefreshTokenLookup string
	RefreshCookie      authgate.CookieConfig
	// DisableRefresh rejects expired access tokens instead of renewing them.
	DisableRefresh bool
}

// NewAuthGate wires the validator and refresher into the router auth gate.
// Authenticated requests carry *Claims in the router locals and in the
// request context (see GetClaims).
func NewAuthGate(validator *Validator, refresher *Refresher, opts ...GateOptions) *authgate.Gate {
	var o GateOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	cfg := authgate.Config{
		Validator:          gateValidator{validator},
		ContextKey:         o.ContextKey,
		TokenLookup:        o.TokenLookup,
		RefreshTokenLookup: o.RefreshTokenLookup,
		RefreshCookie:      o.RefreshCookie,
		ContextEnricher: func(ctx context.Context, identity authgate.Identity) context.Context {
			if claims, ok := identity.(*Claims); ok {
				return WithClaimsContext(ctx, claims)
			}
			return ctx
		},
	}

	if refresher != nil && !o.DisableRefresh {
		cfg.Refresher = gateRefresher{refresher}
	}

	return authgate.NewGate(cfg)
}

type gateValidator struct {
	v *Validator
}

func (g gateValidator) ValidateAccess(ctx context.Context, accessToken string) (authgate.Identity, error) {
	claims, err := g.v.Validate(ctx, accessToken)
	if err != nil {
		return nil, gateError(err)
	}
	return claims, nil
}

type gateRefresher struct {
	r *Refresher
}

func (g gateRefresher) RefreshAccess(ctx context.Context, accessToken, refreshToken string) (*authgate.Renewal, error) {
	claims, pair, err := g.r.Refresh(ctx, accessToken, refreshToken)
	if err != nil {
		return nil, gateError(err)
	}

	return &authgate.Renewal{
		Identity:         claims,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}, nil
}

// gateError translates error kinds into the gate's sentinels, keeping the
// original error in the chain for logging.
func gateError(err error) error {
	switch KindOf(err) {
	case KindExpired:
		return fmt.Errorf("%w: %w", authgate.ErrTokenExpired, err)
	case KindPersistence:
		return fmt.Errorf("%w: %w", authgate.ErrUnavailable, err)
	default:
		return err
	}
}

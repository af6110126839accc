package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-router"
)

var (
	ErrTokenMissingOrMalformed = errors.New("missing or malformed token")
	ErrRefreshTokenMissing     = errors.New("missing refresh token")
	// ErrTokenExpired must be matchable with errors.Is on whatever the
	// TokenValidator returns for an expired but otherwise valid token.
	ErrTokenExpired = errors.New("token is expired")
	// ErrUnavailable marks failures of the backing store rather than of the
	// presented credentials.
	ErrUnavailable = errors.New("authentication backend unavailable")
)

const (
	defaultTokenLookup        = "header:" + router.HeaderAuthorization
	defaultRefreshTokenLookup = "cookie:refresh_token"
	defaultRefreshCookieName  = "refresh_token"

	CookieSameSiteLax    = "Lax"
	CookieSameSiteStrict = "Strict"
	CookieSameSiteNone   = "None"
)

// Identity is the authenticated principal stored on the request.
// This mirrors the claims type of the auth package without importing it.
type Identity interface {
	UserID() string
}

// TokenValidator validates access tokens without import cycles
type TokenValidator interface {
	ValidateAccess(ctx context.Context, accessToken string) (Identity, error)
}

// TokenRefresher renews an expired access token with its bound refresh token
type TokenRefresher interface {
	RefreshAccess(ctx context.Context, accessToken, refreshToken string) (*Renewal, error)
}

// Renewal is the outcome of a successful refresh.
type Renewal struct {
	Identity         Identity
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// CookieConfig describes the refresh token cookie written on renewal.
type CookieConfig struct {
	Name     string
	Path     string
	Secure   bool
	SameSite string
}

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler

	// Validator is required
	Validator TokenValidator
	// Refresher is optional; without it expired tokens are rejected
	Refresher TokenRefresher

	ContextKey         string
	RenewalKey         string
	TokenLookup        string
	RefreshTokenLookup string
	AuthScheme         string
	RefreshCookie      CookieConfig

	// ContextEnricher is an optional function to propagate the identity to
	// the request's user context.
	ContextEnricher func(ctx context.Context, identity Identity) context.Context
}

// Gate authenticates each request, renewing expired credentials in place.
//
// A request either ends up authenticated, with the identity stored under
// ContextKey, or rejected through ErrorHandler. The only transient branch is
// an expired access token, handled by AttemptRefresh.
type Gate struct {
	cfg     Config
	access  []TokenExtractor
	refresh []TokenExtractor
}

// New returns the gate as a router middleware
func New(config ...Config) router.MiddlewareFunc {
	return NewGate(config...).Middleware()
}

func NewGate(config ...Config) *Gate {
	cfg := GetDefaultConfig(config...)
	return &Gate{
		cfg:     cfg,
		access:  GetExtractors(cfg.TokenLookup, cfg.AuthScheme),
		refresh: GetExtractors(cfg.RefreshTokenLookup, ""),
	}
}

// Config returns the resolved configuration
func (g *Gate) Config() Config {
	return g.cfg
}

func (g *Gate) Middleware() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return g.Handle
	}
}

// Handle runs the gate for a single request.
func (g *Gate) Handle(c router.Context) error {
	if g.cfg.Filter != nil && g.cfg.Filter(c) {
		return c.Next()
	}

	raw, err := ExtractRawToken(c, g.access)
	if err != nil {
		return g.cfg.ErrorHandler(c, err)
	}

	identity, err := g.cfg.Validator.ValidateAccess(c.Context(), raw)
	switch {
	case err == nil:
		return g.authenticated(c, identity)
	case errors.Is(err, ErrTokenExpired):
		renewal, rerr := g.AttemptRefresh(c, raw)
		if rerr != nil {
			return g.cfg.ErrorHandler(c, rerr)
		}
		g.WriteRenewal(c, renewal)
		return g.authenticated(c, renewal.Identity)
	default:
		return g.cfg.ErrorHandler(c, err)
	}
}

// AttemptRefresh renews an expired accessToken with the refresh token
// carried by the request. It does not touch the response.
func (g *Gate) AttemptRefresh(c router.Context, accessToken string) (*Renewal, error) {
	if g.cfg.Refresher == nil {
		return nil, ErrTokenExpired
	}

	refreshToken, err := ExtractRawToken(c, g.refresh)
	if err != nil || refreshToken == "" {
		return nil, ErrRefreshTokenMissing
	}

	renewal, err := g.cfg.Refresher.RefreshAccess(c.Context(), accessToken, refreshToken)
	if err != nil {
		return nil, err
	}

	if renewal == nil || renewal.Identity == nil || renewal.AccessToken == "" {
		return nil, ErrTokenMissingOrMalformed
	}

	return renewal, nil
}

// WriteRenewal surfaces the new pair: the access token in the
// Authorization response header and the refresh token as an HttpOnly cookie.
func (g *Gate) WriteRenewal(c router.Context, renewal *Renewal) {
	c.SetHeader(router.HeaderAuthorization, g.cfg.AuthScheme+" "+renewal.AccessToken)
	c.Cookie(g.RefreshCookie(renewal.RefreshToken, renewal.RefreshExpiresAt))
	c.Locals(g.cfg.RenewalKey, renewal)
}

// RefreshCookie builds the refresh token cookie. A zero expiresAt builds
// a cookie that clears the stored one.
func (g *Gate) RefreshCookie(value string, expiresAt time.Time) *router.Cookie {
	cookie := &router.Cookie{
		Name:     g.cfg.RefreshCookie.Name,
		Value:    value,
		Path:     g.cfg.RefreshCookie.Path,
		Secure:   g.cfg.RefreshCookie.Secure,
		SameSite: g.cfg.RefreshCookie.SameSite,
		HTTPOnly: true,
	}

	if expiresAt.IsZero() {
		cookie.Value = ""
		cookie.Expires = time.Unix(0, 0)
		return cookie
	}

	cookie.Expires = expiresAt
	return cookie
}

func (g *Gate) authenticated(c router.Context, identity Identity) error {
	c.Locals(g.cfg.ContextKey, identity)

	if g.cfg.ContextEnricher != nil {
		c.SetContext(g.cfg.ContextEnricher(c.Context(), identity))
	}

	return g.cfg.SuccessHandler(c)
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Validator == nil {
		panic("AUTH: auth gate configuration: Validator is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c router.Context) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.RenewalKey == "" {
		cfg.RenewalKey = "auth_renewal"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.RefreshTokenLookup == "" {
		cfg.RefreshTokenLookup = defaultRefreshTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.RefreshCookie.Name == "" {
		cfg.RefreshCookie.Name = defaultRefreshCookieName
	}

	if cfg.RefreshCookie.Path == "" {
		cfg.RefreshCookie.Path = "/"
	}

	if cfg.RefreshCookie.SameSite == "" {
		cfg.RefreshCookie.SameSite = CookieSameSiteLax
	}

	return cfg
}

// DefaultErrorHandler never tells the client why a credential was rejected.
func DefaultErrorHandler(c router.Context, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return c.JSON(router.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
	return c.JSON(router.StatusUnauthorized, map[string]string{
		"error": "unauthorized",
	})
}

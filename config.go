package auth

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// RefreshFailurePolicy decides what happens to a session when a refresh
// attempt with a verified access token is rejected.
type RefreshFailurePolicy string

const (
	// RefreshFailureKeep leaves the session in place; it expires on its own.
	RefreshFailureKeep RefreshFailurePolicy = "keep"
	// RefreshFailureRevoke deletes the session bound to the access token.
	RefreshFailureRevoke RefreshFailurePolicy = "revoke"
)

// ParseRefreshFailurePolicy maps a config string to a policy, defaulting
// to RefreshFailureKeep.
func ParseRefreshFailurePolicy(s string) RefreshFailurePolicy {
	if RefreshFailurePolicy(strings.ToLower(strings.TrimSpace(s))) == RefreshFailureRevoke {
		return RefreshFailureRevoke
	}
	return RefreshFailureKeep
}

const (
	DefaultAccessTokenExpiration  = 15 * time.Minute
	DefaultRefreshTokenExpiration = 240 * time.Minute
	DefaultLockoutDuration        = time.Minute
	DefaultMaxLoginAttempts       = 3
	DefaultStoreTimeout           = 5 * time.Second
)

// Options is the explicit configuration value handed to every component at
// construction time. Zero durations fall back to the defaults above.
type Options struct {
	AccessTokenSecret      string               `json:"access_token_secret"`
	RefreshTokenSecret     string               `json:"refresh_token_secret"`
	AccessTokenExpiration  time.Duration        `json:"access_token_expiration"`
	RefreshTokenExpiration time.Duration        `json:"refresh_token_expiration"`
	LockoutDuration        time.Duration        `json:"lockout_duration"`
	MaxLoginAttempts       int                  `json:"max_login_attempts"`
	Issuer                 string               `json:"issuer"`
	StoreTimeout           time.Duration        `json:"store_timeout"`
	RefreshFailurePolicy   RefreshFailurePolicy `json:"refresh_failure_policy"`
}

var _ Config = Options{}

// Minutes converts a minutes setting into a duration
func Minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// Validate will validate the options
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.AccessTokenSecret, validation.Required, validation.Length(16, 0)),
		validation.Field(&o.RefreshTokenSecret,
			validation.Required,
			validation.Length(16, 0),
			validation.By(secretsDiffer(o.AccessTokenSecret)),
		),
		validation.Field(&o.AccessTokenExpiration, validation.By(nonNegativeDuration)),
		validation.Field(&o.RefreshTokenExpiration, validation.By(nonNegativeDuration)),
		validation.Field(&o.LockoutDuration, validation.By(nonNegativeDuration)),
		validation.Field(&o.StoreTimeout, validation.By(nonNegativeDuration)),
		validation.Field(&o.MaxLoginAttempts, validation.Min(0)),
		validation.Field(&o.RefreshFailurePolicy, validation.In(
			RefreshFailurePolicy(""),
			RefreshFailureKeep,
			RefreshFailureRevoke,
		)),
	)
}

func secretsDiffer(access string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != "" && s == access {
			return errors.New("must differ from the access token secret")
		}
		return nil
	}
}

func nonNegativeDuration(value interface{}) error {
	d, _ := value.(time.Duration)
	if d < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func (o Options) GetAccessTokenSecret() string {
	return o.AccessTokenSecret
}

func (o Options) GetRefreshTokenSecret() string {
	return o.RefreshTokenSecret
}

func (o Options) GetAccessTokenExpiration() time.Duration {
	return durationOr(o.AccessTokenExpiration, DefaultAccessTokenExpiration)
}

func (o Options) GetRefreshTokenExpiration() time.Duration {
	return durationOr(o.RefreshTokenExpiration, DefaultRefreshTokenExpiration)
}

func (o Options) GetLockoutDuration() time.Duration {
	return durationOr(o.LockoutDuration, DefaultLockoutDuration)
}

func (o Options) GetMaxLoginAttempts() int {
	if o.MaxLoginAttempts <= 0 {
		return DefaultMaxLoginAttempts
	}
	return o.MaxLoginAttempts
}

func (o Options) GetIssuer() string {
	return o.Issuer
}

func (o Options) GetStoreTimeout() time.Duration {
	return durationOr(o.StoreTimeout, DefaultStoreTimeout)
}

func (o Options) GetRefreshFailurePolicy() RefreshFailurePolicy {
	if o.RefreshFailurePolicy == "" {
		return RefreshFailureKeep
	}
	return o.RefreshFailurePolicy
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/goliatone/go-session-auth/middleware/authgate"
)

const headerRetryAfter = "Retry-After"

type HTTPControllerRoutes struct {
	Login     string
	Register  string
	Refresh   string
	Logout    string
	LogoutAll string
	Me        string
	Protected string
}

// HTTPController exposes login, registration, refresh and logout as JSON
// endpoints. Gated routes go through the auth gate.
type HTTPController struct {
	Debug  bool
	Logger Logger
	Routes *HTTPControllerRoutes

	auth      *Authenticator
	refresher *Refresher
	gate      *authgate.Gate
	repo      RepositoryManager
	register  *RegisterUserHandler
}

type HTTPControllerOption func(*HTTPController) *HTTPController

func WithHTTPLogger(logger Logger) HTTPControllerOption {
	return func(h *HTTPController) *HTTPController {
		if logger != nil {
			h.Logger = logger
		}
		return h
	}
}

func WithHTTPDebug(debug bool) HTTPControllerOption {
	return func(h *HTTPController) *HTTPController {
		h.Debug = debug
		return h
	}
}

func WithRegisterUserHandler(handler *RegisterUserHandler) HTTPControllerOption {
	return func(h *HTTPController) *HTTPController {
		if handler != nil {
			h.register = handler
		}
		return h
	}
}

func NewHTTPController(auth *Authenticator, refresher *Refresher, gate *authgate.Gate, repo RepositoryManager, opts ...HTTPControllerOption) *HTTPController {
	h := &HTTPController{
		Logger: defLogger{},
		Routes: &HTTPControllerRoutes{
			Login:     "/login",
			Register:  "/register",
			Refresh:   "/refresh",
			Logout:    "/logout",
			LogoutAll: "/logout-all",
			Me:        "/me",
			Protected: "/protected",
		},
		auth:      auth,
		refresher: refresher,
		gate:      gate,
		repo:      repo,
	}

	if repo != nil {
		h.register = NewRegisterUserHandler(repo)
	}

	for _, opt := range opts {
		if opt != nil {
			h = opt(h)
		}
	}

	return h
}

// RegisterRoutes mounts the controller on r, e.g. srv.Router().Group("/api").
func RegisterRoutes[T any](r router.Router[T], h *HTTPController) {
	protected := h.gate.Middleware()

	r.Post(h.Routes.Login, h.Login).SetName("auth.login")
	r.Post(h.Routes.Register, h.Register).SetName("auth.register")
	r.Post(h.Routes.Refresh, h.Refresh).SetName("auth.refresh")
	r.Post(h.Routes.Logout, h.Logout, protected).SetName("auth.logout")
	r.Post(h.Routes.LogoutAll, h.LogoutAll, protected).SetName("auth.logout_all")
	r.Get(h.Routes.Me, h.Me, protected).SetName("auth.me")
	r.Get(h.Routes.Protected, h.Protected, protected).SetName("auth.protected")
}

// LoginPayload is the login request body
type LoginPayload struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Validate will validate the payload
func (r LoginPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 100)),
	)
}

// RegistrationPayload is the registration request body
type RegistrationPayload struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// RefreshPayload optionally carries the refresh token in the body when the
// client cannot send the cookie.
type RefreshPayload struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

func (h *HTTPController) Login(c router.Context) error {
	payload := new(LoginPayload)
	if err := c.Bind(payload); err != nil {
		h.Logger.Debug("login parse payload", "error", err)
		return c.JSON(router.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}

	if err := payload.Validate(); err != nil {
		return c.JSON(router.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": err,
		})
	}

	res, err := h.auth.Login(c.Context(), payload.Username, payload.Password)
	if err != nil {
		return h.errorResponse(c, err)
	}

	h.writeCredentials(c, res.Tokens)

	return c.JSON(router.StatusOK, map[string]any{
		"message":    "Login successful",
		"token":      res.Tokens.AccessToken,
		"expires_at": res.Tokens.AccessExpiresAt,
	})
}

func (h *HTTPController) Register(c router.Context) error {
	if h.register == nil {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "registration disabled"})
	}

	payload := new(RegistrationPayload)
	if err := c.Bind(payload); err != nil {
		h.Logger.Debug("register parse payload", "error", err)
		return c.JSON(router.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}

	msg := RegisterUserMessage{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
	}

	if err := msg.Validate(); err != nil {
		return c.JSON(router.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": err,
		})
	}

	var created *User
	msg.OnResponse = func(u *User) { created = u }

	if err := h.register.Execute(c.Context(), msg); err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"message": "User registered",
		"user":    created,
	})
}

// Refresh renews the pair explicitly. The access token comes from the
// Authorization header; the refresh token from the cookie or the body.
func (h *HTTPController) Refresh(c router.Context) error {
	accessToken, err := authgate.ExtractRawToken(c, authgate.GetExtractors(h.gate.Config().TokenLookup, h.gate.Config().AuthScheme))
	if err != nil {
		return h.errorResponse(c, withKind(ErrTokenInvalid, err, nil))
	}

	refreshToken := c.Cookies(h.gate.Config().RefreshCookie.Name)
	if refreshToken == "" {
		payload := new(RefreshPayload)
		if err := c.Bind(payload); err == nil {
			refreshToken = payload.RefreshToken
		}
	}

	if refreshToken == "" {
		return h.errorResponse(c, withKind(ErrTokenInvalid, nil, map[string]any{"reason": "missing refresh token"}))
	}

	_, pair, err := h.refresher.Refresh(c.Context(), accessToken, refreshToken)
	if err != nil {
		return h.errorResponse(c, err)
	}

	h.writeCredentials(c, *pair)

	return c.JSON(router.StatusOK, map[string]any{
		"message":    "Token refreshed",
		"token":      pair.AccessToken,
		"expires_at": pair.AccessExpiresAt,
	})
}

func (h *HTTPController) Logout(c router.Context) error {
	accessToken := h.currentAccessToken(c)

	if err := h.auth.Logout(c.Context(), accessToken); err != nil {
		return h.errorResponse(c, err)
	}

	c.Cookie(h.gate.RefreshCookie("", time.Time{}))

	return c.JSON(router.StatusOK, map[string]any{"message": "Logged out"})
}

// LogoutAll ends every session of the authenticated user.
func (h *HTTPController) LogoutAll(c router.Context) error {
	userID, err := h.currentUserID(c)
	if err != nil {
		return h.errorResponse(c, err)
	}

	n, err := h.auth.LogoutAll(c.Context(), userID)
	if err != nil {
		return h.errorResponse(c, err)
	}

	c.Cookie(h.gate.RefreshCookie("", time.Time{}))

	return c.JSON(router.StatusOK, map[string]any{
		"message":  "Logged out of all sessions",
		"sessions": n,
	})
}

func (h *HTTPController) Me(c router.Context) error {
	id, err := h.currentUserID(c)
	if err != nil || h.repo == nil {
		return h.errorResponse(c, withKind(ErrTokenInvalid, err, nil))
	}

	user, err := h.repo.Users().FindByID(c.Context(), id)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return h.errorResponse(c, withKind(ErrTokenInvalid, err, nil))
		}
		return h.errorResponse(c, err)
	}

	return c.JSON(router.StatusOK, map[string]any{"user": user})
}

func (h *HTTPController) Protected(c router.Context) error {
	subject, _ := SubjectFromContext(c.Context())
	return c.JSON(router.StatusOK, map[string]any{
		"message": "Access granted",
		"user_id": subject,
	})
}

func (h *HTTPController) currentUserID(c router.Context) (uuid.UUID, error) {
	subject, ok := SubjectFromContext(c.Context())
	if !ok {
		return uuid.Nil, withKind(ErrTokenInvalid, nil, nil)
	}

	id, err := uuid.Parse(subject)
	if err != nil {
		return uuid.Nil, withKind(ErrTokenInvalid, err, nil)
	}
	return id, nil
}

// currentAccessToken prefers a token renewed by the gate on this request.
func (h *HTTPController) currentAccessToken(c router.Context) string {
	if renewal, ok := c.Locals(h.gate.Config().RenewalKey).(*authgate.Renewal); ok && renewal != nil {
		return renewal.AccessToken
	}

	token, _ := authgate.ExtractRawToken(c, authgate.GetExtractors(h.gate.Config().TokenLookup, h.gate.Config().AuthScheme))
	return token
}

func (h *HTTPController) writeCredentials(c router.Context, pair TokenPair) {
	h.gate.WriteRenewal(c, &authgate.Renewal{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}

// errorResponse maps error kinds to coarse responses. Token failures all
// look the same to the client.
func (h *HTTPController) errorResponse(c router.Context, err error) error {
	if h.Debug {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			h.Logger.Debug("request failed", "kind", KindOf(err), "metadata", print.MaybePrettyJSON(richErr.Metadata))
		}
	}

	switch KindOf(err) {
	case KindInvalidCredentials:
		return c.JSON(router.StatusUnauthorized, map[string]any{"error": "Invalid username or password"})
	case KindLocked:
		if retry := retryAfterSeconds(err); retry > 0 {
			c.SetHeader(headerRetryAfter, strconv.Itoa(retry))
		}
		return c.JSON(router.StatusForbidden, map[string]any{"error": "Account locked. Try again later."})
	case KindExpired, KindInvalid, KindMalformed, KindSignatureInvalid:
		return c.JSON(router.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	case KindConflict:
		if isUserConflict(err) {
			return c.JSON(http.StatusConflict, map[string]any{"error": "user already exists"})
		}
		return c.JSON(router.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryValidation {
		return c.JSON(router.StatusBadRequest, map[string]any{"error": richErr.Message})
	}

	h.Logger.Error("request failed", "path", c.Path(), "error", err)
	return c.JSON(router.StatusInternalServerError, map[string]any{"error": "internal server error"})
}

func retryAfterSeconds(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return 0
	}
	v, _ := strconv.Atoi(fmt.Sprint(richErr.Metadata["retry_after_seconds"]))
	return v
}

func isUserConflict(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeUserExists
}

// Package routertest provides an in-memory router.Context for handler tests.
package routertest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goliatone/go-router"
)

// Context records what a handler wrote and serves request values from maps.
// Query and Param are served by the embedded router.MockContext from
// QueriesM and ParamsM.
type Context struct {
	*router.MockContext

	ReqHeaders map[string]string
	ReqCookies map[string]string
	ReqBody    []byte
	RoutePath  string

	StoredLocals    map[any]any
	RecordedHeaders map[string]string
	RecordedCookies []*router.Cookie
	RecordedStatus  int
	RecordedPayload any
	NextCalled      bool

	ctx context.Context
}

// New returns an empty request bound to context.Background.
func New() *Context {
	return &Context{
		MockContext:     router.NewMockContext(),
		ReqHeaders:      map[string]string{},
		ReqCookies:      map[string]string{},
		StoredLocals:    map[any]any{},
		RecordedHeaders: map[string]string{},
		ctx:             context.Background(),
	}
}

// WithBearer sets the Authorization header.
func (c *Context) WithBearer(token string) *Context {
	c.ReqHeaders[router.HeaderAuthorization] = "Bearer " + token
	return c
}

// WithCookie adds a request cookie.
func (c *Context) WithCookie(name, value string) *Context {
	c.ReqCookies[name] = value
	return c
}

// WithJSON sets the request body to the JSON encoding of v.
func (c *Context) WithJSON(v any) *Context {
	c.ReqBody, _ = json.Marshal(v)
	return c
}

func (c *Context) Next() error {
	c.NextCalled = true
	return nil
}

func (c *Context) Context() context.Context {
	return c.ctx
}

func (c *Context) SetContext(ctx context.Context) {
	c.ctx = ctx
}

func (c *Context) Path() string {
	return c.RoutePath
}

func (c *Context) GetString(key string, defaultValue string) string {
	if v, ok := c.ReqHeaders[key]; ok {
		return v
	}
	return defaultValue
}

func (c *Context) Cookies(key string, defaultValue ...string) string {
	if v, ok := c.ReqCookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (c *Context) Cookie(cookie *router.Cookie) {
	c.RecordedCookies = append(c.RecordedCookies, cookie)
}

func (c *Context) SetHeader(key, val string) router.Context {
	c.RecordedHeaders[key] = val
	return c
}

func (c *Context) Locals(key any, value ...any) any {
	if len(value) > 0 {
		c.StoredLocals[key] = value[0]
		return value[0]
	}
	return c.StoredLocals[key]
}

func (c *Context) JSON(code int, val any) error {
	c.RecordedStatus = code
	c.RecordedPayload = val
	return nil
}

func (c *Context) Bind(v any) error {
	if len(c.ReqBody) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(c.ReqBody, v)
}

// ResponseCookie returns the last cookie written with name.
func (c *Context) ResponseCookie(name string) *router.Cookie {
	for i := len(c.RecordedCookies) - 1; i >= 0; i-- {
		if c.RecordedCookies[i].Name == name {
			return c.RecordedCookies[i]
		}
	}
	return nil
}

// ResponseStatus returns the recorded status, http.StatusOK when the
// handler only called Next.
func (c *Context) ResponseStatus() int {
	if c.RecordedStatus == 0 {
		return http.StatusOK
	}
	return c.RecordedStatus
}

// PayloadMap returns the JSON payload round-tripped into a map.
func (c *Context) PayloadMap() map[string]any {
	out := map[string]any{}
	raw, err := json.Marshal(c.RecordedPayload)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

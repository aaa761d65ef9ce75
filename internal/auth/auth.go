// Package auth identifies the caller of a registry API request.
//
// Every scheme implements Authenticator. A scheme that finds no credentials
// of its own kind reports ErrUnauthenticated, which lets Chain fall through
// to the next scheme; any other error means credentials were presented and
// rejected.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// Realm is advertised in WWW-Authenticate challenges.
const Realm = "packaging"

// AuthMethod names an authentication scheme.
type AuthMethod string

const (
	AuthMethodNone   AuthMethod = "none"
	AuthMethodMTLS   AuthMethod = "mtls"
	AuthMethodJWT    AuthMethod = "jwt"
	AuthMethodBasic  AuthMethod = "basic"
	AuthMethodAPIKey AuthMethod = "apikey"
	AuthMethodMulti  AuthMethod = "multi"
)

// Methods lists every accepted value of the auth mode setting.
var Methods = []AuthMethod{
	AuthMethodNone,
	AuthMethodMTLS,
	AuthMethodJWT,
	AuthMethodBasic,
	AuthMethodAPIKey,
	AuthMethodMulti,
}

// ParseMethod converts a configured mode into an AuthMethod.
func ParseMethod(s string) (AuthMethod, bool) {
	for _, m := range Methods {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// AuthInfo describes an authenticated caller.
type AuthInfo struct {
	Method  AuthMethod
	Subject string
	Claims  map[string]any
}

// Authenticator validates a request and returns the caller identity.
type Authenticator interface {
	Authenticate(r *http.Request) (*AuthInfo, error)
	Method() AuthMethod
}

var (
	ErrUnauthenticated    = errors.New("unauthenticated: no credentials provided")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCert        = errors.New("invalid client certificate")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type contextKey struct{}

// FromContext returns the caller stored by WithAuthInfo.
func FromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(contextKey{}).(*AuthInfo)
	return info, ok
}

// WithAuthInfo stores info in ctx.
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clockSkew is tolerated on exp/nbf/iat checks.
const clockSkew = 30 * time.Second

// TokenVerifier checks a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*TokenClaims, error)
}

// TokenClaims is the verified content of a bearer token.
type TokenClaims struct {
	Subject  string
	Issuer   string
	Audience []string
	Expiry   time.Time
	Claims   map[string]any
}

// HMACVerifier verifies HS256/HS384/HS512 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewHMACVerifier returns a verifier for secret. Issuer and audience are
// enforced when non-empty.
func NewHMACVerifier(secret, issuer, audience string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt auth: secret must not be empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	return &HMACVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify implements TokenVerifier.
func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (*TokenClaims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	out := &TokenClaims{Claims: map[string]any(claims)}
	if out.Subject, err = claims.GetSubject(); err != nil {
		return nil, err
	}
	if out.Issuer, err = claims.GetIssuer(); err != nil {
		return nil, err
	}
	if aud, err := claims.GetAudience(); err == nil {
		out.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.Expiry = exp.Time
	}

	return out, nil
}

// SignToken issues an HS256 token for subject. An empty issuer or audience
// is omitted.
func SignToken(secret, subject, issuer, audience string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// BearerAuthenticator reads "Authorization: Bearer <token>".
type BearerAuthenticator struct {
	verifier TokenVerifier
}

// NewBearerAuthenticator returns a BearerAuthenticator backed by verifier.
func NewBearerAuthenticator(verifier TokenVerifier) *BearerAuthenticator {
	return &BearerAuthenticator{verifier: verifier}
}

// Authenticate implements Authenticator. Requests using another scheme in
// the Authorization header are left to the rest of the chain.
func (a *BearerAuthenticator) Authenticate(r *http.Request) (*AuthInfo, error) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return nil, ErrUnauthenticated
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty bearer token", ErrInvalidToken)
	}

	claims, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return &AuthInfo{
		Method:  AuthMethodJWT,
		Subject: claims.Subject,
		Claims:  claims.Claims,
	}, nil
}

// Method implements Authenticator.
func (a *BearerAuthenticator) Method() AuthMethod { return AuthMethodJWT }

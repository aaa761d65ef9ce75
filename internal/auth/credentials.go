package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the key for API key authentication.
const APIKeyHeader = "X-API-Key"

// parsePairs reads a comma separated "left:right" list. Only the first colon
// splits an entry, so bcrypt hashes survive intact. Blank entries are
// skipped; a list with no entries is an error.
func parsePairs(scheme, raw, shape string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s auth: credentials must not be empty", scheme)
	}

	pairs := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		left, right, found := strings.Cut(entry, ":")
		left, right = strings.TrimSpace(left), strings.TrimSpace(right)
		if !found {
			return nil, fmt.Errorf("%s auth: malformed entry, expected %s", scheme, shape)
		}
		if left == "" || right == "" {
			return nil, fmt.Errorf("%s auth: both parts of %s are required", scheme, shape)
		}

		pairs[left] = right
	}

	if len(pairs) == 0 {
		return nil, fmt.Errorf("%s auth: no credentials configured", scheme)
	}

	return pairs, nil
}

// BasicAuthenticator checks HTTP Basic credentials against bcrypt hashes.
type BasicAuthenticator struct {
	hashes map[string][]byte
}

// NewBasicAuthenticator parses "user:bcrypt-hash" entries.
func NewBasicAuthenticator(users string) (*BasicAuthenticator, error) {
	pairs, err := parsePairs("basic", users, "user:hash")
	if err != nil {
		return nil, err
	}

	hashes := make(map[string][]byte, len(pairs))
	for user, hash := range pairs {
		hashes[user] = []byte(hash)
	}

	return &BasicAuthenticator{hashes: hashes}, nil
}

// Authenticate implements Authenticator.
func (a *BasicAuthenticator) Authenticate(r *http.Request) (*AuthInfo, error) {
	user, password, ok := r.BasicAuth()
	if !ok {
		return nil, ErrUnauthenticated
	}

	hash, known := a.hashes[user]
	if !known {
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: wrong password", ErrInvalidCredentials)
	}

	return &AuthInfo{Method: AuthMethodBasic, Subject: user}, nil
}

// Method implements Authenticator.
func (a *BasicAuthenticator) Method() AuthMethod { return AuthMethodBasic }

// APIKeyAuthenticator accepts static keys sent in the X-API-Key header.
// Keys are compared in constant time.
type APIKeyAuthenticator struct {
	keys []apiKey
}

type apiKey struct {
	value []byte
	owner string
}

// NewAPIKeyAuthenticator parses "key:owner" entries.
func NewAPIKeyAuthenticator(keys string) (*APIKeyAuthenticator, error) {
	pairs, err := parsePairs("apikey", keys, "key:owner")
	if err != nil {
		return nil, err
	}

	a := &APIKeyAuthenticator{keys: make([]apiKey, 0, len(pairs))}
	for value, owner := range pairs {
		a.keys = append(a.keys, apiKey{value: []byte(value), owner: owner})
	}

	return a, nil
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*AuthInfo, error) {
	presented := r.Header.Get(APIKeyHeader)
	if presented == "" {
		return nil, ErrUnauthenticated
	}

	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(presented), k.value) == 1 {
			return &AuthInfo{Method: AuthMethodAPIKey, Subject: k.owner}, nil
		}
	}

	return nil, ErrInvalidAPIKey
}

// Method implements Authenticator.
func (a *APIKeyAuthenticator) Method() AuthMethod { return AuthMethodAPIKey }

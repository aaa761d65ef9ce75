package auth

import (
	"errors"
	"net/http"
)

// Chain tries several authenticators in order. A scheme that finds no
// credentials of its kind passes the request on; the first scheme that
// rejects presented credentials ends the chain.
type Chain struct {
	schemes []Authenticator
}

// NewChain returns a Chain over schemes. Nil entries are ignored.
func NewChain(schemes ...Authenticator) *Chain {
	c := &Chain{}
	for _, s := range schemes {
		if s != nil {
			c.schemes = append(c.schemes, s)
		}
	}
	return c
}

// Authenticate implements Authenticator.
func (c *Chain) Authenticate(r *http.Request) (*AuthInfo, error) {
	for _, s := range c.schemes {
		info, err := s.Authenticate(r)
		switch {
		case err == nil:
			return info, nil
		case !errors.Is(err, ErrUnauthenticated):
			return nil, err
		}
	}

	return nil, ErrUnauthenticated
}

// Method implements Authenticator.
func (c *Chain) Method() AuthMethod { return AuthMethodMulti }

// Len returns the number of schemes in the chain.
func (c *Chain) Len() int { return len(c.schemes) }

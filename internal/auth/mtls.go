package auth

import "net/http"

// MTLSAuthenticator trusts the verified client certificate of the TLS
// connection. The certificate chain itself is checked by the TLS stack.
type MTLSAuthenticator struct{}

// NewMTLSAuthenticator returns an MTLSAuthenticator.
func NewMTLSAuthenticator() *MTLSAuthenticator {
	return &MTLSAuthenticator{}
}

// Authenticate implements Authenticator. The subject is the leaf
// certificate's common name.
func (a *MTLSAuthenticator) Authenticate(r *http.Request) (*AuthInfo, error) {
	if r.TLS == nil {
		return nil, ErrUnauthenticated
	}
	if len(r.TLS.PeerCertificates) == 0 {
		return nil, ErrInvalidCert
	}

	leaf := r.TLS.PeerCertificates[0]
	info := &AuthInfo{
		Method:  AuthMethodMTLS,
		Subject: leaf.Subject.CommonName,
		Claims:  map[string]any{},
	}
	if orgs := leaf.Subject.Organization; len(orgs) > 0 {
		info.Claims["organizations"] = orgs
	}
	if units := leaf.Subject.OrganizationalUnit; len(units) > 0 {
		info.Claims["units"] = units
	}
	if len(leaf.DNSNames) > 0 {
		info.Claims["dns_names"] = leaf.DNSNames
	}

	return info, nil
}

// Method implements Authenticator.
func (a *MTLSAuthenticator) Method() AuthMethod { return AuthMethodMTLS }

package auth_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vyrodovalexey/reusepack/internal/auth"
)

func TestParseMethod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		want   auth.AuthMethod
		wantOK bool
	}{
		{"none", auth.AuthMethodNone, true},
		{"mtls", auth.AuthMethodMTLS, true},
		{"jwt", auth.AuthMethodJWT, true},
		{"basic", auth.AuthMethodBasic, true},
		{"apikey", auth.AuthMethodAPIKey, true},
		{"multi", auth.AuthMethodMulti, true},
		{"oidc", "", false},
		{"", "", false},
		{"JWT", "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, ok := auth.ParseMethod(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseMethod(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestWithAuthInfoAndFromContext(t *testing.T) {
	t.Parallel()

	// Arrange
	info := &auth.AuthInfo{Method: auth.AuthMethodBasic, Subject: "clerk"}

	// Act
	ctx := auth.WithAuthInfo(context.Background(), info)
	got, ok := auth.FromContext(ctx)

	// Assert
	if !ok {
		t.Fatal("FromContext() ok = false, want true")
	}
	if got != info {
		t.Errorf("FromContext() = %+v, want %+v", got, info)
	}

	if _, ok := auth.FromContext(context.Background()); ok {
		t.Error("FromContext() on empty context ok = true, want false")
	}
}

func TestMTLSAuthenticator_Authenticate(t *testing.T) {
	t.Parallel()

	leaf := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:         "scanner-07",
			Organization:       []string{"Reuse Co"},
			OrganizationalUnit: []string{"store-12"},
		},
		DNSNames: []string{"scanner-07.local"},
	}

	tests := []struct {
		name        string
		state       *tls.ConnectionState
		wantSubject string
		wantErr     error
	}{
		{name: "plain HTTP", state: nil, wantErr: auth.ErrUnauthenticated},
		{name: "no peer certificate", state: &tls.ConnectionState{}, wantErr: auth.ErrInvalidCert},
		{
			name:        "client certificate",
			state:       &tls.ConnectionState{PeerCertificates: []*x509.Certificate{leaf}},
			wantSubject: "scanner-07",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			a := auth.NewMTLSAuthenticator()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/packaging", nil)
			req.TLS = tt.state

			// Act
			info, err := a.Authenticate(req)

			// Assert
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() unexpected error: %v", err)
			}
			if info.Subject != tt.wantSubject {
				t.Errorf("Subject = %q, want %q", info.Subject, tt.wantSubject)
			}
			if info.Method != auth.AuthMethodMTLS {
				t.Errorf("Method = %q, want %q", info.Method, auth.AuthMethodMTLS)
			}
			if _, ok := info.Claims["units"]; !ok {
				t.Error("Claims should carry the organizational units")
			}
			if _, ok := info.Claims["dns_names"]; !ok {
				t.Error("Claims should carry the DNS names")
			}
		})
	}

	if got := auth.NewMTLSAuthenticator().Method(); got != auth.AuthMethodMTLS {
		t.Errorf("Method() = %q, want %q", got, auth.AuthMethodMTLS)
	}
}

// stubAuthenticator returns a fixed result.
type stubAuthenticator struct {
	info  *auth.AuthInfo
	err   error
	calls int
}

func (s *stubAuthenticator) Authenticate(*http.Request) (*auth.AuthInfo, error) {
	s.calls++
	return s.info, s.err
}

func (s *stubAuthenticator) Method() auth.AuthMethod { return auth.AuthMethodNone }

func TestChain_Authenticate(t *testing.T) {
	t.Parallel()

	ok := &auth.AuthInfo{Method: auth.AuthMethodAPIKey, Subject: "pos"}
	rejected := errors.New("rejected")

	tests := []struct {
		name      string
		schemes   func() []*stubAuthenticator
		wantInfo  *auth.AuthInfo
		wantErr   error
		wantCalls []int
	}{
		{
			name:      "empty chain",
			schemes:   func() []*stubAuthenticator { return nil },
			wantErr:   auth.ErrUnauthenticated,
			wantCalls: nil,
		},
		{
			name: "falls through missing credentials",
			schemes: func() []*stubAuthenticator {
				return []*stubAuthenticator{{err: auth.ErrUnauthenticated}, {info: ok}}
			},
			wantInfo:  ok,
			wantCalls: []int{1, 1},
		},
		{
			name: "stops at rejected credentials",
			schemes: func() []*stubAuthenticator {
				return []*stubAuthenticator{{err: rejected}, {info: ok}}
			},
			wantErr:   rejected,
			wantCalls: []int{1, 0},
		},
		{
			name: "nobody has credentials",
			schemes: func() []*stubAuthenticator {
				return []*stubAuthenticator{{err: auth.ErrUnauthenticated}, {err: auth.ErrUnauthenticated}}
			},
			wantErr:   auth.ErrUnauthenticated,
			wantCalls: []int{1, 1},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			stubs := tt.schemes()
			schemes := make([]auth.Authenticator, 0, len(stubs)+1)
			for _, s := range stubs {
				schemes = append(schemes, s)
			}
			schemes = append(schemes, nil)
			chain := auth.NewChain(schemes...)

			// Act
			info, err := chain.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))

			// Assert
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if info != tt.wantInfo {
				t.Errorf("Authenticate() info = %+v, want %+v", info, tt.wantInfo)
			}
			if chain.Len() != len(stubs) {
				t.Errorf("Len() = %d, want %d", chain.Len(), len(stubs))
			}
			for i, s := range stubs {
				if s.calls != tt.wantCalls[i] {
					t.Errorf("scheme %d called %d times, want %d", i, s.calls, tt.wantCalls[i])
				}
			}
			if chain.Method() != auth.AuthMethodMulti {
				t.Errorf("Method() = %q, want %q", chain.Method(), auth.AuthMethodMulti)
			}
		})
	}
}

package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/reusepack/internal/auth"
	"github.com/vyrodovalexey/reusepack/internal/model"
)

// publicPaths and their sub-paths are served without credentials.
var publicPaths = []string{"/health", "/ready", "/metrics"}

// Auth rejects requests the authenticator cannot identify with 401 and
// stores the caller identity in the request context otherwise. Preflight
// requests pass through unauthenticated.
func Auth(authenticator auth.Authenticator, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			info, err := authenticator.Authenticate(r)
			if err != nil {
				logger.Warn("authentication failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Error(err),
				)
				writeAuthError(w, err)
				return
			}

			logger.Debug("request authenticated",
				zap.String("subject", info.Subject),
				zap.String("auth_method", string(info.Method)),
				zap.String("path", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(auth.WithAuthInfo(r.Context(), info)))
		})
	}
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func writeAuthError(w http.ResponseWriter, err error) {
	if challenge := challengeFor(err); challenge != "" {
		w.Header().Set("WWW-Authenticate", challenge)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{
		Code:    http.StatusUnauthorized,
		Message: err.Error(),
	})
}

func challengeFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return fmt.Sprintf(`Bearer realm=%q, Basic realm=%q, API-Key`, auth.Realm, auth.Realm)
	case errors.Is(err, auth.ErrInvalidToken):
		return fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, auth.Realm)
	case errors.Is(err, auth.ErrInvalidCredentials):
		return fmt.Sprintf(`Basic realm=%q`, auth.Realm)
	case errors.Is(err, auth.ErrInvalidAPIKey):
		return "API-Key"
	case errors.Is(err, auth.ErrInvalidCert):
		return "mTLS"
	}
	return ""
}

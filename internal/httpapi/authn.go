package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"soundmint.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	challenge  = `Bearer realm="soundmint"`
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth attaches the bearer token's caller to the request context.
// Reads pass anonymously; every other /v1 call needs a valid token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(authHeader)
		if header == "" && isReadOnly(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if a.issuer == nil {
			writeError(w, r, http.StatusServiceUnavailable, "auth_disabled", "token authentication is not configured")
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			w.Header().Set("WWW-Authenticate", challenge)
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		claims, err := a.issuer.ParseAndValidate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", challenge+`, error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid_token", "invalid token")
			return
		}
		caller, err := claims.Caller()
		if err != nil {
			w.Header().Set("WWW-Authenticate", challenge+`, error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid_token", "invalid token subject")
			return
		}

		ctx := auth.ContextWithCaller(r.Context(), caller, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers whose token lacks role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.CallerFromContext(r.Context()); !ok {
				w.Header().Set("WWW-Authenticate", challenge)
				writeError(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if !auth.HasRole(r.Context(), role) {
				w.Header().Set("WWW-Authenticate", challenge+`, error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "forbidden", "missing role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

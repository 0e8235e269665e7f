// Package middleware provides HTTP middleware for the gateway API.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type principalKey struct{}

// WithPrincipal stores the principal name in the context.
func WithPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, principalKey{}, name)
}

// PrincipalFromContext extracts the principal name from the context.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(principalKey{}).(string)
	return name, ok
}

// AuthConfig controls the bearer-token gate on the query endpoints.
// Authentication is enabled when either field is set; with both unset every
// request passes and the principal falls back to the client IP.
type AuthConfig struct {
	// StaticToken is compared against the bearer token verbatim.
	StaticToken string
	// JWTSecret enables HS256 JWT bearer tokens; the sub claim becomes the
	// principal.
	JWTSecret string
}

// Enabled reports whether any credential check is configured.
func (c AuthConfig) Enabled() bool {
	return c.StaticToken != "" || c.JWTSecret != ""
}

// Auth returns a middleware enforcing the bearer-token gate. Static token
// is tried first, then JWT. Failures return 401 before any other work.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() {
				ctx := WithPrincipal(r.Context(), clientIP(r))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")

			if cfg.StaticToken != "" &&
				subtle.ConstantTimeCompare([]byte(token), []byte(cfg.StaticToken)) == 1 {
				ctx := WithPrincipal(r.Context(), "token-client")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if cfg.JWTSecret != "" {
				parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
					return []byte(cfg.JWTSecret), nil
				}, jwt.WithValidMethods([]string{"HS256"}))
				if err == nil && parsed.Valid {
					if claims, ok := parsed.Claims.(jwt.MapClaims); ok {
						if sub, ok := claims["sub"].(string); ok && sub != "" {
							ctx := WithPrincipal(r.Context(), sub)
							next.ServeHTTP(w, r.WithContext(ctx))
							return
						}
					}
				}
			}

			writeUnauthorized(w, "invalid bearer token")
		})
	}
}

// clientIP strips the port from RemoteAddr. X-Forwarded-For is untrusted and
// ignored so rate limits cannot be bypassed with a spoofed header.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusUnauthorized,
		"message": "unauthorized: " + msg,
	})
}

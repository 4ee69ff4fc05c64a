package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wark-project/wark/internal/problem"
)

// Claims are the JWT claims a bearer token must carry to authenticate
// against the run and judge endpoints.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// JWTValidator validates bearer tokens against a KeySet.
type JWTValidator struct {
	KeySet KeySet
}

// NewJWTValidator creates a validator backed by ks. Returns nil if ks is nil,
// so callers can pass a possibly-absent KeySet straight through to
// NewMiddleware, which fails closed when the validator is nil.
func NewJWTValidator(ks KeySet) *JWTValidator {
	if ks == nil {
		return nil
	}
	return &JWTValidator{KeySet: ks}
}

// Validate parses and verifies a bearer token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v.KeySet == nil {
		return nil, fmt.Errorf("auth: validator has no key set")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.KeySet.KeyFunc())
	if err != nil {
		return nil, fmt.Errorf("auth: token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	return claims, nil
}

// publicPaths bypass bearer-token authentication.
var publicPaths = map[string]bool{
	"/healthz": true,
}

// NewMiddleware returns bearer-auth middleware. If validator is nil, every
// non-public request is rejected (fail closed) rather than admitted
// unauthenticated.
func NewMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				problem.WriteUnauthorized(w, r, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				problem.WriteUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				problem.WriteUnauthorized(w, r, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				problem.WriteUnauthorized(w, r, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				problem.WriteUnauthorized(w, r, "Token subject is required")
				return
			}

			principal := &BasePrincipal{ID: claims.Subject, Roles: claims.Roles}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

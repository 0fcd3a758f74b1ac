package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// adminClaims is the token shape operator tooling presents on admin routes.
type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RequireAdmin guards configuration routes with an HS256 bearer token carrying
// role=admin. Signing keys are shared with the operator tooling out of band.
func RequireAdmin(signingKey []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				unauthorized(w, r, logger, "missing bearer token")
				return
			}

			claims := &adminClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				return signingKey, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !parsed.Valid {
				unauthorized(w, r, logger, "invalid token")
				return
			}
			if claims.Role != "admin" {
				unauthorized(w, r, logger, "insufficient role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason string) {
	logger.WarnContext(r.Context(), "admin route rejected",
		"request_id", GetRequestID(r.Context()),
		"reason", reason,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

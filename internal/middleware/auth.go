package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/token"
)

// RevocationChecker reports whether a token id has been revoked by logout.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenFromRequest extracts the session token from the "token" cookie,
// the Authorization header or the "token" query parameter, in that order.
// The query form exists for WebSocket clients that cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		const bearer = "Bearer "
		if len(h) > len(bearer) && strings.EqualFold(h[:len(bearer)], bearer) {
			return strings.TrimSpace(h[len(bearer):])
		}
	}
	return r.URL.Query().Get("token")
}

// Auth verifies the session token and puts user_id and token_id into the
// request context. 401 on missing, invalid, expired or revoked tokens.
func Auth(manager *token.Manager, revoked RevocationChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromRequest(r)
			if raw == "" {
				unauthorized(w, "authentication required")
				return
			}
			claims, err := manager.Verify(raw)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}
			if claims.TokenID != "" {
				isRevoked, err := revoked.IsTokenRevoked(r.Context(), claims.TokenID)
				if err != nil {
					logger.Errorf("auth: revocation check: %v", err)
					unauthorized(w, "invalid token")
					return
				}
				if isRevoked {
					unauthorized(w, "invalid token")
					return
				}
			}
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, TokenIDKey, claims.TokenID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"veostudio/internal/auth"
	"veostudio/internal/logger"
	"veostudio/pkg/api"

	"github.com/google/uuid"
)

// accountIDKey is the context key for the authenticated account.
type accountIDKey struct{}

// NewContextWithAccountID returns a context carrying the account ID.
func NewContextWithAccountID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, accountIDKey{}, id)
}

// AccountIDFromContext extracts the authenticated account ID.
func AccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(accountIDKey{}).(uuid.UUID)
	return id, ok
}

// AuthMiddleware validates the bearer token and stores the account ID in
// the request context. Websocket clients that cannot set headers may pass
// the token in the access_token query parameter.
func AuthMiddleware(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "Missing or invalid authorization header")
				return
			}

			claims, err := tokens.Parse(raw)
			if errors.Is(err, auth.ErrTokenExpired) {
				unauthorized(w, "Token expired")
				return
			}
			if err != nil {
				unauthorized(w, "Invalid token")
				return
			}
			accountID, err := claims.AccountID()
			if err != nil {
				unauthorized(w, "Invalid token")
				return
			}

			ctx := NewContextWithAccountID(r.Context(), accountID)
			ctx = logger.WithAccountID(ctx, accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" && websocketUpgrade(r) {
			return token, true
		}
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: msg,
		Code:  api.CodeUnauthorized,
	})
}

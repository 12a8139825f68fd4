package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"veostudio/internal/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-jwt-secret"

func TestAuthMiddleware_MissingAuthHeader(t *testing.T) {
	middleware := AuthMiddleware(auth.NewTokens(testSecret, time.Hour))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rr.Body.String(), "unauthorized") {
		t.Errorf("expected unauthorized code in body, got %q", rr.Body.String())
	}
}

func TestAuthMiddleware_InvalidAuthHeaderFormat(t *testing.T) {
	middleware := AuthMiddleware(auth.NewTokens(testSecret, time.Hour))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "token-123"},
		{"wrong prefix", "Basic token-123"},
		{"too many parts", "Bearer tok1 tok2"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	middleware := AuthMiddleware(auth.NewTokens(testSecret, time.Hour))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	past := time.Now().Add(-2 * time.Hour)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    "veostudio",
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rr.Body.String(), "Token expired") {
		t.Errorf("expected expiry message, got %q", rr.Body.String())
	}
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	middleware := AuthMiddleware(auth.NewTokens(testSecret, time.Hour))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	token, err := auth.NewTokens("other-secret", time.Hour).Issue(uuid.New(), "")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_ValidAuth(t *testing.T) {
	tokens := auth.NewTokens(testSecret, time.Hour)
	accountID := uuid.New()
	token, err := tokens.Issue(accountID, "creator@example.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var capturedCtx context.Context
	handler := AuthMiddleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCtx = r.Context()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	got, ok := AccountIDFromContext(capturedCtx)
	if !ok || got != accountID {
		t.Errorf("AccountIDFromContext() = %v, %v; want %v", got, ok, accountID)
	}
}

func TestAuthMiddleware_QueryTokenOnlyForWebsocket(t *testing.T) {
	tokens := auth.NewTokens(testSecret, time.Hour)
	token, _ := tokens.Issue(uuid.New(), "")

	handler := AuthMiddleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		upgrade        string
		expectedStatus int
	}{
		{"plain request", "", http.StatusUnauthorized},
		{"websocket upgrade", "websocket", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/projects/x/feed?access_token="+token, nil)
			if tt.upgrade != "" {
				req.Header.Set("Upgrade", tt.upgrade)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestAccountIDFromContext_Empty(t *testing.T) {
	id, ok := AccountIDFromContext(context.Background())

	if ok {
		t.Error("expected ok to be false for empty context")
	}
	if id != uuid.Nil {
		t.Errorf("expected uuid.Nil, got %v", id)
	}
}

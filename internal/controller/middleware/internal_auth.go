package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireInternalAuth guards endpoints called by the generation worker, the
// stitcher and the signup hook. An empty secret rejects every request.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	return requireSharedSecret(systemSecret, "internal")
}

// RequirePaymentAuth guards the payment provider webhook. Its secret is
// separate from the internal one.
func RequirePaymentAuth(paymentSecret string) func(http.Handler) http.Handler {
	return requireSharedSecret(paymentSecret, "payment webhook")
}

func requireSharedSecret(secret, realm string) func(http.Handler) http.Handler {
	notConfigured := "Authentication for " + realm + " endpoints is not configured"
	invalid := "Invalid " + realm + " token"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, notConfigured, http.StatusUnauthorized)
				return
			}

			parts := strings.Split(r.Header.Get("Authorization"), " ")
			switch {
			case len(parts) == 1 && parts[0] == "":
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			case len(parts) != 2 || parts[0] != "Bearer":
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(secret)) != 1 {
				http.Error(w, invalid, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

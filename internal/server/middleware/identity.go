package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/will87p/betpool/internal/identity"
)

// IdentityConfig controls how callers are authenticated.
type IdentityConfig struct {
	// APIKeys maps a normalized principal address to the PBKDF2 hash of its
	// issued API key.
	APIKeys map[string]string

	// AllowUnsigned accepts a bare X-Betpool-Address header without proof.
	// Development only.
	AllowUnsigned bool
}

// Identity returns middleware that resolves the calling principal and stores
// it in the request context. Two proofs are accepted:
//
//   - a personal-sign signature over the canonical auth message, via the
//     X-Betpool-Address, X-Betpool-Timestamp, and X-Betpool-Signature headers
//   - an issued API key via Authorization: Bearer or X-API-Key, paired with
//     X-Betpool-Address
//
// Requests with no credentials pass through unauthenticated; handlers that
// mutate state reject requests without a principal.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			address := strings.TrimSpace(r.Header.Get("X-Betpool-Address"))
			if address == "" {
				next.ServeHTTP(w, r)
				return
			}

			// Signature proof.
			if sig := r.Header.Get("X-Betpool-Signature"); sig != "" {
				ts, err := strconv.ParseInt(r.Header.Get("X-Betpool-Timestamp"), 10, 64)
				if err != nil {
					writeUnauthorized(w, "missing or invalid auth timestamp")
					return
				}
				principal, err := identity.VerifySignature(address, ts, sig, time.Now())
				if err != nil {
					writeUnauthorized(w, "signature verification failed")
					return
				}
				next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), principal)))
				return
			}

			// API key proof.
			if key := extractToken(r); key != "" {
				principal, err := identity.NormalizeAddress(address)
				if err != nil {
					writeUnauthorized(w, "invalid address")
					return
				}
				stored, ok := cfg.APIKeys[principal]
				if !ok || !identity.VerifyAPIKey(key, stored) {
					writeUnauthorized(w, "invalid api key")
					return
				}
				next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), principal)))
				return
			}

			if cfg.AllowUnsigned {
				principal, err := identity.NormalizeAddress(address)
				if err != nil {
					writeUnauthorized(w, "invalid address")
					return
				}
				next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), principal)))
				return
			}

			writeUnauthorized(w, "missing authentication proof")
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

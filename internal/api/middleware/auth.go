package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/studyhall/studyhall/internal/api/response"
	"github.com/studyhall/studyhall/internal/store"
)

const keyPrefixLen = 8

// Auth provides API key authentication middleware.
type Auth struct {
	store store.Store
}

// NewAuth creates a new Auth middleware.
func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer token, looks up the API key, and sets
// the owning user's id in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:keyPrefixLen]

		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		// Find matching key by bcrypt comparison
		var matched bool
		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
				r = r.WithContext(SetUserID(r.Context(), key.UserID))
				matched = true

				// Update last_used_at async
				go a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)
				break
			}
		}

		if !matched {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/linkcaring/milestone-analyzer/internal/models"
)

type contextKey string

const apiKeyContextKey contextKey = "apiKey"

// KeyStore looks up and touches API keys.
type KeyStore interface {
	GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id int64) error
}

// extractAPIKey pulls the presented key from the request headers. Both
// X-API-Key and Authorization: Bearer forms are accepted.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// requireAPIKey rejects requests without a valid, active API key and stores
// the key on the request context for handlers.
func requireAPIKey(keys KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := extractAPIKey(r)
			if presented == "" {
				writeError(w, http.StatusUnauthorized, "No API key provided")
				return
			}

			key, err := keys.GetAPIKeyByKey(r.Context(), presented)
			if err != nil {
				log.Printf("[Server] api key lookup failed: %v", err)
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			if key == nil {
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
			if !key.IsActive {
				writeError(w, http.StatusUnauthorized, "API key is inactive")
				return
			}

			if err := keys.TouchAPIKey(r.Context(), key.ID); err != nil {
				// Bookkeeping only; the request proceeds.
				log.Printf("[Server] WARNING: failed to update api key last_used_at: %v", err)
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// apiKeyFrom returns the authenticated key stored by requireAPIKey, or nil.
func apiKeyFrom(ctx context.Context) *models.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return key
}

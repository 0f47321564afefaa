package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled determines if an API key is required on /api routes.
	Enabled bool
	// APIKeys are the accepted keys.
	APIKeys []string
}

// NewAuthMiddleware rejects requests without one of the configured API keys.
func NewAuthMiddleware(h *Handler, config AuthConfig) func(http.Handler) http.Handler {
	digests := make([][32]byte, 0, len(config.APIKeys))
	for _, k := range config.APIKeys {
		if k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := extractAPIKey(r)
			if key == "" || !matchKey(digests, key) {
				h.WriteAPIError(w, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// matchKey compares digests in constant time so key length is not leaked.
func matchKey(digests [][32]byte, key string) bool {
	sum := sha256.Sum256([]byte(key))
	found := 0
	for i := range digests {
		found |= subtle.ConstantTimeCompare(digests[i][:], sum[:])
	}
	return found == 1
}

// extractAPIKey extracts the API key from the request.
// Supports: X-API-Key header, Authorization: Bearer token, Authorization: ApiKey token
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	auth := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(auth, "Bearer "):
		return strings.TrimPrefix(auth, "Bearer ")
	case strings.HasPrefix(auth, "ApiKey "):
		return strings.TrimPrefix(auth, "ApiKey ")
	}
	return ""
}

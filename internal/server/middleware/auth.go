package middleware

import (
	"context"
	"net/http"

	"github.com/oncallhq/mmbridge/internal/model"
	"github.com/oncallhq/mmbridge/internal/store"
	"github.com/oncallhq/mmbridge/internal/token"
)

type contextKeyAuth string

const (
	// AuthTokenKey is the context key for the verified Mattermost app token.
	AuthTokenKey contextKeyAuth = "auth_token"

	// SessionKey is the context key for the authenticated host session.
	SessionKey contextKeyAuth = "host_session"
)

// Session is the host-system identity behind an internal API call, resolved
// from an organization-scoped API key.
type Session struct {
	OrganizationID int64
	APIKeyID       int64
}

// AppToken authenticates Mattermost-originated requests. The extractor
// names where this endpoint's credential lives (query parameter, embedded
// JSON state, or bearer header); the codec verifies it. Every failure is
// the same generic 403 so callers learn nothing about why verification
// failed. On success the token record is attached to the request context.
func AppToken(codec *token.Codec, extractor token.Extractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := extractor.Extract(r)
			if err != nil {
				writeAuthError(w, http.StatusForbidden, "Invalid auth token")
				return
			}

			record, err := codec.Verify(r.Context(), tokenString)
			if err != nil {
				writeAuthError(w, http.StatusForbidden, "Invalid auth token")
				return
			}

			ctx := context.WithValue(r.Context(), AuthTokenKey, record)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HostSession authenticates internal endpoints (connect, disconnect,
// channel listing) with the host system's organization-scoped API key,
// passed in the X-API-Key header.
func HostSession(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide the X-API-Key header.")
				return
			}

			key, err := s.GetAPIKeyByHash(r.Context(), store.HashKey(rawKey))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}

			// Update last used timestamp (fire and forget)
			go s.UpdateAPIKeyLastUsed(context.Background(), key.ID)

			session := &Session{OrganizationID: key.OrganizationID, APIKeyID: key.ID}
			ctx := context.WithValue(r.Context(), SessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthToken extracts the verified app token record from the context.
func GetAuthToken(ctx context.Context) *model.AuthToken {
	if t, ok := ctx.Value(AuthTokenKey).(*model.AuthToken); ok {
		return t
	}
	return nil
}

// GetSession extracts the authenticated host session from the context.
func GetSession(ctx context.Context) *Session {
	if s, ok := ctx.Value(SessionKey).(*Session); ok {
		return s
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid an import cycle with the handler
	// package.
	w.Write([]byte(`{"error":{"code":` + statusString(status) + `,"message":"` + message + `"}}`))
}

func statusString(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "401"
	case http.StatusForbidden:
		return "403"
	default:
		return "500"
	}
}

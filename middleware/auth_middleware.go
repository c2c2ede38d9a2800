package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/auth-gateway/utils"
	"go.uber.org/zap"
)

// IdentityValidator resolves a bearer token to the identity that owns it
type IdentityValidator interface {
	// ValidateToken asks the identity provider who token belongs to
	ValidateToken(ctx context.Context, token string) (*Identity, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator   IdentityValidator
	exemptPaths []string
	logger      *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. Requests under one of
// exemptPaths are never validated by Authenticate. An entry ending in "/"
// matches any path below it; any other entry matches itself and its
// sub-paths, so "/healthz" does not cover "/healthzfoo".
func NewAuthMiddleware(validator IdentityValidator, exemptPaths []string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator:   validator,
		exemptPaths: exemptPaths,
		logger:      logger,
	}
}

// Authenticate runs before every route. It never rejects: a request either
// leaves with an identity in its context or without one.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := BearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		identity, err := m.validator.ValidateToken(ctx, token)
		if err != nil || identity == nil || identity.UserID == "" {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("user_id", identity.UserID))

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
	})
}

// RequireAuth rejects requests that reached it without an identity
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUserIDFromContext(r.Context()); !ok {
			m.logger.Debug("unauthenticated request rejected",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) isExempt(path string) bool {
	for _, prefix := range m.exemptPaths {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-sensitively, as clients send it.
func BearerToken(r *http.Request) (string, bool) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

package handlers

import (
	"net/http"

	"github.com/upb/auth-gateway/auth"
	"github.com/upb/auth-gateway/middleware"
	"github.com/upb/auth-gateway/services"
	"github.com/upb/auth-gateway/utils"
	"go.uber.org/zap"
)

// ProtectedMessage is returned to callers the gate identified
const ProtectedMessage = "Only authenticated users can access this resource."

// AuthDeps provides the auth handler for route wiring
type AuthDeps interface {
	AuthHandler() *auth.Handler
	ServiceLogger() *zap.Logger
}

type authOperation func(h *auth.Handler, w http.ResponseWriter, r *http.Request) error

func authRoute(deps AuthDeps, op authOperation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := deps.ServiceLogger().With(
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))

		h := deps.AuthHandler()
		if h == nil {
			HandleServiceError(w, services.ErrNotConfigured, logger)
			return
		}
		if err := op(h, w, r); err != nil {
			HandleServiceError(w, err, logger)
		}
	}
}

// AuthRegisterHandler returns an http.HandlerFunc for the register endpoint
func AuthRegisterHandler(deps AuthDeps) http.HandlerFunc {
	return authRoute(deps, (*auth.Handler).HandleRegister)
}

// AuthLoginHandler returns an http.HandlerFunc for the login endpoint
func AuthLoginHandler(deps AuthDeps) http.HandlerFunc {
	return authRoute(deps, (*auth.Handler).HandleLogin)
}

// AuthLogoutHandler returns an http.HandlerFunc for the logout endpoint
func AuthLogoutHandler(deps AuthDeps) http.HandlerFunc {
	return authRoute(deps, (*auth.Handler).HandleLogout)
}

// AuthUserHandler returns an http.HandlerFunc for the current user endpoint
func AuthUserHandler(deps AuthDeps) http.HandlerFunc {
	return authRoute(deps, (*auth.Handler).HandleUser)
}

// ProtectedResponse is the body of the protected sample resource
type ProtectedResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// ProtectedHandler serves the sample resource. It expects RequireAuth in
// front of it but still answers 401 on its own when no identity is set.
func ProtectedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			_ = utils.WriteUnauthorized(w)
			return
		}
		_ = utils.WriteJSON(w, http.StatusOK, ProtectedResponse{
			Message: ProtectedMessage,
			UserID:  userID,
		})
	}
}

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/auth-gateway/middleware"
	"github.com/upb/auth-gateway/services"
	"github.com/upb/auth-gateway/supabase"
	"github.com/upb/auth-gateway/utils"
	"go.uber.org/zap"
)

const (
	// RegisterSuccessMessage is returned once the provider created the account
	RegisterSuccessMessage = "Registration successful. Please check your email for confirmation."
	// LogoutSuccessMessage is returned after a logout attempt with a token
	LogoutSuccessMessage = "Logout successful."
	// AlreadyLoggedOutMessage is returned when logout carries no token
	AlreadyLoggedOutMessage = "Already logged out"
)

// IdentityClient is the subset of the provider API the handlers need
type IdentityClient interface {
	SignUp(ctx context.Context, email, password, redirectTo string) (*supabase.Result, error)
	LoginWithPassword(ctx context.Context, email, password string) (*supabase.Result, error)
	Logout(ctx context.Context, token string) error
	GetUser(ctx context.Context, token string) (*supabase.Result, error)
}

// Credentials is the body accepted by register and login
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Handler implements the account endpoints on top of the identity provider.
// Each method writes its response on success and returns an error, with
// nothing written, when the provider could not be reached or understood.
type Handler struct {
	client IdentityClient
	logger *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(client IdentityClient, logger *zap.Logger) *Handler {
	return &Handler{
		client: client,
		logger: logger,
	}
}

// HandleRegister signs up a new account. The provider answer is only
// inspected for a user id; without one its status is replaced by 400.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) error {
	creds := decodeCredentials(r)

	res, err := h.client.SignUp(r.Context(), creds.Email, creds.Password, redirectURL(r))
	if err != nil {
		return err
	}

	if res.StringField("id") == "" {
		h.logger.Info("registration rejected by provider",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Int("provider_status", res.Status))
		return utils.WriteRawJSON(w, http.StatusBadRequest, res.Payload)
	}

	return utils.WriteMessage(w, http.StatusOK, RegisterSuccessMessage)
}

// HandleLogin relays the provider's session response unchanged
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) error {
	creds := decodeCredentials(r)

	res, err := h.client.LoginWithPassword(r.Context(), creds.Email, creds.Password)
	if err != nil {
		return err
	}
	return utils.WriteRawJSON(w, res.Status, res.Payload)
}

// HandleLogout asks the provider to revoke the caller's session. Any
// "Bearer " header counts as a logout, even an empty one. It always succeeds;
// provider failures are only logged.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) error {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return utils.WriteMessage(w, http.StatusOK, AlreadyLoggedOutMessage)
	}

	// An empty token has no session to revoke
	if token, ok := middleware.BearerToken(r); ok {
		if err := h.client.Logout(r.Context(), token); err != nil {
			h.logger.Warn("provider logout failed",
				zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
				zap.Error(err))
		}
	}

	return utils.WriteMessage(w, http.StatusOK, LogoutSuccessMessage)
}

// HandleUser returns the e-mail of the account that owns the bearer token.
// A missing token or one the provider rejects is returned as an
// unauthorized error.
func (h *Handler) HandleUser(w http.ResponseWriter, r *http.Request) error {
	token, ok := middleware.BearerToken(r)
	if !ok {
		return services.ErrUnauthorized
	}

	res, err := h.client.GetUser(r.Context(), token)
	if err != nil {
		return err
	}
	if !res.OK() {
		return services.ErrInvalidToken.WithDetail("status", res.Status)
	}

	email, _ := res.Field("email")
	return utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"email": email})
}

// decodeCredentials reads the JSON body. Anything unreadable counts as
// empty credentials and is left for the provider to reject.
func decodeCredentials(r *http.Request) Credentials {
	var creds Credentials
	if !utils.DecodeJSONLenient(r, &creds) {
		return Credentials{}
	}
	return creds
}

// redirectURL is the root of the site the request came in on
func redirectURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host + "/"
}

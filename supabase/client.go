package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/upb/auth-gateway/config"
	"github.com/upb/auth-gateway/internal/observability"
	"github.com/upb/auth-gateway/services"
	"go.uber.org/zap"
)

const (
	authPath = "/auth/v1"

	// maxPayloadBytes caps how much of a provider response is buffered
	maxPayloadBytes = 1 << 20
)

// Client calls the Supabase Auth (GoTrue) HTTP API. It keeps no state
// between calls; every method maps one request to one provider call.
type Client struct {
	cfg        config.SupabaseConfig
	httpClient *http.Client
	logger     observability.Logger
}

// NewClient creates a new provider client
func NewClient(cfg config.SupabaseConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: observability.NewLogger(logger),
	}
}

// SignUp registers a new account. redirectTo is where the confirmation
// e-mail sends the user.
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (*Result, error) {
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	return c.do(ctx, http.MethodPost, "/signup", query, c.cfg.AnonKey, credentials{Email: email, Password: password})
}

// LoginWithPassword exchanges credentials for a session
func (c *Client) LoginWithPassword(ctx context.Context, email, password string) (*Result, error) {
	query := url.Values{"grant_type": {"password"}}
	return c.do(ctx, http.MethodPost, "/token", query, "", credentials{Email: email, Password: password})
}

// Logout revokes the session behind token. Only transport failures and
// non-2xx answers are reported.
func (c *Client) Logout(ctx context.Context, token string) error {
	res, err := c.do(ctx, http.MethodPost, "/logout", nil, token, nil)
	if err != nil {
		return err
	}
	if res.Status < 200 || res.Status >= 300 {
		return services.NewDomainError(services.ErrorTypeExternal, "logout rejected", nil).
			WithDetail("status", res.Status)
	}
	return nil
}

// GetUser fetches the user that owns token
func (c *Client) GetUser(ctx context.Context, token string) (*Result, error) {
	return c.do(ctx, http.MethodGet, "/user", nil, token, nil)
}

// GetUserIdentity resolves token to an Identity. Any non-200 answer is
// reported as services.ErrInvalidToken.
func (c *Client) GetUserIdentity(ctx context.Context, token string) (*Identity, error) {
	res, err := c.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, services.ErrInvalidToken.WithDetail("status", res.Status)
	}

	var identity Identity
	if err := json.Unmarshal(res.Payload, &identity); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeExternal, "decode user", err)
	}
	if identity.UserID == "" {
		return nil, services.ErrInvalidToken.WithDetail("reason", "user has no id")
	}
	return &identity, nil
}

// Health calls the provider's health endpoint
func (c *Client) Health(ctx context.Context) error {
	key := c.cfg.ServiceKey
	if key == "" {
		key = c.cfg.AnonKey
	}
	res, err := c.do(ctx, http.MethodGet, "/health", nil, key, nil)
	if err != nil {
		return err
	}
	if !res.OK() {
		return services.NewDomainError(services.ErrorTypeExternal, "health check failed", nil).
			WithDetail("status", res.Status)
	}
	return nil
}

// do performs one provider call. bearer, when set, is sent as the
// Authorization header; the anon key always travels as apikey.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body interface{}) (*Result, error) {
	if c.cfg.URL == "" {
		return nil, services.ErrNotConfigured
	}

	endpoint := c.cfg.URL + authPath + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, services.WrapInternal("encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, services.WrapInternal("create provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.AnonKey != "" {
		req.Header.Set("apikey", c.cfg.AnonKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn(ctx, "provider request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return nil, services.ErrProviderUnavailable.Wrap(err).
			WithDetail("request", method+" "+path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, services.ErrProviderUnavailable.Wrap(err).
			WithDetail("request", method+" "+path)
	}

	payload := json.RawMessage(bytes.TrimSpace(raw))
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	} else if !json.Valid(payload) {
		return nil, services.ErrProviderResponse.
			WithDetail("status", resp.StatusCode).
			WithDetail("content_type", strings.TrimSpace(resp.Header.Get("Content-Type")))
	}

	c.logger.Debug(ctx, "provider call completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	return &Result{Status: resp.StatusCode, Payload: payload}, nil
}

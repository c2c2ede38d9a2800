package auth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-gateway/services"
	"github.com/upb/auth-gateway/supabase"
	"github.com/upb/auth-gateway/supabase/supabasetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// MockIdentityClient is a mock implementation of IdentityClient
type MockIdentityClient struct {
	mock.Mock
}

func (m *MockIdentityClient) SignUp(ctx context.Context, email, password, redirectTo string) (*supabase.Result, error) {
	args := m.Called(ctx, email, password, redirectTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*supabase.Result), args.Error(1)
}

func (m *MockIdentityClient) LoginWithPassword(ctx context.Context, email, password string) (*supabase.Result, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*supabase.Result), args.Error(1)
}

func (m *MockIdentityClient) Logout(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockIdentityClient) GetUser(ctx context.Context, token string) (*supabase.Result, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*supabase.Result), args.Error(1)
}

func newFakeHandler(t *testing.T) (*Handler, *supabasetest.Server) {
	t.Helper()
	srv := supabasetest.NewServer(t)
	logger := zaptest.NewLogger(t)
	return NewHandler(supabase.NewClient(srv.Config(), logger), logger), srv
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandleRegister(t *testing.T) {
	t.Run("new account", func(t *testing.T) {
		h, srv := newFakeHandler(t)

		req := jsonRequest(http.MethodPost, "http://app.example.com/api/auth/register",
			`{"email":"new@example.com","password":"s3cret-pass"}`)
		w := httptest.NewRecorder()

		require.NoError(t, h.HandleRegister(w, req))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message":"`+RegisterSuccessMessage+`"}`, w.Body.String())
		assert.Equal(t, "http://app.example.com/", srv.LastRedirectTo())
	})

	t.Run("provider rejection becomes 400 with provider payload", func(t *testing.T) {
		h, srv := newFakeHandler(t)
		srv.AddUser("taken@example.com", "password1")

		req := jsonRequest(http.MethodPost, "/api/auth/register",
			`{"email":"taken@example.com","password":"password2"}`)
		w := httptest.NewRecorder()

		require.NoError(t, h.HandleRegister(w, req))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "User already registered", body["msg"])
		assert.NotContains(t, body, "id")
	})

	t.Run("non string id is not a created account", func(t *testing.T) {
		for _, payload := range []string{`{"id":0}`, `{"id":false}`, `{"id":""}`, `{"id":null}`} {
			client := new(MockIdentityClient)
			h := NewHandler(client, zap.NewNop())

			client.On("SignUp", mock.Anything, "a@b.com", "pw", mock.Anything).
				Return(&supabase.Result{Status: 200, Payload: json.RawMessage(payload)}, nil)

			w := httptest.NewRecorder()
			require.NoError(t, h.HandleRegister(w, jsonRequest(http.MethodPost, "/api/auth/register",
				`{"email":"a@b.com","password":"pw"}`)))

			assert.Equal(t, http.StatusBadRequest, w.Code, payload)
			assert.JSONEq(t, payload, w.Body.String())
		}
	})

	t.Run("malformed body counts as empty credentials", func(t *testing.T) {
		client := new(MockIdentityClient)
		h := NewHandler(client, zap.NewNop())

		client.On("SignUp", mock.Anything, "", "", mock.Anything).
			Return(&supabase.Result{Status: 400, Payload: json.RawMessage(`{"msg":"missing email"}`)}, nil)

		w := httptest.NewRecorder()
		require.NoError(t, h.HandleRegister(w, jsonRequest(http.MethodPost, "/api/auth/register", `{not json`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"msg":"missing email"}`, w.Body.String())
		client.AssertExpectations(t)
	})

	t.Run("redirect honours forwarded proto", func(t *testing.T) {
		client := new(MockIdentityClient)
		h := NewHandler(client, zap.NewNop())

		client.On("SignUp", mock.Anything, "a@b.com", "pw", "https://app.example.com/").
			Return(&supabase.Result{Status: 200, Payload: json.RawMessage(`{"id":"u1"}`)}, nil)

		req := jsonRequest(http.MethodPost, "http://app.example.com/api/auth/register", `{"email":"a@b.com","password":"pw"}`)
		req.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()

		require.NoError(t, h.HandleRegister(w, req))
		assert.Equal(t, http.StatusOK, w.Code)
		client.AssertExpectations(t)
	})

	t.Run("transport failure is returned unwritten", func(t *testing.T) {
		client := new(MockIdentityClient)
		h := NewHandler(client, zap.NewNop())

		client.On("SignUp", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, services.ErrProviderUnavailable.Wrap(errors.New("connection refused")))

		w := httptest.NewRecorder()
		err := h.HandleRegister(w, jsonRequest(http.MethodPost, "/api/auth/register", `{}`))

		assert.True(t, services.IsExternalError(err))
		assert.Equal(t, 0, w.Body.Len())
	})
}

func TestRedirectURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://localhost:5001/api/auth/register", nil)
	assert.Equal(t, "http://localhost:5001/", redirectURL(req))

	req.TLS = &tls.ConnectionState{}
	assert.Equal(t, "https://localhost:5001/", redirectURL(req))

	req.TLS = nil
	req.Header.Set("X-Forwarded-Proto", "HTTPS, http")
	assert.Equal(t, "https://localhost:5001/", redirectURL(req))
}

func TestHandleLogin(t *testing.T) {
	h, srv := newFakeHandler(t)
	userID := srv.AddUser("user@example.com", "password1")

	t.Run("valid credentials relay session", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, h.HandleLogin(w, jsonRequest(http.MethodPost, "/api/auth/login",
			`{"email":"user@example.com","password":"password1"}`)))

		assert.Equal(t, http.StatusOK, w.Code)
		var session struct {
			AccessToken string `json:"access_token"`
			User        struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
		assert.NotEmpty(t, session.AccessToken)
		assert.Equal(t, userID, session.User.ID)
	})

	t.Run("invalid credentials relay provider status", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, h.HandleLogin(w, jsonRequest(http.MethodPost, "/api/auth/login",
			`{"email":"user@example.com","password":"wrong"}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, w.Body.String())
	})

	t.Run("empty body is forwarded as empty credentials", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, h.HandleLogin(w, jsonRequest(http.MethodPost, "/api/auth/login", "")))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, 3, srv.Calls("/auth/v1/token"))
	})
}

func TestHandleLogout(t *testing.T) {
	t.Run("no token", func(t *testing.T) {
		client := new(MockIdentityClient)
		h := NewHandler(client, zap.NewNop())

		w := httptest.NewRecorder()
		require.NoError(t, h.HandleLogout(w, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message":"Already logged out"}`, w.Body.String())
		client.AssertNotCalled(t, "Logout")
	})

	t.Run("empty bearer token logs out without provider call", func(t *testing.T) {
		for _, header := range []string{"Bearer ", "Bearer    "} {
			client := new(MockIdentityClient)
			h := NewHandler(client, zap.NewNop())

			req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()

			require.NoError(t, h.HandleLogout(w, req))

			assert.Equal(t, http.StatusOK, w.Code, header)
			assert.JSONEq(t, `{"message":"Logout successful."}`, w.Body.String(), header)
			client.AssertNotCalled(t, "Logout")
		}
	})

	t.Run("token revokes session", func(t *testing.T) {
		h, srv := newFakeHandler(t)
		userID := srv.AddUser("user@example.com", "password1")
		token := srv.IssueToken(userID, "user@example.com", time.Hour)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		require.NoError(t, h.HandleLogout(w, req))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message":"Logout successful."}`, w.Body.String())
		assert.Equal(t, 1, srv.Calls("/auth/v1/logout"))
	})

	t.Run("provider failure is logged and ignored", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		client := new(MockIdentityClient)
		h := NewHandler(client, zap.New(core))

		client.On("Logout", mock.Anything, "stale").Return(errors.New("logout rejected"))

		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer stale")
		w := httptest.NewRecorder()

		require.NoError(t, h.HandleLogout(w, req))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"message":"Logout successful."}`, w.Body.String())
		assert.Equal(t, 1, logs.FilterMessage("provider logout failed").Len())
		client.AssertExpectations(t)
	})
}

func TestHandleUser(t *testing.T) {
	t.Run("missing or malformed header makes no provider call", func(t *testing.T) {
		for _, header := range []string{"", "Token abc", "Bearer "} {
			client := new(MockIdentityClient)
			h := NewHandler(client, zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()

			err := h.HandleUser(w, req)

			assert.ErrorIs(t, err, services.ErrUnauthorized, header)
			assert.Equal(t, 0, w.Body.Len(), header)
			client.AssertNotCalled(t, "GetUser")
		}
	})

	t.Run("valid token returns email", func(t *testing.T) {
		h, srv := newFakeHandler(t)
		userID := srv.AddUser("user@example.com", "password1")

		req := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
		req.Header.Set("Authorization", "Bearer "+srv.IssueToken(userID, "user@example.com", time.Hour))
		w := httptest.NewRecorder()

		require.NoError(t, h.HandleUser(w, req))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"email":"user@example.com"}`, w.Body.String())
	})

	t.Run("rejected token is an invalid token error", func(t *testing.T) {
		h, srv := newFakeHandler(t)
		userID := srv.AddUser("user@example.com", "password1")

		req := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
		req.Header.Set("Authorization", "Bearer "+srv.IssueToken(userID, "user@example.com", -time.Minute))
		w := httptest.NewRecorder()

		err := h.HandleUser(w, req)

		assert.ErrorIs(t, err, services.ErrInvalidToken)
		assert.True(t, services.IsUnauthorizedError(err))
		assert.Equal(t, 0, w.Body.Len())
	})
}

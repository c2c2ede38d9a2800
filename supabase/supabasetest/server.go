// Package supabasetest runs an in-process stand-in for the Supabase Auth API.
// It keeps accounts in memory, issues HS256 access tokens signed with a
// test secret, and answers with the same status codes and shapes as GoTrue.
package supabasetest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/auth-gateway/config"
)

const (
	// AnonKey is the api key the fake server expects on every request
	AnonKey = "test-anon-key"
	// ServiceKey is accepted wherever AnonKey is
	ServiceKey = "test-service-key"
	// JWTSecret signs every access token the fake server issues
	JWTSecret = "test-jwt-secret-with-enough-entropy"

	tokenTTL = time.Hour
)

type user struct {
	ID       string
	Email    string
	Password string
}

// Claims is the access token payload
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// Server is a fake Supabase Auth endpoint backed by httptest
type Server struct {
	*httptest.Server

	secret []byte

	mu             sync.Mutex
	users          map[string]*user // by email
	revoked        map[string]bool  // by session id
	calls          map[string]int   // by path
	lastRedirectTo string
	unhealthy      bool
}

// NewServer starts a fake provider that is closed when the test ends
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		secret:  []byte(JWTSecret),
		users:   make(map[string]*user),
		revoked: make(map[string]bool),
		calls:   make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", s.handleSignUp)
	mux.HandleFunc("/auth/v1/token", s.handleToken)
	mux.HandleFunc("/auth/v1/user", s.handleUser)
	mux.HandleFunc("/auth/v1/logout", s.handleLogout)
	mux.HandleFunc("/auth/v1/health", s.handleHealth)

	s.Server = httptest.NewServer(s.count(s.requireAPIKey(mux)))
	t.Cleanup(s.Close)
	return s
}

// Config returns provider settings pointing at the fake server
func (s *Server) Config() config.SupabaseConfig {
	return config.SupabaseConfig{
		URL:         s.URL,
		AnonKey:     AnonKey,
		ServiceKey:  ServiceKey,
		JWTSecret:   JWTSecret,
		HTTPTimeout: 5 * time.Second,
	}
}

// AddUser creates a confirmed account and returns its id
func (s *Server) AddUser(email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &user{ID: uuid.NewString(), Email: email, Password: password}
	s.users[strings.ToLower(email)] = u
	return u.ID
}

// IssueToken signs an access token for userID valid for ttl. A negative
// ttl yields an already expired token.
func (s *Server) IssueToken(userID, email string, ttl time.Duration) string {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:     email,
		Role:      "authenticated",
		SessionID: uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

// Calls returns how many requests reached path (e.g. "/auth/v1/user")
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastRedirectTo returns the redirect_to of the most recent sign-up
func (s *Server) LastRedirectTo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRedirectTo
}

// SetHealthy toggles the answer of the health endpoint
func (s *Server) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unhealthy = !healthy
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("apikey")
		if key != AnonKey && key != ServiceKey {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"message": "No API key found in request",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRedirectTo = r.URL.Query().Get("redirect_to")

	switch {
	case body.Email == "":
		writeJSON(w, http.StatusBadRequest, gotrueError(400, "validation_failed", "To signup, please provide your email"))
		return
	case len(body.Password) < 6:
		writeJSON(w, http.StatusUnprocessableEntity, gotrueError(422, "weak_password", "Password should be at least 6 characters."))
		return
	}
	if _, exists := s.users[strings.ToLower(body.Email)]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, gotrueError(422, "user_already_exists", "User already registered"))
		return
	}

	u := &user{ID: uuid.NewString(), Email: body.Email, Password: body.Password}
	s.users[strings.ToLower(body.Email)] = u
	writeJSON(w, http.StatusOK, userJSON(u))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Query().Get("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":             "unsupported_grant_type",
			"error_description": "grant_type must be password",
		})
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(body.Email)]
	s.mu.Unlock()
	if !ok || u.Password != body.Password {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  s.IssueToken(u.ID, u.Email, tokenTTL),
		"token_type":    "bearer",
		"expires_in":    int(tokenTTL.Seconds()),
		"refresh_token": uuid.NewString(),
		"user":          userJSON(u),
	})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, gotrueError(401, "bad_jwt", "invalid JWT: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    claims.Subject,
		"aud":   "authenticated",
		"role":  claims.Role,
		"email": claims.Email,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, err := s.authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, gotrueError(401, "bad_jwt", "invalid JWT: "+err.Error()))
		return
	}

	s.mu.Lock()
	s.revoked[claims.SessionID] = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	unhealthy := s.unhealthy
	s.mu.Unlock()

	if unhealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"message": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":     "supabasetest",
		"name":        "GoTrue",
		"description": "in-process fake",
	})
}

var errSessionRevoked = errors.New("session has been revoked")

func (s *Server) authenticate(r *http.Request) (*Claims, error) {
	raw, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || raw == "" {
		return nil, errors.New("missing bearer token")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	revoked := s.revoked[claims.SessionID]
	s.mu.Unlock()
	if revoked {
		return nil, errSessionRevoked
	}
	return claims, nil
}

func userJSON(u *user) map[string]interface{} {
	return map[string]interface{}{
		"id":    u.ID,
		"aud":   "authenticated",
		"role":  "authenticated",
		"email": u.Email,
	}
}

func gotrueError(code int, errorCode, msg string) map[string]interface{} {
	return map[string]interface{}{
		"code":       code,
		"error_code": errorCode,
		"msg":        msg,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

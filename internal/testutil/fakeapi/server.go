// Package fakeapi is an in-memory backend speaking the same HTTP API as the real one.
// Used by end-to-end tests of the client.
package fakeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/nkiryanov/itemsadmin/internal/models"
)

const (
	BasePath = "/api/v1"

	defaultAccessTTL = 15 * time.Minute
	defaultSecretKey = "fakeapi-secret-key"
)

// Server config with sensible defaults
type Config struct {
	// Secret key to sign access tokens
	// If not set than default is used
	SecretKey string

	// Access token lifetime
	// If not set than default is used
	AccessTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

type user struct {
	models.User
	passwordHash string
}

type Server struct {
	mu sync.Mutex

	// By username
	users map[string]user

	// Active token id -> username
	sessions map[string]string

	items      []models.Item
	nextItemID int64

	// Integer user ids, as the real backend issues them
	nextUserID int64

	// "METHOD /path" -> count
	hits map[string]int

	tokens *tokenManager
	hasher bcryptHasher
}

func New(cfg Config) *Server {
	if cfg.SecretKey == "" {
		cfg.SecretKey = defaultSecretKey
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Server{
		users:      make(map[string]user),
		sessions:   make(map[string]string),
		nextItemID: 1,
		nextUserID: 1,
		hits:       make(map[string]int),
		tokens: &tokenManager{
			key: []byte(cfg.SecretKey),
			alg: jwt.SigningMethodHS256,
			ttl: cfg.AccessTTL,
			now: cfg.Now,
		},
	}
}

// Start serves the API on a random port until the test ends.
// Returns base url including BasePath.
func Start(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()

	s := New(cfg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return s, srv.URL + BasePath
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.countHits)

	api := r.PathPrefix(BasePath).Subrouter()

	api.HandleFunc("/users/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/users/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/users/session-status/{username}", s.handleSessionStatus).Methods(http.MethodGet)
	api.Handle("/users/logout", s.withAuth(s.handleLogout)).Methods(http.MethodPost)
	api.Handle("/users/token/refresh", s.withAuth(s.handleRefresh)).Methods(http.MethodPost)

	api.Handle("/items/", s.withAuth(s.handleListItems)).Methods(http.MethodGet)
	api.Handle("/items/", s.withAuth(s.handleCreateItem)).Methods(http.MethodPost)
	api.Handle("/items/{id}", s.withAuth(s.handleGetItem)).Methods(http.MethodGet)
	api.Handle("/items/{id}", s.withAuth(s.handleUpdateItem)).Methods(http.MethodPut)
	api.Handle("/items/{id}", s.withAuth(s.handleDeleteItem)).Methods(http.MethodDelete)

	return r
}

// AddUser registers user directly, bypassing the API
func (s *Server) AddUser(username string, email string, password string) models.User {
	hash, err := s.hasher.hash(password)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := models.ID(strconv.FormatInt(s.nextUserID, 10))
	s.nextUserID++
	u := user{User: models.User{ID: id, Username: username, Email: email, IsActive: true}, passwordHash: hash}
	s.users[username] = u
	return u.User
}

// AddItem stores item directly, bypassing the API
func (s *Server) AddItem(name string, description string) models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addItem(name, description)
}

// RevokeSessions drops all sessions of the user, like server side logout
func (s *Server) RevokeSessions(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, owner := range s.sessions {
		if owner == username {
			delete(s.sessions, jti)
		}
	}
}

// Hits returns how many times the route was called, like "GET /items/"
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

func (s *Server) Items() []models.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}

func (s *Server) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + strings.TrimPrefix(r.URL.Path, BasePath)

		s.mu.Lock()
		s.hits[route]++
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

type ctxKey string

const claimsKey ctxKey = "claims"

func (s *Server) withAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			renderDetail(w, "Not authenticated", http.StatusUnauthorized)
			return
		}

		claims, err := s.tokens.parse(token)
		if err != nil {
			renderDetail(w, "Could not validate credentials", http.StatusUnauthorized)
			return
		}

		s.mu.Lock()
		_, active := s.sessions[claims.ID]
		s.mu.Unlock()
		if !active {
			renderDetail(w, "Session is not active", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func claimsFromContext(ctx context.Context) accessClaims {
	c, _ := ctx.Value(claimsKey).(accessClaims)
	return c
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	data, ok := bind[models.UserRegistration](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	_, taken := s.users[data.Username]
	emailTaken := slices.ContainsFunc(s.userList(), func(u user) bool { return u.Email == data.Email })
	s.mu.Unlock()

	switch {
	case taken:
		renderDetail(w, "Username already taken", http.StatusBadRequest)
		return
	case emailTaken:
		renderDetail(w, "Email already registered", http.StatusBadRequest)
		return
	}

	renderJSON(w, s.AddUser(data.Username, data.Email, data.Password))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Login    string `json:"login" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	data, ok := bind[LoginRequest](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	u, found := s.users[data.Login]
	s.mu.Unlock()

	if !found || s.hasher.compare(u.passwordHash, data.Password) != nil {
		renderDetail(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	s.issueToken(w, u.User)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	s.mu.Lock()
	u, found := s.users[claims.Username]
	delete(s.sessions, claims.ID)
	s.mu.Unlock()

	if !found {
		renderDetail(w, "User not found", http.StatusUnauthorized)
		return
	}

	s.issueToken(w, u.User)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	s.mu.Lock()
	delete(s.sessions, claims.ID)
	s.mu.Unlock()

	renderJSON(w, map[string]string{"message": "Logout successful"})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	s.mu.Lock()
	active := slices.Contains(mapValues(s.sessions), username)
	s.mu.Unlock()

	renderJSON(w, map[string]bool{"is_active": active})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items := s.Items()
	if items == nil {
		items = []models.Item{}
	}
	renderJSON(w, items)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	data, ok := bind[models.ItemInput](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	item := s.addItem(data.Name, data.Description)
	s.mu.Unlock()

	jsonWithStatus(w, item, http.StatusCreated)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.itemIndex(r)
	if idx < 0 {
		renderDetail(w, "Item not found", http.StatusNotFound)
		return
	}
	renderJSON(w, s.items[idx])
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	data, ok := bind[models.ItemPatch](w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.itemIndex(r)
	if idx < 0 {
		renderDetail(w, "Item not found", http.StatusNotFound)
		return
	}

	if data.Name != nil {
		s.items[idx].Name = *data.Name
	}
	if data.Description != nil {
		s.items[idx].Description = *data.Description
	}
	renderJSON(w, s.items[idx])
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.itemIndex(r)
	if idx < 0 {
		renderDetail(w, "Item not found", http.StatusNotFound)
		return
	}
	s.items = slices.Delete(s.items, idx, idx+1)
	renderJSON(w, map[string]string{"message": "Item deleted successfully"})
}

func (s *Server) issueToken(w http.ResponseWriter, u models.User) {
	token, jti, expiresAt, err := s.tokens.issue(u.ID.String(), u.Username)
	if err != nil {
		renderDetail(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.sessions[jti] = u.Username
	s.mu.Unlock()

	renderJSON(w, models.TokenResponse{
		AccessToken: token,
		TokenType:   models.DefaultTokenType,
		ExpiresAt:   models.Timestamp{Time: expiresAt},
		User:        &u,
	})
}

// Must be called with lock held
func (s *Server) addItem(name string, description string) models.Item {
	item := models.Item{ID: models.ID(strconv.FormatInt(s.nextItemID, 10)), Name: name, Description: description}
	s.nextItemID++
	s.items = append(s.items, item)
	return item
}

// Must be called with lock held
func (s *Server) itemIndex(r *http.Request) int {
	id := models.ID(mux.Vars(r)["id"])
	return slices.IndexFunc(s.items, func(item models.Item) bool { return item.ID == id })
}

// Must be called with lock held
func (s *Server) userList() []user {
	return mapValues(s.users)
}

func mapValues[K comparable, V any](m map[K]V) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

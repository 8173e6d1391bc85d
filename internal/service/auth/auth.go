package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
	"github.com/nkiryanov/itemsadmin/internal/logger"
	"github.com/nkiryanov/itemsadmin/internal/models"
	"github.com/nkiryanov/itemsadmin/internal/service/validate"
	"github.com/nkiryanov/itemsadmin/internal/session"
)

const (
	defaultLoginFailed        = "Login failed"
	defaultRegistrationFailed = "Registration failed"
)

// Backend user endpoints the manager depends on
type Backend interface {
	Login(ctx context.Context, username string, password string) (models.TokenResponse, error)
	Register(ctx context.Context, r models.UserRegistration) (models.User, error)
	Logout(ctx context.Context, auth string) error
	Refresh(ctx context.Context, auth string) (models.TokenResponse, error)
	SessionStatus(ctx context.Context, username string) (bool, error)
}

// Manager config with sensible defaults
type Config struct {
	// Clock, time.Now if not set
	Now func() time.Time

	// Logger, no-op if not set
	Logger logger.Logger
}

// Manager owns every token lifecycle transition of the session
type Manager struct {
	backend Backend
	store   *session.Store
	now     func() time.Time
	logger  logger.Logger
}

func New(cfg Config, backend Backend, store *session.Store) (*Manager, error) {
	if backend == nil || store == nil {
		return nil, errors.New("backend and store must not be nil")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &Manager{
		backend: backend,
		store:   store,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

func (m *Manager) Store() *session.Store {
	return m.store
}

// Login exchanges credentials for a session.
// On failure the session stays exactly as it was.
func (m *Manager) Login(ctx context.Context, username string, password string) (session.State, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return session.State{}, apperrors.NewFailure(apperrors.ErrAuthFailed, "username and password are required", nil)
	}

	resp, err := m.backend.Login(ctx, username, password)
	if err != nil {
		m.logger.Info("Login failed", "username", username, "error", err)
		return session.State{}, apperrors.NewFailure(apperrors.ErrAuthFailed, failureMessage(err, defaultLoginFailed), err)
	}
	if resp.User == nil || resp.AccessToken == "" {
		return session.State{}, apperrors.NewFailure(apperrors.ErrAuthFailed, defaultLoginFailed, errors.New("incomplete login response"))
	}

	m.store.SetAuth(resp.User, tokenFromResponse(resp))
	m.persist(ctx)

	m.logger.Info("Logged in", "username", resp.User.Username)
	return m.store.Snapshot(), nil
}

// Register creates a user account, the session is never touched
func (m *Manager) Register(ctx context.Context, r models.UserRegistration) (models.User, error) {
	if err := validate.Struct(r); err != nil {
		return models.User{}, apperrors.NewFailure(apperrors.ErrRegistrationFailed, err.Error(), err)
	}

	user, err := m.backend.Register(ctx, r)
	if err != nil {
		return models.User{}, apperrors.NewFailure(apperrors.ErrRegistrationFailed, failureMessage(err, defaultRegistrationFailed), err)
	}

	return user, nil
}

// Refresh replaces the credential (and the user when the server returns one).
// On failure the session is left untouched.
func (m *Manager) Refresh(ctx context.Context) (session.State, error) {
	token := m.store.Token()
	if token.AccessToken == "" {
		return session.State{}, apperrors.ErrNoToken
	}

	resp, err := m.backend.Refresh(ctx, authorization(token))
	if err != nil {
		return session.State{}, fmt.Errorf("can't refresh token: %w", err)
	}
	if resp.AccessToken == "" {
		return session.State{}, errors.New("can't refresh token: empty access token in response")
	}

	user := resp.User
	if user == nil {
		user = m.store.User()
	}

	m.store.SetAuth(user, tokenFromResponse(resp))
	m.persist(ctx)

	m.logger.Debug("Token refreshed")
	return m.store.Snapshot(), nil
}

// IsTokenExpired is true when expiry is absent or not after now
func (m *Manager) IsTokenExpired() bool {
	expiry := m.store.Token().Expiry
	return expiry.IsZero() || !m.now().Before(expiry)
}

// AuthHeader returns baseline headers plus Authorization when token is present
func (m *Manager) AuthHeader() http.Header {
	h := BaselineHeader()

	token := m.store.Token()
	if token.AccessToken != "" {
		h.Set("Authorization", authorization(token))
	}
	return h
}

// Logout invalidates the token on the server when possible and always clears local auth.
// Server failures are logged and swallowed; only persisting the cleared state may fail.
func (m *Manager) Logout(ctx context.Context) error {
	token := m.store.Token()

	if token.AccessToken != "" {
		if !m.IsTokenExpired() {
			if _, err := m.Refresh(ctx); err != nil {
				m.logger.Warn("Refresh before logout failed, logging out with old token", "error", err)
			} else {
				token = m.store.Token()
			}
		}

		if err := m.backend.Logout(ctx, authorization(token)); err != nil {
			m.logger.Warn("Server logout failed", "error", err)
		}
	}

	m.store.ClearAuth()
	if err := m.store.Save(ctx); err != nil {
		return fmt.Errorf("can't persist logout: %w", err)
	}

	m.logger.Info("Logged out")
	return nil
}

// CheckSession asks the server whether the user session is still active.
// Local auth is cleared when the server reports it inactive.
func (m *Manager) CheckSession(ctx context.Context) (bool, error) {
	user := m.store.User()
	if user == nil {
		return false, nil
	}

	active, err := m.backend.SessionStatus(ctx, user.Username)
	if err != nil {
		return false, fmt.Errorf("can't check session: %w", err)
	}

	if !active {
		m.logger.Info("Server session is not active, clearing local auth", "username", user.Username)
		m.store.ClearAuth()
		m.persist(ctx)
	}

	return active, nil
}

func (m *Manager) persist(ctx context.Context) {
	if err := m.store.Save(ctx); err != nil {
		m.logger.Error("Failed to persist session", "error", err)
	}
}

// BaselineHeader is sent with every request
func BaselineHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return h
}

// Authorization header value: capitalized token type and the token
func authorization(token oauth2.Token) string {
	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = models.DefaultTokenType
	}
	return cases.Title(language.Und).String(strings.ToLower(tokenType)) + " " + token.AccessToken
}

func failureMessage(err error, fallback string) string {
	var apiErr *apperrors.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

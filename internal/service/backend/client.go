package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nkiryanov/itemsadmin/internal/logger"
	"github.com/nkiryanov/itemsadmin/internal/models"
)

// Client calls user endpoints of the backend. It knows nothing about the session,
// the caller passes the token explicitly.
type Client struct {
	BaseURL string

	client *http.Client
	logger logger.Logger
}

func NewClient(baseURL string, client *http.Client, l logger.Logger) *Client {
	if client == nil {
		client = &http.Client{}
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  l,
	}
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type sessionStatus struct {
	IsActive bool `json:"is_active"`
}

// Login exchanges credentials for a token
func (c *Client) Login(ctx context.Context, username string, password string) (models.TokenResponse, error) {
	var t models.TokenResponse
	err := c.call(ctx, http.MethodPost, "/users/login", "", loginRequest{Login: username, Password: password}, &t)
	return t, err
}

func (c *Client) Register(ctx context.Context, r models.UserRegistration) (models.User, error) {
	var u models.User
	err := c.call(ctx, http.MethodPost, "/users/register", "", r, &u)
	return u, err
}

// Logout invalidates the token on the server, auth is the full Authorization header value
func (c *Client) Logout(ctx context.Context, auth string) error {
	return c.call(ctx, http.MethodPost, "/users/logout", auth, nil, nil)
}

func (c *Client) Refresh(ctx context.Context, auth string) (models.TokenResponse, error) {
	var t models.TokenResponse
	err := c.call(ctx, http.MethodPost, "/users/token/refresh", auth, nil, &t)
	return t, err
}

// SessionStatus reports whether the server still keeps the user session active
func (c *Client) SessionStatus(ctx context.Context, username string) (bool, error) {
	var s sessionStatus
	err := c.call(ctx, http.MethodGet, "/users/session-status/"+url.PathEscape(username), "", nil, &s)
	return s.IsActive, err
}

func (c *Client) call(ctx context.Context, method string, endpoint string, auth string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	respBody, err := Send(c.client, req)
	if err != nil {
		c.logger.Debug("Backend call failed", "method", method, "endpoint", endpoint, "error", err)
		return err
	}

	return Decode(respBody, out)
}

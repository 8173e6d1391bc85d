package fakeapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
	"github.com/nkiryanov/itemsadmin/internal/models"
	"github.com/nkiryanov/itemsadmin/internal/service/backend"
)

func TestServer_Users(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, url := Start(t, Config{AccessTTL: time.Hour, Now: func() time.Time { return now }})
	c := backend.NewClient(url, nil, nil)

	t.Run("register and login", func(t *testing.T) {
		u, err := c.Register(t.Context(), models.UserRegistration{Username: "alice", Email: "alice@example.com", Password: "secret123"})
		require.NoError(t, err)
		require.Equal(t, "alice", u.Username)
		require.Equal(t, models.ID("1"), u.ID)

		resp, err := c.Login(t.Context(), "alice", "secret123")
		require.NoError(t, err)
		require.Equal(t, "bearer", resp.TokenType)
		require.Equal(t, now.Add(time.Hour), resp.ExpiresAt.Time)
		require.Equal(t, "alice", resp.User.Username)

		active, err := c.SessionStatus(t.Context(), "alice")
		require.NoError(t, err)
		require.True(t, active)
	})

	t.Run("user id is a JSON number", func(t *testing.T) {
		resp, err := http.Post(url+"/users/login", "application/json", strings.NewReader(`{"login": "alice", "password": "secret123"}`))
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		var body struct {
			User map[string]any `json:"user"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, float64(1), body.User["id"])
	})

	t.Run("register duplicate", func(t *testing.T) {
		_, err := c.Register(t.Context(), models.UserRegistration{Username: "alice", Email: "other@example.com", Password: "secret123"})

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusBadRequest, apiErr.Status)
		require.Equal(t, "Username already taken", apiErr.Message)
	})

	t.Run("register invalid", func(t *testing.T) {
		_, err := c.Register(t.Context(), models.UserRegistration{Username: "bo", Email: "bob@example.com", Password: "secret123"})

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
		require.Equal(t, "username: value is too short (minimum 3)", apiErr.Message)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := c.Login(t.Context(), "alice", "wrong")

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnauthorized, apiErr.Status)
		require.Equal(t, "Invalid credentials", apiErr.Message)
	})

	t.Run("refresh rotates token", func(t *testing.T) {
		login, err := c.Login(t.Context(), "alice", "secret123")
		require.NoError(t, err)

		refreshed, err := c.Refresh(t.Context(), "Bearer "+login.AccessToken)
		require.NoError(t, err)
		require.NotEqual(t, login.AccessToken, refreshed.AccessToken)

		_, err = c.Refresh(t.Context(), "Bearer "+login.AccessToken)
		require.Error(t, err, "old token is not active anymore")

		require.NoError(t, c.Logout(t.Context(), "Bearer "+refreshed.AccessToken))
		err = c.Logout(t.Context(), "Bearer "+refreshed.AccessToken)
		require.Error(t, err, "logged out token rejected")
	})

	t.Run("revoke", func(t *testing.T) {
		login, err := c.Login(t.Context(), "alice", "secret123")
		require.NoError(t, err)

		s.RevokeSessions("alice")

		active, err := c.SessionStatus(t.Context(), "alice")
		require.NoError(t, err)
		require.False(t, active)
		_, err = c.Refresh(t.Context(), "Bearer "+login.AccessToken)
		require.Error(t, err)
	})
}

func TestServer_Hits(t *testing.T) {
	s, url := Start(t, Config{})
	s.AddUser("alice", "alice@example.com", "secret123")
	c := backend.NewClient(url, nil, nil)

	_, err := c.Login(t.Context(), "alice", "secret123")
	require.NoError(t, err)
	_, err = c.Login(t.Context(), "alice", "secret123")
	require.NoError(t, err)

	require.Equal(t, 2, s.Hits("POST /users/login"))
	require.Zero(t, s.Hits("GET /items/"))
}

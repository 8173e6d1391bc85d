package items

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
	"github.com/nkiryanov/itemsadmin/internal/models"
	"github.com/nkiryanov/itemsadmin/internal/repository/memory"
	"github.com/nkiryanov/itemsadmin/internal/service/gateway"
	"github.com/nkiryanov/itemsadmin/internal/session"
)

// Never expired authenticator
type validAuth struct{}

func (validAuth) IsTokenExpired() bool { return false }

func (validAuth) Refresh(context.Context) (session.State, error) { return session.State{}, nil }

func (validAuth) AuthHeader() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer tok")
	return h
}

// Requester that fails the test when called
type forbiddenRequester struct{ t *testing.T }

func (r forbiddenRequester) Request(context.Context, string, string, any, any, ...gateway.Option) error {
	r.t.Fatal("network must not be touched")
	return nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type env struct {
	manager *Manager
	store   *session.Store
	clock   *clock
	hits    *atomic.Int32
}

// Starts stub backend and wires the manager through a real gateway
func newEnv(t *testing.T, handler http.HandlerFunc) env {
	t.Helper()

	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	g, err := gateway.New(gateway.Config{BaseURL: srv.URL, RetryDelay: time.Millisecond}, validAuth{})
	require.NoError(t, err)

	store, err := session.New(session.Config{}, memory.NewStateRepo())
	require.NoError(t, err)
	store.SetAuth(&models.User{ID: "1", Username: "alice"}, oauth2.Token{AccessToken: "tok"})

	c := &clock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m, err := New(Config{Now: c.Now}, g, store)
	require.NoError(t, err)

	return env{manager: m, store: store, clock: c, hits: hits}
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func TestManager_FetchItems(t *testing.T) {
	t.Run("second fetch inside window skipped", func(t *testing.T) {
		e := newEnv(t, respond(`[{"id": 1, "name": "desk", "description": "oak"}]`))

		fetched, err := e.manager.FetchItems(t.Context())
		require.NoError(t, err)
		require.True(t, fetched)

		e.clock.now = e.clock.now.Add(29 * time.Second)
		fetched, err = e.manager.FetchItems(t.Context())
		require.NoError(t, err)
		require.False(t, fetched)

		require.Equal(t, int32(1), e.hits.Load(), "exactly one network call")
		require.Len(t, e.manager.Items(), 1)
	})

	t.Run("fetch after window", func(t *testing.T) {
		e := newEnv(t, respond(`[]`))

		_, err := e.manager.FetchItems(t.Context())
		require.NoError(t, err)
		e.clock.now = e.clock.now.Add(DefaultFetchWindow)
		_, err = e.manager.FetchItems(t.Context())
		require.NoError(t, err)

		require.Equal(t, int32(2), e.hits.Load())
		require.Equal(t, e.clock.now, e.store.LastFetch())
	})

	t.Run("invalidate forces fetch", func(t *testing.T) {
		e := newEnv(t, respond(`[]`))

		_, err := e.manager.FetchItems(t.Context())
		require.NoError(t, err)
		e.manager.Invalidate(t.Context())
		_, err = e.manager.FetchItems(t.Context())
		require.NoError(t, err)

		require.Equal(t, int32(2), e.hits.Load())
	})

	t.Run("failure keeps cache", func(t *testing.T) {
		e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail": "db down"}`))
		})
		cached := []models.Item{{ID: "5", Name: "lamp"}}
		e.store.ReplaceItems(cached, time.Time{})

		_, err := e.manager.FetchItems(t.Context())

		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, "db down", apiErr.Message)
		require.Equal(t, cached, e.manager.Items())
		require.True(t, e.store.LastFetch().IsZero())
	})
}

func TestManager_CreateItem(t *testing.T) {
	t.Run("create then fetch keeps local item", func(t *testing.T) {
		e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_, _ = w.Write([]byte(`[{"id": 1, "name": "desk"}]`))
			case http.MethodPost:
				var in map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
				require.Equal(t, "chair", in["name"])
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id": 2, "name": "chair", "description": "", "color": "red"}`))
			}
		})

		_, err := e.manager.FetchItems(t.Context())
		require.NoError(t, err)
		lastFetch := e.store.LastFetch()

		item, err := e.manager.CreateItem(t.Context(), models.ItemInput{Name: "chair"})
		require.NoError(t, err)
		require.Equal(t, models.ID("2"), item.ID)
		require.Equal(t, lastFetch, e.store.LastFetch(), "create does not touch fetch time")

		fetched, err := e.manager.FetchItems(t.Context())
		require.NoError(t, err)
		require.False(t, fetched)

		items := e.manager.Items()
		require.Len(t, items, 2)
		require.Equal(t, "chair", items[1].Name)
		require.JSONEq(t, `"red"`, string(items[1].Extra["color"]), "unknown fields kept")
		require.Equal(t, int32(2), e.hits.Load())
	})

	t.Run("invalid input", func(t *testing.T) {
		m, err := New(Config{}, forbiddenRequester{t}, authedStore(t))
		require.NoError(t, err)

		_, err = m.CreateItem(t.Context(), models.ItemInput{})

		require.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestManager_UpdateItem(t *testing.T) {
	t.Run("server fields merged into cached item", func(t *testing.T) {
		e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPut, r.Method)
			require.Equal(t, "/items/42", r.URL.Path)

			var in map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			require.Equal(t, map[string]any{"name": "x"}, in, "only set fields sent")

			_, _ = w.Write([]byte(`{"id": 42, "name": "x", "description": "old"}`))
		})
		e.store.ReplaceItems([]models.Item{{ID: "42", Name: "before", Description: "older"}, {ID: "43", Name: "other"}}, time.Time{})

		name := "x"
		item, err := e.manager.UpdateItem(t.Context(), "42", models.ItemPatch{Name: &name})

		require.NoError(t, err)
		require.Equal(t, "x", item.Name)
		cached, ok := e.manager.CachedItem("42")
		require.True(t, ok)
		require.Equal(t, "x", cached.Name)
		require.Equal(t, "old", cached.Description)
		other, _ := e.manager.CachedItem("43")
		require.Equal(t, "other", other.Name)
	})

	t.Run("shallow merge keeps local fields", func(t *testing.T) {
		e := newEnv(t, respond(`{"id": 7, "name": "new"}`))
		e.store.ReplaceItems([]models.Item{{ID: "7", Name: "old", Description: "kept", Extra: map[string]json.RawMessage{"tag": []byte(`"a"`)}}}, time.Time{})

		name := "new"
		_, err := e.manager.UpdateItem(t.Context(), "7", models.ItemPatch{Name: &name})

		require.NoError(t, err)
		cached, _ := e.manager.CachedItem("7")
		require.Equal(t, "new", cached.Name)
		require.Equal(t, "kept", cached.Description)
		require.JSONEq(t, `"a"`, string(cached.Extra["tag"]))
	})

	t.Run("not cached returns server record", func(t *testing.T) {
		e := newEnv(t, respond(`{"id": 8, "name": "n", "description": "d"}`))

		desc := "d"
		item, err := e.manager.UpdateItem(t.Context(), "8", models.ItemPatch{Description: &desc})

		require.NoError(t, err)
		require.Equal(t, models.Item{ID: "8", Name: "n", Description: "d"}, item)
		require.Empty(t, e.manager.Items())
	})

	t.Run("unknown id", func(t *testing.T) {
		e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail": "Item not found"}`))
		})
		e.store.ReplaceItems([]models.Item{{ID: "42", Name: "keep"}}, time.Time{})

		name := "x"
		_, err := e.manager.UpdateItem(t.Context(), "42", models.ItemPatch{Name: &name})

		require.ErrorIs(t, err, apperrors.ErrNotFound)
		require.ErrorContains(t, err, "Item not found")
		cached, _ := e.manager.CachedItem("42")
		require.Equal(t, "keep", cached.Name)
	})
}

func TestManager_DeleteItem(t *testing.T) {
	t.Run("absent id with server success", func(t *testing.T) {
		e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodDelete, r.Method)
			require.Equal(t, "/items/99", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		})
		cached := []models.Item{{ID: "1", Name: "desk"}}
		e.store.ReplaceItems(cached, time.Time{})

		err := e.manager.DeleteItem(t.Context(), "99")

		require.NoError(t, err)
		require.Equal(t, cached, e.manager.Items())
	})

	t.Run("removes cached", func(t *testing.T) {
		e := newEnv(t, respond(`{"message": "deleted"}`))
		e.store.ReplaceItems([]models.Item{{ID: "1"}, {ID: "2"}}, time.Time{})

		require.NoError(t, e.manager.DeleteItem(t.Context(), "1"))

		_, ok := e.manager.CachedItem("1")
		require.False(t, ok)
		require.Len(t, e.manager.Items(), 1)
	})

	t.Run("server failure propagates", func(t *testing.T) {
		e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		e.store.ReplaceItems([]models.Item{{ID: "1"}}, time.Time{})

		err := e.manager.DeleteItem(t.Context(), "1")

		require.ErrorIs(t, err, apperrors.ErrNotFound)
		require.Len(t, e.manager.Items(), 1)
	})
}

func TestManager_GetItem(t *testing.T) {
	e := newEnv(t, respond(`{"id": 3, "name": "fresh", "description": "d"}`))
	e.store.ReplaceItems([]models.Item{{ID: "3", Name: "stale"}}, time.Time{})

	item, err := e.manager.GetItem(t.Context(), "3")

	require.NoError(t, err)
	require.Equal(t, "fresh", item.Name)
	cached, _ := e.manager.CachedItem("3")
	require.Equal(t, "fresh", cached.Name)
}

func TestManager_OpaqueIDs(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"id": 1, "name": "desk"}, {"id": "a1b2", "name": "lamp"}]`))
		case http.MethodDelete:
			require.Equal(t, "/items/a%2Fb", r.URL.EscapedPath())
			w.WriteHeader(http.StatusNoContent)
		}
	})

	_, err := e.manager.FetchItems(t.Context())
	require.NoError(t, err)

	lamp, ok := e.manager.CachedItem("a1b2")
	require.True(t, ok)
	require.Equal(t, "lamp", lamp.Name)

	require.NoError(t, e.manager.DeleteItem(t.Context(), "a/b"), "id is escaped in the path")
}

func authedStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.New(session.Config{}, memory.NewStateRepo())
	require.NoError(t, err)
	store.SetAuth(&models.User{ID: "1"}, oauth2.Token{AccessToken: "tok"})
	return store
}

func TestManager_RequiresUser(t *testing.T) {
	store, err := session.New(session.Config{}, memory.NewStateRepo())
	require.NoError(t, err)
	m, err := New(Config{}, forbiddenRequester{t}, store)
	require.NoError(t, err)

	name := "x"
	_, err = m.CreateItem(t.Context(), models.ItemInput{Name: "x"})
	require.ErrorIs(t, err, apperrors.ErrAuthRequired)

	_, err = m.UpdateItem(t.Context(), "1", models.ItemPatch{Name: &name})
	require.ErrorIs(t, err, apperrors.ErrAuthRequired)

	err = m.DeleteItem(t.Context(), "1")
	require.ErrorIs(t, err, apperrors.ErrAuthRequired)
}

package items

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
	"github.com/nkiryanov/itemsadmin/internal/logger"
	"github.com/nkiryanov/itemsadmin/internal/models"
	"github.com/nkiryanov/itemsadmin/internal/service/gateway"
	"github.com/nkiryanov/itemsadmin/internal/service/validate"
	"github.com/nkiryanov/itemsadmin/internal/session"
)

const DefaultFetchWindow = 30 * time.Second

// Requester issues authenticated calls
type Requester interface {
	Request(ctx context.Context, method string, endpoint string, body any, out any, opts ...gateway.Option) error
}

// Manager config with sensible defaults
type Config struct {
	// Refetch is skipped while the cache is younger than this
	// If not set than default is used
	FetchWindow time.Duration

	// Clock, time.Now if not set
	Now func() time.Time

	Logger logger.Logger
}

// Manager keeps the cached item collection in sync with the server
type Manager struct {
	requester   Requester
	store       *session.Store
	fetchWindow time.Duration
	now         func() time.Time
	logger      logger.Logger
}

func New(cfg Config, requester Requester, store *session.Store) (*Manager, error) {
	if requester == nil || store == nil {
		return nil, errors.New("requester and store must not be nil")
	}
	if cfg.FetchWindow == 0 {
		cfg.FetchWindow = DefaultFetchWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &Manager{
		requester:   requester,
		store:       store,
		fetchWindow: cfg.FetchWindow,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}, nil
}

// FetchItems replaces the cache with the server list.
// It is a no-op while the last fetch is inside the fetch window.
// Returns true if the network was hit.
func (m *Manager) FetchItems(ctx context.Context) (bool, error) {
	if last := m.store.LastFetch(); !last.IsZero() && m.now().Sub(last) < m.fetchWindow {
		m.logger.Debug("Items fetch skipped", "last_fetch", last)
		return false, nil
	}

	var items []models.Item
	if err := m.requester.Request(ctx, http.MethodGet, "/items/", nil, &items); err != nil {
		return true, fmt.Errorf("can't fetch items: %w", err)
	}

	m.store.ReplaceItems(items, m.now())
	m.persist(ctx)
	return true, nil
}

// GetItem loads single item; a cached copy is refreshed with the server version
func (m *Manager) GetItem(ctx context.Context, id models.ID) (models.Item, error) {
	var raw json.RawMessage
	if err := m.requester.Request(ctx, http.MethodGet, itemPath(id), nil, &raw); err != nil {
		return models.Item{}, fmt.Errorf("can't get item %s: %w", id, err)
	}

	var item models.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.Item{}, fmt.Errorf("can't decode item %s: %w", id, err)
	}

	found, err := m.store.UpdateItem(id, func(cached models.Item) (models.Item, error) {
		return cached.Merge(raw)
	})
	if err != nil {
		m.logger.Warn("Failed to merge fetched item into cache", "id", id, "error", err)
	}
	if found {
		m.persist(ctx)
	}

	return item, nil
}

// CreateItem posts a new item and appends the server record to the cache.
// The fetch time is left as is.
func (m *Manager) CreateItem(ctx context.Context, input models.ItemInput) (models.Item, error) {
	if err := m.requireUser(); err != nil {
		return models.Item{}, err
	}
	if err := validate.Struct(input); err != nil {
		return models.Item{}, err
	}

	var item models.Item
	if err := m.requester.Request(ctx, http.MethodPost, "/items/", input, &item); err != nil {
		return models.Item{}, fmt.Errorf("can't create item: %w", err)
	}

	m.store.AppendItem(item)
	m.persist(ctx)
	return item, nil
}

// UpdateItem puts the patch and merges returned fields into the cached item (server fields win).
// Returns the merged cached item, or the server record when the item is not cached.
func (m *Manager) UpdateItem(ctx context.Context, id models.ID, patch models.ItemPatch) (models.Item, error) {
	if err := m.requireUser(); err != nil {
		return models.Item{}, err
	}
	if err := validate.Struct(patch); err != nil {
		return models.Item{}, err
	}

	var raw json.RawMessage
	if err := m.requester.Request(ctx, http.MethodPut, itemPath(id), patch, &raw); err != nil {
		return models.Item{}, fmt.Errorf("can't update item %s: %w", id, err)
	}
	// Empty response: apply what was sent
	if len(raw) == 0 {
		data, err := json.Marshal(patch)
		if err != nil {
			return models.Item{}, err
		}
		raw = data
	}

	var merged models.Item
	found, err := m.store.UpdateItem(id, func(cached models.Item) (models.Item, error) {
		var err error
		merged, err = cached.Merge(raw)
		return merged, err
	})
	if err != nil {
		return models.Item{}, fmt.Errorf("can't merge updated item %s: %w", id, err)
	}

	if !found {
		if err := json.Unmarshal(raw, &merged); err != nil {
			return models.Item{}, fmt.Errorf("can't decode item %s: %w", id, err)
		}
		if merged.ID.IsZero() {
			merged.ID = id
		}
		return merged, nil
	}

	m.persist(ctx)
	return merged, nil
}

// DeleteItem deletes on the server and drops cached copy, if any
func (m *Manager) DeleteItem(ctx context.Context, id models.ID) error {
	if err := m.requireUser(); err != nil {
		return err
	}

	if err := m.requester.Request(ctx, http.MethodDelete, itemPath(id), nil, nil); err != nil {
		return fmt.Errorf("can't delete item %s: %w", id, err)
	}

	if m.store.RemoveItem(id) {
		m.persist(ctx)
	}
	return nil
}

func (m *Manager) Items() []models.Item {
	return m.store.Items()
}

func (m *Manager) CachedItem(id models.ID) (models.Item, bool) {
	return m.store.ItemByID(id)
}

// Invalidate forces the next fetch to hit the network, cached items are kept
func (m *Manager) Invalidate(ctx context.Context) {
	m.store.InvalidateItems()
	m.persist(ctx)
}

// ResetItems drops the cache
func (m *Manager) ResetItems(ctx context.Context) {
	m.store.ResetItems()
	m.persist(ctx)
}

func (m *Manager) requireUser() error {
	if m.store.User() == nil {
		return apperrors.ErrAuthRequired
	}
	return nil
}

func (m *Manager) persist(ctx context.Context) {
	if err := m.store.Save(ctx); err != nil {
		m.logger.Error("Failed to persist items", "error", err)
	}
}

func itemPath(id models.ID) string {
	return "/items/" + url.PathEscape(id.String())
}

package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
	"github.com/nkiryanov/itemsadmin/internal/models"
	"github.com/nkiryanov/itemsadmin/internal/repository"
)

const DefaultKey = "itemsadmin-storage"

// Store config with sensible defaults
type Config struct {
	// Namespaced key the state is persisted under
	// If not set than default is used
	Key string

	// Hex encoded secret to seal persisted state
	// If empty the state is persisted as plain JSON
	SecretKey string
}

// Store owns the client state. Every mutation replaces the state under the lock
// in one step, so concurrent operations interleave but never see partial updates.
// Persistence is explicit: Load at startup, Save after mutations.
type Store struct {
	mu    sync.RWMutex
	state State

	key    string
	repo   repository.StateRepo
	sealer *sealer

	hydrated     chan struct{}
	hydratedOnce sync.Once
}

func New(cfg Config, repo repository.StateRepo) (*Store, error) {
	if repo == nil {
		return nil, errors.New("state repo must not be nil")
	}

	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}

	s := &Store{
		state:    emptyState(),
		key:      cfg.Key,
		repo:     repo,
		hydrated: make(chan struct{}),
	}

	if cfg.SecretKey != "" {
		sl, err := newSealer(cfg.SecretKey)
		if err != nil {
			return nil, err
		}
		s.sealer = sl
	}

	return s, nil
}

// Hydrated is closed once Load finished, whatever the result
func (s *Store) Hydrated() <-chan struct{} {
	return s.hydrated
}

// Load restores persisted state. Missing state is not an error: the store stays empty
// On decode errors the store stays empty and error is returned
func (s *Store) Load(ctx context.Context) error {
	defer s.hydratedOnce.Do(func() { close(s.hydrated) })

	data, err := s.repo.Load(ctx, s.key)
	switch {
	case errors.Is(err, apperrors.ErrStateNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("can't load state: %w", err)
	}

	switch {
	case s.sealer != nil:
		data, err = s.sealer.open(data)
		if err != nil {
			return fmt.Errorf("can't load state: %w", err)
		}
	case isSealed(data):
		return fmt.Errorf("can't load state: %w", ErrSealed)
	}

	state, err := decodeState(data)
	if err != nil {
		return fmt.Errorf("can't decode state: %w", err)
	}

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	return nil
}

// Save persists current state snapshot
func (s *Store) Save(ctx context.Context) error {
	data, err := encodeState(s.Snapshot())
	if err != nil {
		return fmt.Errorf("can't encode state: %w", err)
	}

	if s.sealer != nil {
		data, err = s.sealer.seal(data)
		if err != nil {
			return err
		}
	}

	if err := s.repo.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("can't save state: %w", err)
	}
	return nil
}

// Purge resets the state and removes persisted document
func (s *Store) Purge(ctx context.Context) error {
	s.mu.Lock()
	s.state = emptyState()
	s.mu.Unlock()

	if err := s.repo.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("can't purge state: %w", err)
	}
	return nil
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *Store) User() *models.User {
	return s.Snapshot().User
}

func (s *Store) Token() oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Token
}

// SetAuth replaces identity and credential together
func (s *Store) SetAuth(user *models.User, token oauth2.Token) {
	if token.TokenType == "" {
		token.TokenType = models.DefaultTokenType
	}
	if user != nil {
		u := *user
		user = &u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.User = user
	s.state.Token = token
}

func (s *Store) ClearAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.User = nil
	s.state.Token = oauth2.Token{TokenType: models.DefaultTokenType}
}

func (s *Store) Items() []models.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Items)
}

func (s *Store) LastFetch() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LastFetch
}

func (s *Store) ItemByID(id models.ID) (models.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return models.Item{}, false
	}
	return s.state.Items[idx], true
}

// ReplaceItems sets the whole collection and stamps the fetch time
func (s *Store) ReplaceItems(items []models.Item, fetchedAt time.Time) {
	items = slices.Clone(items)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Items = items
	s.state.LastFetch = fetchedAt
}

func (s *Store) AppendItem(item models.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Items = append(slices.Clone(s.state.Items), item)
}

// UpdateItem replaces cached item with fn result
// Returns false if there is no cached item with the id
func (s *Store) UpdateItem(id models.ID, fn func(models.Item) (models.Item, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false, nil
	}

	updated, err := fn(s.state.Items[idx])
	if err != nil {
		return true, err
	}

	items := slices.Clone(s.state.Items)
	items[idx] = updated
	s.state.Items = items
	return true, nil
}

// RemoveItem removes cached item, removing absent item is no-op
func (s *Store) RemoveItem(id models.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	s.state.Items = slices.Delete(slices.Clone(s.state.Items), idx, idx+1)
	return true
}

// ResetItems drops cached items and fetch time
func (s *Store) ResetItems() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Items = nil
	s.state.LastFetch = time.Time{}
}

// InvalidateItems keeps items but forces the next fetch
func (s *Store) InvalidateItems() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastFetch = time.Time{}
}

// Must be called with lock held
func (s *Store) indexOf(id models.ID) int {
	return slices.IndexFunc(s.state.Items, func(item models.Item) bool {
		return item.ID == id
	})
}

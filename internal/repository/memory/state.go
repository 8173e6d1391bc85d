package memory

import (
	"context"
	"sync"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
)

// In-memory state repository. Nothing survives the process
type StateRepo struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewStateRepo() *StateRepo {
	return &StateRepo{docs: make(map[string][]byte)}
}

func (r *StateRepo) Load(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.docs[key]
	if !ok {
		return nil, apperrors.ErrStateNotFound
	}
	return append([]byte(nil), data...), nil
}

func (r *StateRepo) Save(_ context.Context, key string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.docs[key] = append([]byte(nil), data...)
	return nil
}

func (r *StateRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.docs, key)
	return nil
}

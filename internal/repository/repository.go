package repository

import (
	"context"
)

// State repository keeps opaque client state documents under a namespaced key
//
//go:generate mockgen -source=repository.go -destination=mocks/repository.go -package=mocks
type StateRepo interface {
	// Load document saved under the key
	// If nothing saved has to return apperrors.ErrStateNotFound
	Load(ctx context.Context, key string) ([]byte, error)

	// Create or replace document
	Save(ctx context.Context, key string, data []byte) error

	// Delete document
	// Deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
}

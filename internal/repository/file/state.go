package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
)

// Only these symbols are allowed in the key, so it's safe as file name
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// File state repository: one file per key in the directory
type StateRepo struct {
	fs  afero.Fs
	dir string
}

func NewStateRepo(fs afero.Fs, dir string) *StateRepo {
	return &StateRepo{fs: fs, dir: dir}
}

func (r *StateRepo) Load(_ context.Context, key string) ([]byte, error) {
	path, err := r.path(key)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(r.fs, path)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, apperrors.ErrStateNotFound
	default:
		return nil, fmt.Errorf("fs error: %w", err)
	}
}

// Save writes document to temporary file and renames it, so readers never see partial state
func (r *StateRepo) Save(_ context.Context, key string, data []byte) error {
	path, err := r.path(key)
	if err != nil {
		return err
	}

	if err := r.fs.MkdirAll(r.dir, 0o700); err != nil {
		return fmt.Errorf("fs error: %w", err)
	}

	// Unique temporary name, concurrent saves must not share it
	f, err := afero.TempFile(r.fs, r.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("fs error: %w", err)
	}
	tmp := f.Name()

	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = r.fs.Remove(tmp)
		return fmt.Errorf("fs error: %w", err)
	}

	if err := r.fs.Rename(tmp, path); err != nil {
		_ = r.fs.Remove(tmp)
		return fmt.Errorf("fs error: %w", err)
	}

	return nil
}

func (r *StateRepo) Delete(_ context.Context, key string) error {
	path, err := r.path(key)
	if err != nil {
		return err
	}

	err = r.fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fs error: %w", err)
	}
	return nil
}

func (r *StateRepo) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid state key %q", key)
	}
	return filepath.Join(r.dir, key+".json"), nil
}

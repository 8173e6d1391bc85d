package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
)

var errNotMigrated = errors.New("client_state table not found, migrations are not applied")

type StateRepo struct {
	DB DBTX
}

const loadState = `-- name: LoadState
SELECT data FROM client_state
WHERE key = $1
`

func (r *StateRepo) Load(ctx context.Context, key string) ([]byte, error) {
	rows, _ := r.DB.Query(ctx, loadState, key)
	data, err := pgx.CollectOneRow(rows, pgx.RowTo[[]byte])

	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, apperrors.ErrStateNotFound
	default:
		return nil, dbError(err)
	}
}

const saveState = `-- name: SaveState
INSERT INTO client_state (key, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE
SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
`

func (r *StateRepo) Save(ctx context.Context, key string, data []byte) error {
	_, err := r.DB.Exec(ctx, saveState, key, data)
	if err != nil {
		return dbError(err)
	}
	return nil
}

const deleteState = `-- name: DeleteState
DELETE FROM client_state
WHERE key = $1
`

func (r *StateRepo) Delete(ctx context.Context, key string) error {
	_, err := r.DB.Exec(ctx, deleteState, key)
	if err != nil {
		return dbError(err)
	}
	return nil
}

func dbError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("db error: %w", errNotMigrated)
	}
	return fmt.Errorf("db error: %w", err)
}

package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/storeerr"
)

// SQLiteStore is the local file-embedded checkpoint backing, the
// alternative to the client-server one for single-operator
// deployments without a Postgres server.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens the database at path and asserts the expected
// schema, refusing to operate if it is absent.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeerr.Wrap("open", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.assertSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) assertSchema(ctx context.Context) error {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='mp_checkpoints'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("checkpoint: table mp_checkpoints does not exist; run the external migration before opening the store")
	}
	if err != nil {
		return storeerr.Wrap("assert schema", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, symbol bar.Symbol) (int64, bool, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor_nanos FROM mp_checkpoints WHERE symbol = ?`, symbol.String(),
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeerr.Wrap("get", err)
	}
	return cursor, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, symbol bar.Symbol, cursorNanos int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mp_checkpoints (symbol, cursor_nanos, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			cursor_nanos = excluded.cursor_nanos,
			updated_at = CURRENT_TIMESTAMP`,
		symbol.String(), cursorNanos,
	)
	return storeerr.Wrap("set", err)
}

func (s *SQLiteStore) Clear(ctx context.Context, symbol bar.Symbol) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mp_checkpoints WHERE symbol = ?`, symbol.String())
	return storeerr.Wrap("clear", err)
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

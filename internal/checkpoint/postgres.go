package checkpoint

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/storeerr"
)

// PostgresStore is the client-server checkpoint backing, one row per
// symbol updated with "INSERT ... ON CONFLICT DO UPDATE".
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore connects to dbURL and asserts the expected schema,
// refusing to operate otherwise; it never creates or migrates the
// table itself.
func OpenPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, storeerr.Wrap("open", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.assertSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) assertSchema(ctx context.Context) error {
	const q = `SELECT to_regclass('mp_checkpoints')`
	var name *string
	if err := s.pool.QueryRow(ctx, q).Scan(&name); err != nil {
		return storeerr.Wrap("assert schema", err)
	}
	if name == nil {
		return fmt.Errorf("checkpoint: table mp_checkpoints does not exist; run the external migration before opening the store")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, symbol bar.Symbol) (int64, bool, error) {
	var cursor int64
	err := s.pool.QueryRow(ctx,
		`SELECT cursor_nanos FROM mp_checkpoints WHERE symbol = $1`,
		symbol.String(),
	).Scan(&cursor)
	if err == pgx.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeerr.Wrap("get", err)
	}
	return cursor, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, symbol bar.Symbol, cursorNanos int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mp_checkpoints (symbol, cursor_nanos, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			cursor_nanos = EXCLUDED.cursor_nanos,
			updated_at = NOW()`,
		symbol.String(), cursorNanos,
	)
	return storeerr.Wrap("set", err)
}

func (s *PostgresStore) Clear(ctx context.Context, symbol bar.Symbol) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM mp_checkpoints WHERE symbol = $1`, symbol.String())
	return storeerr.Wrap("clear", err)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

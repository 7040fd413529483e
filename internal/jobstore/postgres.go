package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/job"
	"github.com/joeyda3rd/marketpipe/internal/storeerr"
)

// PostgresRepository is the client-server job backing: optimistic
// insert on first save, then conditional updates guarded by the
// version token.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// OpenPostgresRepository connects to dbURL and asserts the expected schema.
func OpenPostgresRepository(ctx context.Context, dbURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, storeerr.Wrap("open", err)
	}
	r := &PostgresRepository{pool: pool}
	if err := r.assertSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *PostgresRepository) assertSchema(ctx context.Context) error {
	const q = `SELECT to_regclass('mp_jobs')`
	var name *string
	if err := r.pool.QueryRow(ctx, q).Scan(&name); err != nil {
		return storeerr.Wrap("assert schema", err)
	}
	if name == nil {
		return fmt.Errorf("jobstore: table mp_jobs does not exist; run the external migration before opening the repository")
	}
	return nil
}

func (r *PostgresRepository) Save(ctx context.Context, j *job.IngestionJob, expectedVersion int64) (int64, error) {
	key := j.ID.String()

	if expectedVersion == 0 {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO mp_jobs
				(job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
				 state, bar_count, error, started_at, completed_at, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			key, j.Symbol.String(), j.TradingDate.String(),
			j.Range.Start.UnixNano(), j.Range.End.UnixNano(),
			string(j.State), j.BarCount, j.Error, j.StartedAt, j.CompletedAt, j.Version,
		)
		if isUniqueViolation(err) {
			return 0, &storeerr.DuplicateKey{Resource: "job", Key: key}
		}
		if err != nil {
			return 0, storeerr.Wrap("save", err)
		}
		return j.Version, nil
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE mp_jobs SET
			state = $1, bar_count = $2, error = $3, started_at = $4,
			completed_at = $5, version = $6
		WHERE job_id = $7 AND version = $8`,
		string(j.State), j.BarCount, j.Error, j.StartedAt, j.CompletedAt, j.Version,
		key, expectedVersion,
	)
	if err != nil {
		return 0, storeerr.Wrap("save", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, &storeerr.ConcurrencyError{Resource: "job", Key: key, ExpectedVersion: expectedVersion}
	}
	return j.Version, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id bar.IngestionJobId) (job.IngestionJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
		       state, bar_count, error, started_at, completed_at, version
		FROM mp_jobs WHERE job_id = $1`, id.String())
	j, err := scanJob(row.Scan)
	if err == pgx.ErrNoRows {
		return job.IngestionJob{}, &storeerr.NotFound{Resource: "job", Key: id.String()}
	}
	if err != nil {
		return job.IngestionJob{}, storeerr.Wrap("get", err)
	}
	return j, nil
}

func (r *PostgresRepository) ListByState(ctx context.Context, state job.State) ([]job.IngestionJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
		       state, bar_count, error, started_at, completed_at, version
		FROM mp_jobs WHERE state = $1 ORDER BY job_id`, string(state))
	if err != nil {
		return nil, storeerr.Wrap("list_by_state", err)
	}
	defer rows.Close()
	return collectJobRows(rows)
}

func (r *PostgresRepository) ListByDate(ctx context.Context, date bar.TradingDate) ([]job.IngestionJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
		       state, bar_count, error, started_at, completed_at, version
		FROM mp_jobs WHERE trading_date = $1 ORDER BY job_id`, date.String())
	if err != nil {
		return nil, storeerr.Wrap("list_by_date", err)
	}
	defer rows.Close()
	return collectJobRows(rows)
}

func (r *PostgresRepository) ListBySymbol(ctx context.Context, symbol bar.Symbol) ([]job.IngestionJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
		       state, bar_count, error, started_at, completed_at, version
		FROM mp_jobs WHERE symbol = $1 ORDER BY job_id`, symbol.String())
	if err != nil {
		return nil, storeerr.Wrap("list_by_symbol", err)
	}
	defer rows.Close()
	return collectJobRows(rows)
}

// DeleteBefore removes every job dated strictly before cutoff.
func (r *PostgresRepository) DeleteBefore(ctx context.Context, cutoff bar.TradingDate) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM mp_jobs WHERE trading_date < $1`, cutoff.String())
	if err != nil {
		return 0, storeerr.Wrap("delete_before", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectJobRows(rows pgx.Rows) ([]job.IngestionJob, error) {
	var out []job.IngestionJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, storeerr.Wrap("scan", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// scanJob decodes one row via the caller's scan function (pgx.Row.Scan or
// pgx.Rows.Scan share the same signature), shared between Postgres and
// the single-row / multi-row query paths.
func scanJob(scan func(...interface{}) error) (job.IngestionJob, error) {
	var (
		jobID, symbolStr, dateStr, state, errMsg string
		startNanos, endNanos, barCount, version  int64
		startedAt, completedAt                   *time.Time
	)
	if err := scan(&jobID, &symbolStr, &dateStr, &startNanos, &endNanos,
		&state, &barCount, &errMsg, &startedAt, &completedAt, &version); err != nil {
		return job.IngestionJob{}, err
	}

	symbol := bar.MustSymbol(symbolStr)
	date, err := bar.NewTradingDate(dateStr)
	if err != nil {
		return job.IngestionJob{}, err
	}
	r, err := bar.NewTimeRange(bar.TimestampFromNanos(startNanos), bar.TimestampFromNanos(endNanos))
	if err != nil {
		return job.IngestionJob{}, err
	}

	return job.IngestionJob{
		ID:          bar.NewIngestionJobId(symbol, date),
		Symbol:      symbol,
		TradingDate: date,
		Range:       r,
		State:       job.State(state),
		BarCount:    int(barCount),
		Error:       errMsg,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Version:     version,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() { r.pool.Close() }

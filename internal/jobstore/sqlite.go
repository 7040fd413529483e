package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/job"
	"github.com/joeyda3rd/marketpipe/internal/storeerr"
)

// SQLiteRepository is the local file-embedded job backing.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLiteRepository opens the database at path and asserts the
// expected schema.
func OpenSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storeerr.Wrap("open", err)
	}
	r := &SQLiteRepository{db: db}
	if err := r.assertSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) assertSchema(ctx context.Context) error {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='mp_jobs'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return fmt.Errorf("jobstore: table mp_jobs does not exist; run the external migration before opening the repository")
	}
	if err != nil {
		return storeerr.Wrap("assert schema", err)
	}
	return nil
}

func (r *SQLiteRepository) Save(ctx context.Context, j *job.IngestionJob, expectedVersion int64) (int64, error) {
	key := j.ID.String()

	if expectedVersion == 0 {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO mp_jobs
				(job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
				 state, bar_count, error, started_at, completed_at, version)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			key, j.Symbol.String(), j.TradingDate.String(),
			j.Range.Start.UnixNano(), j.Range.End.UnixNano(),
			string(j.State), j.BarCount, j.Error, nullableTime(j.StartedAt), nullableTime(j.CompletedAt), j.Version,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return 0, &storeerr.DuplicateKey{Resource: "job", Key: key}
			}
			return 0, storeerr.Wrap("save", err)
		}
		return j.Version, nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE mp_jobs SET
			state = ?, bar_count = ?, error = ?, started_at = ?,
			completed_at = ?, version = ?
		WHERE job_id = ? AND version = ?`,
		string(j.State), j.BarCount, j.Error, nullableTime(j.StartedAt), nullableTime(j.CompletedAt), j.Version,
		key, expectedVersion,
	)
	if err != nil {
		return 0, storeerr.Wrap("save", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeerr.Wrap("save", err)
	}
	if n == 0 {
		return 0, &storeerr.ConcurrencyError{Resource: "job", Key: key, ExpectedVersion: expectedVersion}
	}
	return j.Version, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id bar.IngestionJobId) (job.IngestionJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
		       state, bar_count, error, started_at, completed_at, version
		FROM mp_jobs WHERE job_id = ?`, id.String())
	j, err := scanSQLiteJob(row.Scan)
	if err == sql.ErrNoRows {
		return job.IngestionJob{}, &storeerr.NotFound{Resource: "job", Key: id.String()}
	}
	if err != nil {
		return job.IngestionJob{}, storeerr.Wrap("get", err)
	}
	return j, nil
}

func (r *SQLiteRepository) ListByState(ctx context.Context, state job.State) ([]job.IngestionJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
		       state, bar_count, error, started_at, completed_at, version
		FROM mp_jobs WHERE state = ? ORDER BY job_id`, string(state))
	if err != nil {
		return nil, storeerr.Wrap("list_by_state", err)
	}
	defer rows.Close()
	return collectSQLiteRows(rows)
}

func (r *SQLiteRepository) ListByDate(ctx context.Context, date bar.TradingDate) ([]job.IngestionJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
		       state, bar_count, error, started_at, completed_at, version
		FROM mp_jobs WHERE trading_date = ? ORDER BY job_id`, date.String())
	if err != nil {
		return nil, storeerr.Wrap("list_by_date", err)
	}
	defer rows.Close()
	return collectSQLiteRows(rows)
}

func (r *SQLiteRepository) ListBySymbol(ctx context.Context, symbol bar.Symbol) ([]job.IngestionJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, symbol, trading_date, range_start_nanos, range_end_nanos,
		       state, bar_count, error, started_at, completed_at, version
		FROM mp_jobs WHERE symbol = ? ORDER BY job_id`, symbol.String())
	if err != nil {
		return nil, storeerr.Wrap("list_by_symbol", err)
	}
	defer rows.Close()
	return collectSQLiteRows(rows)
}

// DeleteBefore removes every job dated strictly before cutoff.
func (r *SQLiteRepository) DeleteBefore(ctx context.Context, cutoff bar.TradingDate) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mp_jobs WHERE trading_date < ?`, cutoff.String())
	if err != nil {
		return 0, storeerr.Wrap("delete_before", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeerr.Wrap("delete_before", err)
	}
	return int(n), nil
}

func collectSQLiteRows(rows *sql.Rows) ([]job.IngestionJob, error) {
	var out []job.IngestionJob
	for rows.Next() {
		j, err := scanSQLiteJob(rows.Scan)
		if err != nil {
			return nil, storeerr.Wrap("scan", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanSQLiteJob(scan func(...interface{}) error) (job.IngestionJob, error) {
	var (
		jobID, symbolStr, dateStr, state, errMsg string
		startNanos, endNanos, barCount, version  int64
		startedAt, completedAt                   sql.NullTime
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

	j := job.IngestionJob{
		ID:          bar.NewIngestionJobId(symbol, date),
		Symbol:      symbol,
		TradingDate: date,
		Range:       r,
		State:       job.State(state),
		BarCount:    int(barCount),
		Error:       errMsg,
		Version:     version,
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error { return r.db.Close() }

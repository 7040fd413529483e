// Package jobstore implements the Job Repository: CRUD over
// job.IngestionJob with an optimistic-concurrency version token. Two
// concrete backings are provided (Postgres, SQLite), plus an in-memory
// fake for tests.
package jobstore

import (
	"context"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/job"
)

// Repository is the job persistence capability.
type Repository interface {
	// Save persists j. expectedVersion is the version the caller last
	// observed (0 for a job never before saved); on a mismatch the store
	// returns *storeerr.ConcurrencyError and leaves the stored row
	// untouched. On success it returns j.Version (the newly stored
	// version, which the caller already computed via the job's state
	// transition methods).
	Save(ctx context.Context, j *job.IngestionJob, expectedVersion int64) (newVersion int64, err error)
	Get(ctx context.Context, id bar.IngestionJobId) (job.IngestionJob, error)
	ListByState(ctx context.Context, state job.State) ([]job.IngestionJob, error)
	ListByDate(ctx context.Context, date bar.TradingDate) ([]job.IngestionJob, error)
	ListBySymbol(ctx context.Context, symbol bar.Symbol) ([]job.IngestionJob, error)
	// DeleteBefore removes every job whose TradingDate is strictly
	// earlier than cutoff, returning the number of rows removed.
	DeleteBefore(ctx context.Context, cutoff bar.TradingDate) (int, error)
}

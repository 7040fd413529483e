// Package checkpoint implements the per-symbol cursor store: the
// largest timestamp successfully persisted for each symbol,
// used to resume an interrupted ingest. Two concrete backings are
// provided (Postgres, SQLite) behind the same Store capability, plus an
// in-memory fake for tests.
package checkpoint

import (
	"context"

	"github.com/joeyda3rd/marketpipe/internal/bar"
)

// Store is the checkpoint capability. Set is last-writer-wins;
// checkpoints are advisory (worst case a reingest overwrites
// duplicates), so no optimistic concurrency is needed here (contrast
// jobstore.Repository).
type Store interface {
	// Get returns the symbol's cursor in nanoseconds and true, or
	// (0, false, nil) if no checkpoint has been recorded yet.
	Get(ctx context.Context, symbol bar.Symbol) (cursorNanos int64, found bool, err error)
	Set(ctx context.Context, symbol bar.Symbol, cursorNanos int64) error
	Clear(ctx context.Context, symbol bar.Symbol) error
}

// EffectiveStart computes the resume cursor: a resumed ingest starts at
// max(requested_start, checkpoint + 1).
func EffectiveStart(ctx context.Context, store Store, symbol bar.Symbol, requestedStartNanos int64) (int64, error) {
	cursor, found, err := store.Get(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if !found {
		return requestedStartNanos, nil
	}
	resume := cursor + 1
	if resume > requestedStartNanos {
		return resume, nil
	}
	return requestedStartNanos, nil
}

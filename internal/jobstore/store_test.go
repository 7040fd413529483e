package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/job"
	"github.com/joeyda3rd/marketpipe/internal/storeerr"
)

func newTestJob(t *testing.T) job.IngestionJob {
	t.Helper()
	date, err := bar.NewTradingDate("2025-01-02")
	if err != nil {
		t.Fatal(err)
	}
	r, err := bar.NewTimeRange(bar.TimestampFromNanos(0), bar.TimestampFromNanos(bar.NanosPerMinute))
	if err != nil {
		t.Fatal(err)
	}
	return job.New(bar.MustSymbol("AAPL"), date, r)
}

func TestMemoryRepository_SaveCreatesThenGetRoundTrips(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	j := newTestJob(t)

	if _, err := repo.Save(ctx, &j, 0); err != nil {
		t.Fatalf("Save (create): %v", err)
	}
	got, err := repo.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != job.StatePending {
		t.Fatalf("state = %s, want pending", got.State)
	}
}

func TestMemoryRepository_SaveWithStaleVersionConflicts(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	j := newTestJob(t)
	if _, err := repo.Save(ctx, &j, 0); err != nil {
		t.Fatalf("Save (create): %v", err)
	}

	if err := j.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Save(ctx, &j, 1); err != nil {
		t.Fatalf("Save (start): %v", err)
	}

	// Simulate a second writer racing with a stale version.
	stale := newTestJob(t)
	_ = stale.Start(time.Now())
	_, err := repo.Save(ctx, &stale, 1) // already advanced to version 2 in the store
	if err == nil {
		t.Fatal("expected ConcurrencyError on stale version")
	}
	if _, ok := err.(*storeerr.ConcurrencyError); !ok {
		t.Fatalf("expected *storeerr.ConcurrencyError, got %T: %v", err, err)
	}
}

func TestMemoryRepository_GetMissingReturnsNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.Get(context.Background(), bar.NewIngestionJobId(bar.MustSymbol("MSFT"), mustDate(t, "2025-01-02")))
	if _, ok := err.(*storeerr.NotFound); !ok {
		t.Fatalf("expected *storeerr.NotFound, got %T: %v", err, err)
	}
}

func TestMemoryRepository_ListByState(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	pending := newTestJob(t)
	if _, err := repo.Save(ctx, &pending, 0); err != nil {
		t.Fatal(err)
	}

	date, _ := bar.NewTradingDate("2025-01-03")
	r, _ := bar.NewTimeRange(bar.TimestampFromNanos(0), bar.TimestampFromNanos(bar.NanosPerMinute))
	inProgress := job.New(bar.MustSymbol("MSFT"), date, r)
	_ = inProgress.Start(time.Now())
	if _, err := repo.Save(ctx, &inProgress, 0); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ListByState(ctx, job.StatePending)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(got) != 1 || got[0].Symbol.String() != "AAPL" {
		t.Fatalf("ListByState(pending) = %+v, want exactly the AAPL job", got)
	}
}

func TestMemoryRepository_VersionStrictlyIncreasesAcrossSaves(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	j := newTestJob(t)

	v1, err := repo.Save(ctx, &j, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	v2, err := repo.Save(ctx, &j, v1)
	if err != nil {
		t.Fatal(err)
	}
	if v2 <= v1 {
		t.Fatalf("version did not strictly increase: %d -> %d", v1, v2)
	}
}

func mustDate(t *testing.T, s string) bar.TradingDate {
	t.Helper()
	d, err := bar.NewTradingDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

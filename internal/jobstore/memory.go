package jobstore

import (
	"context"
	"sync"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/job"
	"github.com/joeyda3rd/marketpipe/internal/storeerr"
)

// MemoryRepository is an in-memory Repository, safe for concurrent use,
// for tests and single-process deployments.
type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[string]job.IngestionJob
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]job.IngestionJob)}
}

func (r *MemoryRepository) Save(_ context.Context, j *job.IngestionJob, expectedVersion int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := j.ID.String()
	existing, ok := r.jobs[key]
	if !ok {
		if expectedVersion != 0 {
			return 0, &storeerr.ConcurrencyError{Resource: "job", Key: key, ExpectedVersion: expectedVersion}
		}
	} else if existing.Version != expectedVersion {
		return 0, &storeerr.ConcurrencyError{Resource: "job", Key: key, ExpectedVersion: expectedVersion}
	}

	r.jobs[key] = *j
	return j.Version, nil
}

func (r *MemoryRepository) Get(_ context.Context, id bar.IngestionJobId) (job.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id.String()]
	if !ok {
		return job.IngestionJob{}, &storeerr.NotFound{Resource: "job", Key: id.String()}
	}
	return j, nil
}

func (r *MemoryRepository) ListByState(_ context.Context, state job.State) ([]job.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []job.IngestionJob
	for _, j := range r.jobs {
		if j.State == state {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListByDate(_ context.Context, date bar.TradingDate) ([]job.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []job.IngestionJob
	for _, j := range r.jobs {
		if j.TradingDate.Equal(date) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListBySymbol(_ context.Context, symbol bar.Symbol) ([]job.IngestionJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []job.IngestionJob
	for _, j := range r.jobs {
		if j.Symbol == symbol {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *MemoryRepository) DeleteBefore(_ context.Context, cutoff bar.TradingDate) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, j := range r.jobs {
		if j.TradingDate.Before(cutoff) {
			delete(r.jobs, key)
			n++
		}
	}
	return n, nil
}

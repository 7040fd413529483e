package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/checkpoint"
	"github.com/joeyda3rd/marketpipe/internal/eventbus"
	"github.com/joeyda3rd/marketpipe/internal/job"
	"github.com/joeyda3rd/marketpipe/internal/jobstore"
	"github.com/joeyda3rd/marketpipe/internal/provider/fakeprovider"
	"github.com/joeyda3rd/marketpipe/internal/storage"
)

func newHarness(t *testing.T) (*storage.Engine, *jobstore.MemoryRepository, *checkpoint.MemoryStore, *eventbus.Bus) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	return store, jobstore.NewMemoryRepository(), checkpoint.NewMemoryStore(), eventbus.New(nil)
}

// The fake provider emits the 09:30-16:00 regular session, one bar per
// minute.
const sessionBarsPerDay = 390

// Scenario 1: happy path, single symbol, single date, vendor healthy.
func TestExecuteJob_HappyPath(t *testing.T) {
	store, jobs, checkpoints, bus := newHarness(t)
	prov := fakeprovider.New(nil)

	var completedEvt *eventbus.IngestionJobCompleted
	bus.Subscribe(eventbus.TypeIngestionJobCompleted, func(e eventbus.Event) {
		evt := e.(eventbus.IngestionJobCompleted)
		completedEvt = &evt
	})

	c := New(store, jobs, checkpoints, bus, prov, Config{MaxWorkers: 2}, nil)

	date, _ := bar.NewTradingDate("2025-01-02")
	symbol := bar.MustSymbol("AAPL")

	result, err := c.ExecuteJob(context.Background(), []bar.Symbol{symbol}, []bar.TradingDate{date})
	if err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}
	if len(result.Completed()) != 1 || len(result.Failed()) != 0 {
		t.Fatalf("got %d completed, %d failed, want 1/0", len(result.Completed()), len(result.Failed()))
	}
	if result.Results[0].BarCount != sessionBarsPerDay {
		t.Errorf("bar count = %d, want %d", result.Results[0].BarCount, sessionBarsPerDay)
	}

	stored, err := jobs.Get(context.Background(), result.Results[0].JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.State != job.StateCompleted {
		t.Errorf("stored state = %s, want completed", stored.State)
	}

	cursor, found, err := checkpoints.Get(context.Background(), symbol)
	if err != nil || !found {
		t.Fatalf("checkpoint not set: found=%v err=%v", found, err)
	}
	lastSessionBar := date.StartOfDay().Add(15*time.Hour + 59*time.Minute)
	if cursor != lastSessionBar.UnixNano() {
		t.Errorf("checkpoint = %d, want last session bar timestamp %d", cursor, lastSessionBar.UnixNano())
	}

	if completedEvt == nil {
		t.Fatal("expected IngestionJobCompleted to be published")
	}
}

// Scenario 2: a resumed ingest starts from max(requested_start, checkpoint+1),
// fetching only the remainder of the day.
func TestExecuteJob_ResumesFromCheckpoint(t *testing.T) {
	store, jobs, checkpoints, bus := newHarness(t)
	prov := fakeprovider.New(nil)

	date, _ := bar.NewTradingDate("2025-01-02")
	symbol := bar.MustSymbol("AAPL")

	// Minute 700 of the day is 11:40, mid-session.
	resumePoint := date.StartOfDay().Add(700 * time.Minute)
	// One nanosecond before the minute boundary so checkpoint+1 lands
	// exactly on it (NewOHLCVBar requires minute-aligned timestamps).
	if err := checkpoints.Set(context.Background(), symbol, resumePoint.UnixNano()-1); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	c := New(store, jobs, checkpoints, bus, prov, Config{MaxWorkers: 2}, nil)
	result, err := c.ExecuteJob(context.Background(), []bar.Symbol{symbol}, []bar.TradingDate{date})
	if err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}
	if len(result.Completed()) != 1 {
		t.Fatalf("got %d completed, want 1", len(result.Completed()))
	}

	// Session minutes remaining from 11:40 to the 16:00 close.
	want := 16*60 - 700
	if result.Results[0].BarCount != want {
		t.Errorf("bar count = %d, want %d (resumed from %s)", result.Results[0].BarCount, want, resumePoint.Time())
	}
}

// Scenario 5: concurrent symbols sharing one vendor's rate budget all
// complete independently.
func TestExecuteJob_ConcurrentSymbolsShareProvider(t *testing.T) {
	store, jobs, checkpoints, bus := newHarness(t)
	prov := fakeprovider.New(nil)

	date, _ := bar.NewTradingDate("2025-01-02")
	symbols := []bar.Symbol{bar.MustSymbol("AAPL"), bar.MustSymbol("MSFT"), bar.MustSymbol("GOOGL")}

	c := New(store, jobs, checkpoints, bus, prov, Config{MaxWorkers: 2}, nil)
	result, err := c.ExecuteJob(context.Background(), symbols, []bar.TradingDate{date})
	if err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}
	if len(result.Completed()) != len(symbols) {
		t.Fatalf("got %d completed, want %d", len(result.Completed()), len(symbols))
	}
	if prov.CallCount() != int64(len(symbols)) {
		t.Errorf("provider called %d times, want %d", prov.CallCount(), len(symbols))
	}
}

// Scenario 6: one symbol's persistent vendor failure does not prevent its
// siblings from completing.
func TestExecuteJob_FailedJobIsolated(t *testing.T) {
	store, jobs, checkpoints, bus := newHarness(t)
	prov := fakeprovider.New(nil)
	prov.FailPersistently("BADCO")

	var failedReason string
	bus.Subscribe(eventbus.TypeIngestionJobFailed, func(e eventbus.Event) {
		failedReason = e.(eventbus.IngestionJobFailed).Reason
	})

	date, _ := bar.NewTradingDate("2025-01-02")
	symbols := []bar.Symbol{bar.MustSymbol("AAPL"), bar.MustSymbol("BADCO")}

	c := New(store, jobs, checkpoints, bus, prov, Config{MaxWorkers: 2}, nil)
	result, err := c.ExecuteJob(context.Background(), symbols, []bar.TradingDate{date})
	if err != nil {
		t.Fatalf("ExecuteJob: %v", err)
	}
	if len(result.Completed()) != 1 {
		t.Fatalf("got %d completed, want 1", len(result.Completed()))
	}
	if len(result.Failed()) != 1 {
		t.Fatalf("got %d failed, want 1", len(result.Failed()))
	}
	if failedReason == "" {
		t.Error("expected IngestionJobFailed to carry a reason")
	}

	for _, jr := range result.Results {
		if jr.Symbol.String() == "AAPL" && jr.State != job.StateCompleted {
			t.Errorf("AAPL state = %s, want completed", jr.State)
		}
		if jr.Symbol.String() == "BADCO" && jr.State != job.StateFailed {
			t.Errorf("BADCO state = %s, want failed", jr.State)
		}
	}
}

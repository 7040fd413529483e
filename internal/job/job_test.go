package job

import (
	"testing"
	"time"

	"github.com/joeyda3rd/marketpipe/internal/bar"
)

func testRange(t *testing.T) bar.TimeRange {
	t.Helper()
	r, err := bar.NewTimeRange(bar.TimestampFromNanos(0), bar.TimestampFromNanos(bar.NanosPerMinute))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestJob_HappyPathTransitions(t *testing.T) {
	date, _ := bar.NewTradingDate("2025-01-02")
	j := New(bar.MustSymbol("AAPL"), date, testRange(t))

	if j.State != StatePending {
		t.Fatalf("new job state = %s, want pending", j.State)
	}
	if j.Version != 1 {
		t.Fatalf("new job version = %d, want 1", j.Version)
	}

	now := time.Now()
	if err := j.Start(now); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if j.Version != 2 {
		t.Fatalf("version after Start = %d, want 2", j.Version)
	}

	if err := j.Complete(now, 390); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if j.Version != 3 {
		t.Fatalf("version after Complete = %d, want 3", j.Version)
	}
	if j.BarCount != 390 {
		t.Fatalf("bar count = %d, want 390", j.BarCount)
	}
	if !j.IsTerminal() {
		t.Fatal("expected terminal state after Complete")
	}
}

func TestJob_IllegalTransitionsRaiseInvariantViolation(t *testing.T) {
	date, _ := bar.NewTradingDate("2025-01-02")

	j := New(bar.MustSymbol("AAPL"), date, testRange(t))
	if err := j.Complete(time.Now(), 10); err == nil {
		t.Fatal("expected completing a pending job to fail")
	}

	j2 := New(bar.MustSymbol("AAPL"), date, testRange(t))
	if err := j2.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := j2.Start(time.Now()); err == nil {
		t.Fatal("expected starting an already-in-progress job to fail")
	}

	j3 := New(bar.MustSymbol("AAPL"), date, testRange(t))
	if err := j3.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := j3.Fail(time.Now(), "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := j3.Start(time.Now()); err == nil {
		t.Fatal("expected restarting a failed job to fail")
	}
}

func TestJob_PendingCanFailDirectly(t *testing.T) {
	date, _ := bar.NewTradingDate("2025-01-02")
	j := New(bar.MustSymbol("AAPL"), date, testRange(t))
	if err := j.Fail(time.Now(), "cancelled"); err != nil {
		t.Fatalf("Fail from pending: %v", err)
	}
	if j.State != StateFailed {
		t.Fatalf("state = %s, want failed", j.State)
	}
}

func TestJob_VersionStrictlyIncreasesAcrossMutations(t *testing.T) {
	date, _ := bar.NewTradingDate("2025-01-02")
	j := New(bar.MustSymbol("MSFT"), date, testRange(t))
	versions := []int64{j.Version}

	if err := j.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	versions = append(versions, j.Version)
	if err := j.Complete(time.Now(), 1); err != nil {
		t.Fatal(err)
	}
	versions = append(versions, j.Version)

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("version did not strictly increase: %v", versions)
		}
	}
}

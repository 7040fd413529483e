package fakeprovider

import (
	"context"
	"testing"
	"time"

	"github.com/joeyda3rd/marketpipe/internal/bar"
)

func session(t *testing.T, date string) bar.TimeRange {
	t.Helper()
	d, err := bar.NewTradingDate(date)
	if err != nil {
		t.Fatal(err)
	}
	startTs := d.StartOfDay().Add(9*time.Hour + 30*time.Minute)
	endTs := startTs.Add(390 * time.Minute)
	r, err := bar.NewTimeRange(startTs, endTs)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestProvider_EmitsRegularSessionBars(t *testing.T) {
	p := New(nil)
	r := session(t, "2025-01-02")
	bars, err := p.FetchBars(context.Background(), bar.MustSymbol("AAPL"), r)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 390 {
		t.Fatalf("got %d bars, want 390", len(bars))
	}
}

func TestProvider_PersistentFailure(t *testing.T) {
	p := New(nil)
	p.FailPersistently("GOOGL")
	r := session(t, "2025-01-02")
	_, err := p.FetchBars(context.Background(), bar.MustSymbol("GOOGL"), r)
	if err == nil {
		t.Fatal("expected persistent failure error")
	}
}

func TestProvider_RowFaultSkipsOnlyThatBar(t *testing.T) {
	p := New(nil)
	p.InjectRowFault("AAPL", RowFault{MinuteOffset: 37, BadHighLow: true})
	r := session(t, "2025-01-02")
	bars, err := p.FetchBars(context.Background(), bar.MustSymbol("AAPL"), r)
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 389 {
		t.Fatalf("got %d bars, want 389 (one dropped)", len(bars))
	}
}

func TestProvider_RetryAfterThenSucceeds(t *testing.T) {
	p := New(nil)
	p.RetryAfter("AAPL", 2, 1)
	r := session(t, "2025-01-02")

	if _, err := p.FetchBars(context.Background(), bar.MustSymbol("AAPL"), r); err == nil {
		t.Fatal("expected first call to be rate-limited")
	}
	if _, err := p.FetchBars(context.Background(), bar.MustSymbol("AAPL"), r); err == nil {
		t.Fatal("expected second call to be rate-limited")
	}
	bars, err := p.FetchBars(context.Background(), bar.MustSymbol("AAPL"), r)
	if err != nil {
		t.Fatalf("expected third call to succeed, got %v", err)
	}
	if len(bars) != 390 {
		t.Fatalf("got %d bars, want 390", len(bars))
	}
}

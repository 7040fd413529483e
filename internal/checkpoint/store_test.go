package checkpoint

import (
	"context"
	"testing"

	"github.com/joeyda3rd/marketpipe/internal/bar"
)

func TestMemoryStore_GetMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, found, err := s.Get(context.Background(), bar.MustSymbol("AAPL"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected no checkpoint for an unseen symbol")
	}
}

func TestMemoryStore_SetThenGetRoundTrips(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sym := bar.MustSymbol("AAPL")

	if err := s.Set(ctx, sym, 1000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	cursor, found, err := s.Get(ctx, sym)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || cursor != 1000 {
		t.Fatalf("Get = (%d, %v), want (1000, true)", cursor, found)
	}
}

func TestMemoryStore_SetIsLastWriterWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sym := bar.MustSymbol("AAPL")

	_ = s.Set(ctx, sym, 1000)
	_ = s.Set(ctx, sym, 500) // an "earlier" overwrite is still accepted
	cursor, _, _ := s.Get(ctx, sym)
	if cursor != 500 {
		t.Fatalf("expected last-writer-wins semantics, got cursor=%d", cursor)
	}
}

func TestMemoryStore_Clear(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sym := bar.MustSymbol("AAPL")

	_ = s.Set(ctx, sym, 1000)
	if err := s.Clear(ctx, sym); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_, found, _ := s.Get(ctx, sym)
	if found {
		t.Fatal("expected checkpoint to be gone after Clear")
	}
}

// Effective start is max(requested, checkpoint+1), so a resumed run can
// never move backwards past already-persisted bars.
func TestEffectiveStart_UsesCheckpointWhenAhead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sym := bar.MustSymbol("AAPL")
	_ = s.Set(ctx, sym, 5000)

	start, err := EffectiveStart(ctx, s, sym, 1000)
	if err != nil {
		t.Fatalf("EffectiveStart: %v", err)
	}
	if start != 5001 {
		t.Fatalf("EffectiveStart = %d, want 5001", start)
	}
}

func TestEffectiveStart_UsesRequestedWhenAhead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sym := bar.MustSymbol("AAPL")
	_ = s.Set(ctx, sym, 100)

	start, err := EffectiveStart(ctx, s, sym, 5000)
	if err != nil {
		t.Fatalf("EffectiveStart: %v", err)
	}
	if start != 5000 {
		t.Fatalf("EffectiveStart = %d, want 5000", start)
	}
}

func TestEffectiveStart_NoCheckpointUsesRequested(t *testing.T) {
	s := NewMemoryStore()
	start, err := EffectiveStart(context.Background(), s, bar.MustSymbol("AAPL"), 42)
	if err != nil {
		t.Fatalf("EffectiveStart: %v", err)
	}
	if start != 42 {
		t.Fatalf("EffectiveStart = %d, want 42", start)
	}
}

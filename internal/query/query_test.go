package query

import (
	"context"
	"strings"
	"testing"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/storage"
)

func testBar(t *testing.T, symbol string, day string, minute int64, close string) bar.OHLCVBar {
	t.Helper()
	date, err := bar.NewTradingDate(day)
	if err != nil {
		t.Fatal(err)
	}
	ts := bar.TimestampFromNanos(date.StartOfDay().UnixNano() + minute*bar.NanosPerMinute)
	open, err := bar.NewPriceFromString("100.0000", false)
	if err != nil {
		t.Fatal(err)
	}
	c, err := bar.NewPriceFromString(close, false)
	if err != nil {
		t.Fatal(err)
	}
	vol, err := bar.NewVolume(500)
	if err != nil {
		t.Fatal(err)
	}
	b, err := bar.NewOHLCVBar(bar.NewBarParams{
		Symbol:    bar.MustSymbol(symbol),
		Timestamp: ts,
		Open:      open,
		High:      bar.MaxPrice(open, c),
		Low:       bar.MinPrice(open, c),
		Close:     c,
		Volume:    vol,
		Source:    "test",
		Frame:     bar.Frame1m,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func writeDay(t *testing.T, eng *storage.Engine, symbol, day string, bars []bar.OHLCVBar) {
	t.Helper()
	date, err := bar.NewTradingDate(day)
	if err != nil {
		t.Fatal(err)
	}
	key := storage.PartitionKey{Frame: bar.Frame1m, Symbol: bar.MustSymbol(symbol), Date: date}
	if _, err := eng.Write(context.Background(), key, symbol+"_"+day, bars); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func rangeOverDays(t *testing.T, first, last string) bar.TimeRange {
	t.Helper()
	start, err := bar.NewTradingDate(first)
	if err != nil {
		t.Fatal(err)
	}
	end, err := bar.NewTradingDate(last)
	if err != nil {
		t.Fatal(err)
	}
	r, err := bar.NewTimeRange(start.StartOfDay(), end.EndOfDay())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestLoad_StreamsAcrossDaysInTimestampOrder(t *testing.T) {
	eng, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	writeDay(t, eng, "AAPL", "2025-01-02", []bar.OHLCVBar{
		testBar(t, "AAPL", "2025-01-02", 570, "101.0000"),
		testBar(t, "AAPL", "2025-01-02", 571, "102.0000"),
	})
	writeDay(t, eng, "AAPL", "2025-01-03", []bar.OHLCVBar{
		testBar(t, "AAPL", "2025-01-03", 570, "103.0000"),
	})

	svc := New(eng, nil)
	rows := svc.Load(context.Background(), bar.Frame1m, bar.MustSymbol("AAPL"), rangeOverDays(t, "2025-01-02", "2025-01-03"))

	var got []bar.OHLCVBar
	for rows.Next() {
		got = append(got, rows.Bar())
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("streamed %d bars, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Timestamp().Before(got[i].Timestamp()) {
			t.Fatalf("bars out of order at %d", i)
		}
	}
}

func TestLoad_EmptyRangeYieldsNoRowsNoError(t *testing.T) {
	eng, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := New(eng, nil)
	rows := svc.Load(context.Background(), bar.Frame1m, bar.MustSymbol("MSFT"), rangeOverDays(t, "2025-01-02", "2025-01-02"))
	if rows.Next() {
		t.Fatal("Next returned true for an empty partition")
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
}

func TestLoad_HonorsRangeBoundsWithinDay(t *testing.T) {
	eng, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	writeDay(t, eng, "AAPL", "2025-01-02", []bar.OHLCVBar{
		testBar(t, "AAPL", "2025-01-02", 570, "101.0000"),
		testBar(t, "AAPL", "2025-01-02", 580, "102.0000"),
		testBar(t, "AAPL", "2025-01-02", 590, "103.0000"),
	})
	date, err := bar.NewTradingDate("2025-01-02")
	if err != nil {
		t.Fatal(err)
	}
	lo := bar.TimestampFromNanos(date.StartOfDay().UnixNano() + 575*bar.NanosPerMinute)
	hi := bar.TimestampFromNanos(date.StartOfDay().UnixNano() + 585*bar.NanosPerMinute)
	r, err := bar.NewTimeRange(lo, hi)
	if err != nil {
		t.Fatal(err)
	}

	svc := New(eng, nil)
	rows := svc.Load(context.Background(), bar.Frame1m, bar.MustSymbol("AAPL"), r)
	var count int
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if count != 1 {
		t.Fatalf("streamed %d bars, want 1 (only minute 580 inside [575, 585))", count)
	}
}

type fakeRegistrar struct {
	views []ViewDef
}

func (f *fakeRegistrar) RegisterView(_ context.Context, v ViewDef) error {
	for i, existing := range f.views {
		if existing.Name == v.Name {
			f.views[i] = v
			return nil
		}
	}
	f.views = append(f.views, v)
	return nil
}

func TestRegisterViews_OnePerFrameAndRefreshable(t *testing.T) {
	eng, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := New(eng, nil)
	reg := &fakeRegistrar{}

	if err := svc.RegisterViews(context.Background(), reg); err != nil {
		t.Fatalf("RegisterViews: %v", err)
	}
	if len(reg.views) != len(bar.AllFrames) {
		t.Fatalf("registered %d views, want %d", len(reg.views), len(bar.AllFrames))
	}
	for _, v := range reg.views {
		if !strings.Contains(v.PathGlob, "frame="+string(v.Frame)) {
			t.Fatalf("view %s glob %q missing frame segment", v.Name, v.PathGlob)
		}
		if !strings.HasSuffix(v.PathGlob, "*.parquet") {
			t.Fatalf("view %s glob %q does not target parquet files", v.Name, v.PathGlob)
		}
	}

	// A second call refreshes in place instead of duplicating.
	if err := svc.RegisterViews(context.Background(), reg); err != nil {
		t.Fatalf("RegisterViews refresh: %v", err)
	}
	if len(reg.views) != len(bar.AllFrames) {
		t.Fatalf("refresh duplicated views: %d", len(reg.views))
	}
}

func TestStats_CountsPartitionsAndFiles(t *testing.T) {
	eng, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	writeDay(t, eng, "AAPL", "2025-01-02", []bar.OHLCVBar{testBar(t, "AAPL", "2025-01-02", 570, "101.0000")})
	writeDay(t, eng, "MSFT", "2025-01-02", []bar.OHLCVBar{testBar(t, "MSFT", "2025-01-02", 570, "201.0000")})

	svc := New(eng, nil)
	stats, err := svc.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Partitions != 2 || stats.Files != 2 {
		t.Fatalf("stats = %+v, want 2 partitions / 2 files", stats)
	}
	if stats.Bytes == 0 {
		t.Fatal("stats reported zero bytes for non-empty files")
	}

	keys, err := svc.Partitions()
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Partitions returned %d keys, want 2", len(keys))
	}
}

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/joeyda3rd/marketpipe/internal/bar"
	"github.com/joeyda3rd/marketpipe/internal/ratelimit"
)

// wireRow is the test adapter's wire shape: RawBar plus an optional
// deliberately-malformed Open to exercise the normalization-skip path.
type wireRow struct {
	TimestampNanos int64   `json:"ts"`
	Open           string  `json:"open"`
	High           string  `json:"high"`
	Low            string  `json:"low"`
	Close          string  `json:"close"`
	Volume         int64   `json:"volume"`
	TradeCount     *int64  `json:"trade_count,omitempty"`
	VWAP           *string `json:"vwap,omitempty"`
}

type wirePage struct {
	Rows []wireRow `json:"rows"`
	Next string    `json:"next"`
}

// testAdapter is a minimal VendorAdapter backed by an httptest server,
// used to exercise BaselineClient's pagination, retry, and normalization
// behavior without a real vendor.
type testAdapter struct {
	baseURL     string
	shouldRetry bool
}

func (a *testAdapter) Name() string    { return "testvendor" }
func (a *testAdapter) BaseURL() string { return a.baseURL }

func (a *testAdapter) EndpointPath(symbol bar.Symbol) string { return "/bars" }

func (a *testAdapter) Authenticate(req AuthCarrier) {}

func (a *testAdapter) BuildRequestParams(_ bar.Symbol, _, _ int64, cursor string) map[string]string {
	if cursor == "" {
		return nil
	}
	return map[string]string{"cursor": cursor}
}

func (a *testAdapter) ParseResponse(body []byte) ([]RawBar, error) {
	var page wirePage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	out := make([]RawBar, 0, len(page.Rows))
	for _, row := range page.Rows {
		out = append(out, RawBar{
			TimestampNanos: row.TimestampNanos,
			Open:           row.Open,
			High:           row.High,
			Low:            row.Low,
			Close:          row.Close,
			Volume:         row.Volume,
			TradeCount:     row.TradeCount,
			VWAP:           row.VWAP,
		})
	}
	return out, nil
}

func (a *testAdapter) NextCursor(body []byte) (string, bool) {
	var page wirePage
	if err := json.Unmarshal(body, &page); err != nil {
		return "", false
	}
	if page.Next == "" {
		return "", false
	}
	return page.Next, true
}

func (a *testAdapter) ShouldRetry(statusCode int, body []byte) bool { return a.shouldRetry }

func (a *testAdapter) SupportedTimeframes() []bar.Frame { return bar.AllFrames }

func (a *testAdapter) RateLimitHint() RateLimitHint {
	return RateLimitHint{Capacity: 100, RefillRate: 1000}
}

func testRange(t *testing.T) bar.TimeRange {
	t.Helper()
	start := bar.TimestampFromNanos(0)
	end := bar.TimestampFromNanos(int64(time1hNanos))
	r, err := bar.NewTimeRange(start, end)
	if err != nil {
		t.Fatalf("NewTimeRange: %v", err)
	}
	return r
}

const time1hNanos = 3600_000_000_000

func minuteRow(minute int64, open string) wireRow {
	return wireRow{
		TimestampNanos: minute * 60_000_000_000,
		Open:           open,
		High:           open,
		Low:            open,
		Close:          open,
		Volume:         100,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*BaselineClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	adapter := &testAdapter{baseURL: srv.URL}
	limiter := ratelimit.New("testvendor", 100, 1000, nil, nil)
	log := logrus.NewEntry(logrus.StandardLogger())
	return NewBaselineClient(adapter, limiter, log), srv
}

func TestBaselineClient_FollowsCursorAcrossPages(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(wirePage{
				Rows: []wireRow{minuteRow(0, "1"), minuteRow(1, "2")},
				Next: "page2",
			})
			return
		}
		json.NewEncoder(w).Encode(wirePage{
			Rows: []wireRow{minuteRow(2, "3"), minuteRow(3, "4")},
		})
	})

	bars, err := client.FetchBars(context.Background(), bar.MustSymbol("AAPL"), testRange(t))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 4 {
		t.Fatalf("got %d bars, want 4", len(bars))
	}
	for i, b := range bars {
		if b.Timestamp().UnixNano() != int64(i)*60_000_000_000 {
			t.Errorf("bar %d: timestamp out of order", i)
		}
	}
}

// An empty page with a live cursor must not end pagination early; some
// vendors emit gap pages mid-stream.
func TestBaselineClient_EmptyPageWithCursorDoesNotTerminate(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Query().Get("cursor") {
		case "":
			json.NewEncoder(w).Encode(wirePage{Next: "page2"})
		case "page2":
			json.NewEncoder(w).Encode(wirePage{Rows: []wireRow{minuteRow(0, "1"), minuteRow(1, "2")}})
		}
	})

	bars, err := client.FetchBars(context.Background(), bar.MustSymbol("AAPL"), testRange(t))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2 (populated page after the empty one)", len(bars))
	}
}

func TestBaselineClient_SkipsRowsThatFailNormalization(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(wirePage{
			Rows: []wireRow{
				minuteRow(0, "1"),
				{TimestampNanos: 60_000_000_000, Open: "not-a-price", High: "1", Low: "1", Close: "1", Volume: 100},
				minuteRow(2, "3"),
			},
		})
	})

	bars, err := client.FetchBars(context.Background(), bar.MustSymbol("AAPL"), testRange(t))
	if err != nil {
		t.Fatalf("FetchBars returned an error instead of skipping the bad row: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2 (one dropped, two kept)", len(bars))
	}
}

func TestBaselineClient_RetriesTransientStatusThenSucceeds(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(wirePage{Rows: []wireRow{minuteRow(0, "1")}})
	})

	bars, err := client.FetchBars(context.Background(), bar.MustSymbol("AAPL"), testRange(t))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	if attempts < 2 {
		t.Fatalf("got %d attempts, want at least 2", attempts)
	}
}

func TestBaselineClient_NonRetryableStatusFailsFast(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if _, err := client.FetchBars(context.Background(), bar.MustSymbol("AAPL"), testRange(t)); err == nil {
		t.Fatal("expected a non-retryable 401 to surface as an error")
	}
}

func TestBaselineClient_RetriesAfter429WithRetryAfterHeader(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(wirePage{Rows: []wireRow{minuteRow(0, "1")}})
	})

	bars, err := client.FetchBars(context.Background(), bar.MustSymbol("AAPL"), testRange(t))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
}

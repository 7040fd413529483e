package bar

import "testing"

func mustPrice(t *testing.T, s string) Price {
	t.Helper()
	p, err := NewPriceFromString(s, false)
	if err != nil {
		t.Fatalf("NewPriceFromString(%q): %v", s, err)
	}
	return p
}

func validParams(t *testing.T) NewBarParams {
	t.Helper()
	v, _ := NewVolume(1000)
	return NewBarParams{
		Symbol:    MustSymbol("AAPL"),
		Timestamp: TimestampFromNanos(60 * NanosPerMinute),
		Open:      mustPrice(t, "100.00"),
		High:      mustPrice(t, "101.00"),
		Low:       mustPrice(t, "99.50"),
		Close:     mustPrice(t, "100.50"),
		Volume:    v,
		Source:    "faketest",
		Frame:     Frame1m,
	}
}

func TestNewOHLCVBar_Valid(t *testing.T) {
	b, err := NewOHLCVBar(validParams(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Symbol().String() != "AAPL" {
		t.Errorf("symbol = %s, want AAPL", b.Symbol())
	}
	if b.Session() != SessionRegular {
		t.Errorf("default session = %s, want regular", b.Session())
	}
	if b.Status() != StatusOK {
		t.Errorf("default status = %s, want ok", b.Status())
	}
}

func TestNewOHLCVBar_RejectsHighBelowOpen(t *testing.T) {
	p := validParams(t)
	p.High = mustPrice(t, "99.00") // below open=100
	if _, err := NewOHLCVBar(p); err == nil {
		t.Fatal("expected ohlc_consistency violation, got nil")
	}
}

func TestNewOHLCVBar_RejectsLowAboveClose(t *testing.T) {
	p := validParams(t)
	p.Low = mustPrice(t, "100.55") // above close=100.50 while still below open and high
	p.Open = mustPrice(t, "100.60")
	p.High = mustPrice(t, "101.00")
	if _, err := NewOHLCVBar(p); err == nil {
		t.Fatal("expected ohlc_consistency violation, got nil")
	}
}

func TestNewOHLCVBar_RejectsMisalignedTimestamp(t *testing.T) {
	p := validParams(t)
	p.Timestamp = TimestampFromNanos(60*NanosPerMinute + 1)
	if _, err := NewOHLCVBar(p); err == nil {
		t.Fatal("expected timestamp_alignment violation, got nil")
	}
}

func TestNewOHLCVBar_RejectsNegativeTradeCount(t *testing.T) {
	p := validParams(t)
	neg := int64(-1)
	p.TradeCount = &neg
	if _, err := NewOHLCVBar(p); err == nil {
		t.Fatal("expected nonnegative trade_count violation, got nil")
	}
}

func TestNewOHLCVBar_RejectsMissingSource(t *testing.T) {
	p := validParams(t)
	p.Source = ""
	if _, err := NewOHLCVBar(p); err == nil {
		t.Fatal("expected required source violation, got nil")
	}
}

func TestOHLCVBar_DedupKeyIgnoresIdentity(t *testing.T) {
	a, err := NewOHLCVBar(validParams(t))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewOHLCVBar(validParams(t))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() == b.ID() {
		t.Fatal("expected distinct identities for two constructions")
	}
	if a.DedupKey() != b.DedupKey() {
		t.Fatal("expected equal dedup keys for equal (symbol, timestamp)")
	}
}
